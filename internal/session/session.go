// Package session keeps a Redis record of every live WebSocket connection:
// which user it belongs to, which server instance holds it, and when it was
// last seen. Records expire on their own if a server dies without cleanup.
package session
