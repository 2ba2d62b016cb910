package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/users"
)

// SignupRequest carries the fields of an account registration.
type SignupRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	ProfilePic string `json:"profile_pic,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sendRequest struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type profileRequest struct {
	ProfilePic string `json:"profile_pic"`
}

type authResponse struct {
	users.User
	Token string `json:"token"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// restClient talks to the /api routes.
type restClient struct {
	baseURL    string
	httpClient *http.Client
}

func newRESTClient(baseURL string, timeout time.Duration) *restClient {
	return &restClient{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *restClient) signup(ctx context.Context, req SignupRequest) (authResponse, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/auth/signup", "", req, &resp)
	return resp, err
}

func (c *restClient) login(ctx context.Context, username, password string) (authResponse, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{Username: username, Password: password}, &resp)
	return resp, err
}

func (c *restClient) logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

func (c *restClient) check(ctx context.Context, token string) (users.User, error) {
	var u users.User
	err := c.do(ctx, http.MethodGet, "/auth/check", token, nil, &u)
	return u, err
}

func (c *restClient) updateProfile(ctx context.Context, token, profilePic string) (users.User, error) {
	var u users.User
	err := c.do(ctx, http.MethodPut, "/auth/update-profile", token, profileRequest{ProfilePic: profilePic}, &u)
	return u, err
}

func (c *restClient) users(ctx context.Context, token string) ([]users.User, error) {
	var list []users.User
	err := c.do(ctx, http.MethodGet, "/messages/users", token, nil, &list)
	return list, err
}

func (c *restClient) history(ctx context.Context, token, other string) ([]chat.Message, error) {
	var msgs []chat.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(other), token, nil, &msgs)
	return msgs, err
}

func (c *restClient) send(ctx context.Context, token, receiver, text, image string) (chat.Message, error) {
	var msg chat.Message
	err := c.do(ctx, http.MethodPost, "/messages/send/"+url.PathEscape(receiver), token,
		sendRequest{Text: text, Image: image}, &msg)
	return msg, err
}

func (c *restClient) do(ctx context.Context, method, path, token string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
			return &APIError{Status: resp.StatusCode, Message: errResp.Message}
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("client: unmarshal response: %w", err)
		}
	}
	return nil
}
