// Command chatclient is a terminal client for the chat server.
//
// Lines typed at the prompt are sent to the open conversation. Commands:
//
//	/users          list everyone else and their presence
//	/open <name>    open the conversation with a user
//	/online         list online user ids
//	/quit           close the connection and exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/client"
	"github.com/chatly/chat-app/internal/logging"
	"github.com/chatly/chat-app/internal/users"
)

func main() {
	cfg := client.DefaultConfig()
	var (
		username = flag.String("user", "", "username")
		password = flag.String("password", os.Getenv("CHAT_PASSWORD"), "password (or CHAT_PASSWORD)")
		email    = flag.String("email", "", "email; when set, sign up instead of logging in")
		logLevel = flag.String("log-level", "warn", "log level")
	)
	flag.StringVar(&cfg.BaseURL, "server", cfg.BaseURL, "server base URL")
	flag.Parse()

	logger, err := logging.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: chatclient -user NAME -password PASS [-email ADDR] [-server URL]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg, logger)
	if *email != "" {
		_, err = c.Signup(ctx, client.SignupRequest{Username: *username, Email: *email, Password: *password})
	} else {
		_, err = c.Login(ctx, *username, *password)
	}
	if err != nil {
		logger.Fatal("authentication failed", zap.Error(err))
	}

	t := newTerminal(c, os.Stdout)
	if err := c.Connect(ctx); err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}
	defer func() { _ = c.Close() }()

	t.printf("signed in as %s; /users to list people, /open NAME to chat\n", c.Self().Username)
	if err := t.run(ctx, os.Stdin); err != nil && err != io.EOF {
		logger.Error("terminal stopped", zap.Error(err))
	}
}

// terminal renders client callbacks and executes typed commands.
type terminal struct {
	c   *client.Client
	out io.Writer

	mu      sync.Mutex
	names   map[string]string // user id -> username
	printed map[string]struct{}
}

func newTerminal(c *client.Client, out io.Writer) *terminal {
	t := &terminal{
		c:       c,
		out:     out,
		names:   make(map[string]string),
		printed: make(map[string]struct{}),
	}
	c.OnMessages(t.showMessages)
	c.OnPresence(func(online []string) {
		t.printf("* %d online\n", len(online))
	})
	c.OnStateChange(func(ev client.StateEvent) {
		t.printf("* %s\n", ev.NewState)
	})
	c.OnError(func(err error) {
		t.printf("! %v\n", err)
	})
	return t
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// showMessages prints messages of the snapshot not printed yet. An empty
// snapshot marks a conversation switch.
func (t *terminal) showMessages(msgs []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(msgs) == 0 {
		t.printed = make(map[string]struct{})
		return
	}
	self := t.c.Self().ID
	for _, m := range msgs {
		if _, ok := t.printed[m.ID]; ok {
			continue
		}
		t.printed[m.ID] = struct{}{}
		from := t.names[m.SenderID]
		if m.SenderID == self {
			from = "you"
		} else if from == "" {
			from = m.SenderID
		}
		body := m.Text
		if m.ImageURL != "" {
			body = strings.TrimSpace(body + " [image " + m.ImageURL + "]")
		}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), from, body)
	}
}

func (t *terminal) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		quit, err := t.exec(ctx, strings.TrimSpace(sc.Text()))
		if err != nil {
			t.printf("! %v\n", err)
		}
		if quit {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (t *terminal) exec(ctx context.Context, line string) (quit bool, err error) {
	if line == "" {
		return false, nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		return true, nil
	case "/users":
		list, err := t.refreshUsers(ctx)
		if err != nil {
			return false, err
		}
		for _, u := range list {
			mark := " "
			if t.c.IsOnline(u.ID) {
				mark = "*"
			}
			t.printf("%s %s\n", mark, u.Username)
		}
		return false, nil
	case "/online":
		t.printf("%s\n", strings.Join(t.c.Online(), " "))
		return false, nil
	case "/open":
		id, err := t.lookup(ctx, arg)
		if err != nil {
			return false, err
		}
		t.printf("--- %s ---\n", arg)
		return false, t.c.SelectCounterpart(ctx, id)
	}
	if strings.HasPrefix(cmd, "/") {
		return false, fmt.Errorf("unknown command %s", cmd)
	}
	_, err = t.c.Send(ctx, line, "")
	return false, err
}

func (t *terminal) refreshUsers(ctx context.Context) ([]users.User, error) {
	list, err := t.c.Users(ctx)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	for _, u := range list {
		t.names[u.ID] = u.Username
	}
	t.mu.Unlock()
	return list, nil
}

func (t *terminal) lookup(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("usage: /open NAME")
	}
	list, err := t.refreshUsers(ctx)
	if err != nil {
		return "", err
	}
	for _, u := range list {
		if strings.EqualFold(u.Username, username) {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("no user named %q", username)
}
