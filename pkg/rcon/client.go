// Package rcon talks to the game server's remote console. Every call opens a
// connection, authenticates, runs one command and closes.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gorcon/rcon"
)

var (
	// ErrUnreachable is returned when the console cannot be dialed or rejects
	// the password.
	ErrUnreachable = errors.New("rcon unreachable")
	// ErrPresenceUnknown marks a presence snapshot whose query failed.
	ErrPresenceUnknown = errors.New("presence unknown")
	// ErrInvalidCommand rejects empty or multi-line commands.
	ErrInvalidCommand = errors.New("invalid command")
)

// DefaultTimeout bounds dial and command round trip when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Conn is an authenticated console connection.
type Conn interface {
	Execute(command string) (string, error)
	Close() error
}

// DialFunc opens an authenticated connection.
type DialFunc func(addr, password string, timeout time.Duration) (Conn, error)

func dialGorcon(addr, password string, timeout time.Duration) (Conn, error) {
	return rcon.Dial(addr, password, rcon.SetDialTimeout(timeout), rcon.SetDeadline(timeout))
}

// Config identifies the console endpoint.
type Config struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

// Client is the session protocol client.
type Client struct {
	addr     string
	password string
	timeout  time.Duration
	dial     DialFunc
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the network dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		password: cfg.Password,
		timeout:  timeout,
		dial:     dialGorcon,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns host:port.
func (c *Client) Addr() string {
	return c.addr
}

// SendCommand runs a raw console command and returns its output.
func (c *Client) SendCommand(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(command), "/"))
	if command == "" || strings.ContainsAny(command, "\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}
	return c.exec(ctx, command)
}

// Say broadcasts a chat message as the server.
func (c *Client) Say(ctx context.Context, message string) (string, error) {
	return c.SendCommand(ctx, "say "+message)
}

// Tell whispers a message to one player.
func (c *Client) Tell(ctx context.Context, target, message string) (string, error) {
	if strings.TrimSpace(target) == "" || strings.ContainsAny(target, " \t") {
		return "", fmt.Errorf("%w: bad target %q", ErrInvalidCommand, target)
	}
	return c.SendCommand(ctx, "tell "+target+" "+message)
}

// SaveAll asks the server to flush the world to disk.
func (c *Client) SaveAll(ctx context.Context) error {
	_, err := c.exec(ctx, "save-all flush")
	return err
}

func (c *Client) exec(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := c.dial(c.addr, c.password, timeout)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreachable, c.addr, err)
	}
	defer conn.Close()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := conn.Execute(command)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("rcon command %q failed: %w", firstWord(command), r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		conn.Close()
		return "", ctx.Err()
	}
}

// firstWord keeps message bodies out of error strings.
func firstWord(command string) string {
	if i := strings.IndexByte(command, ' '); i > 0 {
		return command[:i]
	}
	return command
}
