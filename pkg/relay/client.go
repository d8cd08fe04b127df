// Package relay is the client of the remote reactive data store. It consumes
// materialized snapshots of the user and message tables and exposes the two
// remote operations the orchestration core needs: send message and set name.
package relay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

const defaultAckTimeout = 5 * time.Second

// Config configures one relay connection. Callbacks run on the reader
// goroutine and must not block.
type Config struct {
	// URI is the server base, e.g. "ws://127.0.0.1:3000".
	URI string
	// Module selects the room module to subscribe to.
	Module string

	OnConnect    func(conn *Client, identity string)
	OnDisconnect func(conn *Client, err error)
	OnSnapshot   func(users []UserRow, messages []MessageRow)

	AckTimeout time.Duration
	Logger     zerolog.Logger
}

// Client is one live connection to the relay server.
type Client struct {
	cfg  Config
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	pendMu  sync.Mutex
	pending map[string]chan frame

	idMu     sync.Mutex
	identity string

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects, starts the reader goroutine, and returns the client. The
// server assigns the connection identity asynchronously; OnConnect fires
// when it arrives.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}

	target, err := url.Parse(strings.TrimRight(cfg.URI, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("bad relay uri: %w", err)
	}
	query := target.Query()
	query.Set("module", cfg.Module)
	query.Set("session", uuid.NewString())
	target.RawQuery = query.Encode()

	conn, _, err := websocket.Dial(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial failed: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		log:     cfg.Logger.With().Str("component", "relay").Str("module", cfg.Module).Logger(),
		pending: make(map[string]chan frame),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Identity returns the server-assigned connection identity, or "" before
// the handshake completes.
func (c *Client) Identity() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.identity
}

// SendMessage publishes a chat message as this connection.
func (c *Client) SendMessage(text string) error {
	return c.call(frame{Type: frameSendMessage, Text: text})
}

// SetName sets this connection's display name.
func (c *Client) SetName(name string) error {
	return c.call(frame{Type: frameSetName, Name: name})
}

// Close tears the connection down. OnDisconnect fires exactly once, whether
// the close is local or remote.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "client closing")
	<-c.done
	return err
}

func (c *Client) call(req frame) error {
	req.ID = xid.New().String()

	ackCh := make(chan frame, 1)
	c.pendMu.Lock()
	c.pending[req.ID] = ackCh
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, req.ID)
		c.pendMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AckTimeout)
	defer cancel()

	c.writeMu.Lock()
	err := wsjson.Write(ctx, c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("relay write failed: %w", err)
	}

	select {
	case ack := <-ackCh:
		if !ack.OK {
			return fmt.Errorf("relay %s rejected: %s", req.Type, ack.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay %s timed out waiting for ack", req.Type)
	case <-c.done:
		return fmt.Errorf("relay connection closed")
	}
}

func (c *Client) readLoop() {
	var readErr error
	for {
		var f frame
		if err := wsjson.Read(context.Background(), c.conn, &f); err != nil {
			readErr = err
			break
		}

		switch f.Type {
		case frameIdentity:
			c.idMu.Lock()
			c.identity = f.Identity
			c.idMu.Unlock()
			c.log.Debug().Str("identity", f.Identity).Msg("Connected to relay")
			if c.cfg.OnConnect != nil {
				c.cfg.OnConnect(c, f.Identity)
			}
		case frameSnapshot:
			if c.cfg.OnSnapshot != nil {
				c.cfg.OnSnapshot(f.Users, f.Messages)
			}
		case frameAck:
			c.pendMu.Lock()
			ackCh := c.pending[f.ID]
			c.pendMu.Unlock()
			if ackCh != nil {
				ackCh <- f
			}
		default:
			c.log.Warn().Str("type", f.Type).Msg("Unknown relay frame")
		}
	}

	c.closeOnce.Do(func() {
		close(c.done)
		if websocket.CloseStatus(readErr) == websocket.StatusNormalClosure {
			readErr = nil
		}
		c.log.Debug().Err(readErr).Msg("Relay connection closed")
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(c, readErr)
		}
	})
}
