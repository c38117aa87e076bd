// Package wsheads streams newHeads notifications over a websocket.
package wsheads

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/convbot/internal/domain"
)

const (
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the node.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Subscriber implements domain.HeadSubscription.
type Subscriber struct {
	url    string
	dialer websocket.Dialer
}

var _ domain.HeadSubscription = (*Subscriber)(nil)

// New creates a Subscriber for a ws:// or wss:// endpoint.
func New(url string) *Subscriber {
	return &Subscriber{
		url:    url,
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Open dials the node, subscribes to newHeads and waits for the
// subscription id.
func (s *Subscriber) Open(ctx context.Context) (domain.HeadStream, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsheads: dial: %w", err)
	}

	subID, err := subscribe(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	st := &Stream{
		conn:   conn,
		subID:  subID,
		events: make(chan event, 16),
		done:   make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go st.readLoop()
	go st.pingLoop()
	return st, nil
}

func subscribe(conn *websocket.Conn) (string, error) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}}
	if err := conn.WriteJSON(req); err != nil {
		return "", fmt.Errorf("wsheads: send subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var resp rpcResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return "", fmt.Errorf("wsheads: read subscribe response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("wsheads: subscribe rejected: %d %s", resp.Error.Code, resp.Error.Message)
	}
	var id string
	if err := json.Unmarshal(resp.Result, &id); err != nil {
		return "", fmt.Errorf("wsheads: subscription id: %w", err)
	}
	return id, nil
}

type event struct {
	raw []byte
	err error
}

// Stream is one live subscription. A dedicated goroutine owns all reads so a
// receive timeout leaves the connection intact.
type Stream struct {
	conn      *websocket.Conn
	subID     string
	events    chan event
	done      chan struct{}
	closeOnce sync.Once
}

// SubscriptionID returns the id the node assigned.
func (s *Stream) SubscriptionID() string { return s.subID }

// Recv returns the next message, domain.ErrReceiveTimeout after timeout, or
// the error that broke the connection.
func (s *Stream) Recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, domain.ErrStreamClosed
		}
		return ev.raw, ev.err
	case <-t.C:
		return nil, domain.ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, domain.ErrStreamClosed
	}
}

// Close stops the goroutines and closes the connection.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.events <- event{err: fmt.Errorf("wsheads: read: %w: %v", domain.ErrStreamClosed, err)}:
			case <-s.done:
			}
			return
		}
		select {
		case s.events <- event{raw: data}:
		case <-s.done:
			return
		}
	}
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
