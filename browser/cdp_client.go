package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrClientClosed is returned for every command issued or pending once the
// connection is gone. When the browser hung up, the read error is wrapped
// alongside it.
var ErrClientClosed = errors.New("cdp client closed")

// CDPError is an error object returned by the browser for a failed command.
type CDPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *CDPError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

type request struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// message is either a command response (ID set) or an event (Method set).
type message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *CDPError       `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type CDPEvent struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

type EventHandler func(event CDPEvent)

// CDPClient speaks the DevTools JSON-RPC protocol over one websocket.
// Handlers run on a single dispatch goroutine in arrival order, so they may
// issue commands of their own but must not block on later events.
type CDPClient struct {
	url     string
	headers http.Header
	logger  logrus.FieldLogger
	conn    *websocket.Conn
	nextID  atomic.Int64
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan message
	handlers map[string][]EventHandler
	queue    []CDPEvent
	cause    error

	wake       chan struct{}
	closed     chan struct{}
	readDone   chan struct{}
	dispatched chan struct{}
}

func NewCDPClient(url string, headers http.Header, logger logrus.FieldLogger) *CDPClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CDPClient{
		url:        url,
		headers:    headers,
		logger:     logger.WithField("component", "cdp"),
		pending:    make(map[int64]chan message),
		handlers:   make(map[string][]EventHandler),
		wake:       make(chan struct{}, 1),
		closed:     make(chan struct{}),
		readDone:   make(chan struct{}),
		dispatched: make(chan struct{}),
	}
}

func (c *CDPClient) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	go c.readLoop()
	go c.dispatchLoop()
	return nil
}

// Stop closes the connection and waits for both background goroutines.
func (c *CDPClient) Stop() error {
	err := c.shutdown(nil)
	if c.conn != nil {
		<-c.readDone
		<-c.dispatched
	}
	return err
}

// Err reports why the client stopped, or nil while it is running.
func (c *CDPClient) Err() error {
	select {
	case <-c.closed:
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cause != nil {
		return fmt.Errorf("%w: %v", ErrClientClosed, c.cause)
	}
	return ErrClientClosed
}

func (c *CDPClient) shutdown(cause error) error {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil
	default:
	}
	c.cause = cause
	close(c.closed)
	c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *CDPClient) Register(method string, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = append(c.handlers[method], handler)
}

// Call issues method and decodes the result into out, which may be nil.
func (c *CDPClient) Call(ctx context.Context, method string, params any, sessionID string, out any) error {
	result, err := c.roundTrip(ctx, method, params, sessionID)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Send is Call for callers that only pick a field or two out of the result.
func (c *CDPClient) Send(ctx context.Context, method string, params map[string]any, sessionID string) (map[string]any, error) {
	var result map[string]any
	var p any
	if params != nil {
		p = params
	}
	if err := c.Call(ctx, method, p, sessionID, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *CDPClient) roundTrip(ctx context.Context, method string, params any, sessionID string) (json.RawMessage, error) {
	if c.conn == nil {
		return nil, errors.New("cdp client not started")
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	req := request{ID: c.nextID.Add(1), Method: method, Params: params, SessionID: sessionID}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: encode params: %w", method, err)
	}

	respCh := make(chan message, 1)
	c.mu.Lock()
	c.pending[req.ID] = respCh
	c.mu.Unlock()
	defer c.forget(req.ID)

	c.logger.WithFields(logrus.Fields{"id": req.ID, "method": method, "session": sessionID}).Debug("cdp send")

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		if cerr := c.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.Err()
	}
}

func (c *CDPClient) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *CDPClient) readLoop() {
	defer close(c.readDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.WithError(err).Debug("cdp connection lost")
				_ = c.shutdown(err)
			}
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.WithError(err).Debug("dropping malformed cdp message")
			continue
		}
		if msg.ID != 0 {
			c.mu.Lock()
			ch := c.pending[msg.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
			continue
		}
		if msg.Method != "" {
			c.enqueue(CDPEvent{Method: msg.Method, Params: msg.Params, SessionID: msg.SessionID})
		}
	}
}

func (c *CDPClient) enqueue(event CDPEvent) {
	c.mu.Lock()
	if len(c.handlers[event.Method]) == 0 {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, event)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *CDPClient) dispatchLoop() {
	defer close(c.dispatched)
	for {
		select {
		case <-c.closed:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			event := c.queue[0]
			c.queue = c.queue[1:]
			handlers := append([]EventHandler(nil), c.handlers[event.Method]...)
			c.mu.Unlock()
			for _, handler := range handlers {
				handler(event)
			}
		}
	}
}
