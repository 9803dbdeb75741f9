// Package cdptest runs an in-process DevTools endpoint that answers the
// subset of the protocol the browser package speaks, with one page target
// whose DOM is a map of selectors to node ids.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

const (
	TargetID  = "page-1"
	SessionID = "session-1"
	WindowID  = 1
)

// Call is one command received from the client.
type Call struct {
	Method    string
	SessionID string
	Params    map[string]any
}

// HandlerFunc answers a command. A non-nil error is sent back as a protocol
// error with the error's text as message.
type HandlerFunc func(call Call) (map[string]any, error)

type Server struct {
	URL          string
	WebSocketURL string

	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	calls    []Call
	handlers map[string]HandlerFunc
	nodes    map[string]int
	conns    map[*websocket.Conn]*sync.Mutex
	wg       sync.WaitGroup
	closed   bool
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		handlers: make(map[string]HandlerFunc),
		nodes:    make(map[string]int),
		conns:    make(map[*websocket.Conn]*sync.Mutex),
	}
	s.installDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": s.WebSocketURL})
	})
	mux.HandleFunc("/devtools/browser", s.serveWebSocket)
	s.server = httptest.NewServer(mux)
	s.URL = s.server.URL
	s.WebSocketURL = "ws" + strings.TrimPrefix(s.server.URL, "http") + "/devtools/browser"
	t.Cleanup(s.Close)
	return s
}

// Handle replaces the handler for method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// SetNode makes selector match nodeID; zero removes it.
func (s *Server) SetNode(selector string, nodeID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nodeID == 0 {
		delete(s.nodes, selector)
		return
	}
	s.nodes[selector] = nodeID
}

// Calls returns every command received so far, in order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) Methods() []string {
	calls := s.Calls()
	methods := make([]string, 0, len(calls))
	for _, c := range calls {
		methods = append(methods, c.Method)
	}
	return methods
}

// CallsTo returns the commands received for method.
func (s *Server) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Emit sends an event to every connected client.
func (s *Server) Emit(method string, params map[string]any) {
	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, mu := range s.conns {
		conns[c] = mu
	}
	s.mu.Unlock()
	for c, mu := range conns {
		mu.Lock()
		_ = c.WriteJSON(map[string]any{"method": method, "params": params})
		mu.Unlock()
	}
}

// Close drops all client connections and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.server.Close()
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	writeMu := &sync.Mutex{}
	s.conns[conn] = writeMu
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				ID        int64          `json:"id"`
				Method    string         `json:"method"`
				SessionID string         `json:"sessionId"`
				Params    map[string]any `json:"params"`
			}
			if err := json.Unmarshal(data, &msg); err != nil || msg.Method == "" {
				continue
			}
			call := Call{Method: msg.Method, SessionID: msg.SessionID, Params: msg.Params}
			s.mu.Lock()
			s.calls = append(s.calls, call)
			handler := s.handlers[msg.Method]
			s.mu.Unlock()

			result := map[string]any{}
			var herr error
			if handler != nil {
				result, herr = handler(call)
			}
			reply := map[string]any{"id": msg.ID}
			if herr != nil {
				reply["error"] = map[string]any{"code": -32000, "message": herr.Error()}
			} else {
				if result == nil {
					result = map[string]any{}
				}
				reply["result"] = result
			}
			if msg.SessionID != "" {
				reply["sessionId"] = msg.SessionID
			}
			writeMu.Lock()
			err = conn.WriteJSON(reply)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()
}

func (s *Server) lookupNode(selector string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[selector]
}

func (s *Server) selectorFor(nodeID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	selectors := make([]string, 0, len(s.nodes))
	for sel, id := range s.nodes {
		if id == nodeID {
			selectors = append(selectors, sel)
		}
	}
	sort.Strings(selectors)
	if len(selectors) == 0 {
		return ""
	}
	return selectors[0]
}

// BackendID is the backend node id the server reports for nodeID.
func BackendID(nodeID int) int {
	return nodeID + 1000
}

func number(params map[string]any, key string) int {
	v, _ := params[key].(float64)
	return int(v)
}

func targetInfo() map[string]any {
	return map[string]any{"targetId": TargetID, "type": "page", "url": "about:blank", "title": ""}
}

func (s *Server) installDefaults() {
	s.handlers["Target.getTargets"] = func(Call) (map[string]any, error) {
		return map[string]any{"targetInfos": []any{targetInfo()}}, nil
	}
	s.handlers["Target.attachToTarget"] = func(Call) (map[string]any, error) {
		s.Emit("Target.attachedToTarget", map[string]any{
			"sessionId":          SessionID,
			"targetInfo":         targetInfo(),
			"waitingForDebugger": false,
		})
		return map[string]any{"sessionId": SessionID}, nil
	}
	s.handlers["Target.createTarget"] = func(Call) (map[string]any, error) {
		return map[string]any{"targetId": TargetID}, nil
	}
	s.handlers["Page.navigate"] = func(Call) (map[string]any, error) {
		return map[string]any{"frameId": "frame-1", "loaderId": "loader-1"}, nil
	}
	s.handlers["Runtime.evaluate"] = func(call Call) (map[string]any, error) {
		expr, _ := call.Params["expression"].(string)
		switch {
		case expr == "document.readyState":
			return value("complete"), nil
		case strings.Contains(expr, "devicePixelRatio"):
			return value(1), nil
		default:
			return value("ok"), nil
		}
	}
	s.handlers["DOM.getDocument"] = func(Call) (map[string]any, error) {
		return map[string]any{"root": map[string]any{"nodeId": 1, "backendNodeId": BackendID(1), "nodeName": "#document"}}, nil
	}
	s.handlers["DOM.querySelector"] = func(call Call) (map[string]any, error) {
		selector, _ := call.Params["selector"].(string)
		return map[string]any{"nodeId": s.lookupNode(selector)}, nil
	}
	s.handlers["DOM.describeNode"] = func(call Call) (map[string]any, error) {
		id := number(call.Params, "nodeId")
		return map[string]any{"node": map[string]any{"nodeId": id, "backendNodeId": BackendID(id)}}, nil
	}
	s.handlers["DOM.pushNodesByBackendIdsToFrontend"] = func(call Call) (map[string]any, error) {
		ids, _ := call.Params["backendNodeIds"].([]any)
		out := make([]int, 0, len(ids))
		for _, id := range ids {
			v, _ := id.(float64)
			out = append(out, int(v)-1000)
		}
		return map[string]any{"nodeIds": out}, nil
	}
	s.handlers["DOM.resolveNode"] = func(call Call) (map[string]any, error) {
		return map[string]any{"object": map[string]any{
			"type":     "object",
			"objectId": fmt.Sprintf("obj-%d", number(call.Params, "backendNodeId")),
		}}, nil
	}
	s.handlers["Runtime.callFunctionOn"] = func(Call) (map[string]any, error) {
		return map[string]any{"result": map[string]any{"type": "undefined"}}, nil
	}
	s.handlers["Page.getLayoutMetrics"] = func(Call) (map[string]any, error) {
		return map[string]any{"layoutViewport": map[string]any{"pageX": 0, "pageY": 0, "clientWidth": 1280, "clientHeight": 720}}, nil
	}
	s.handlers["DOM.getContentQuads"] = func(Call) (map[string]any, error) {
		return map[string]any{"quads": []any{[]any{10, 20, 110, 20, 110, 60, 10, 60}}}, nil
	}
	s.handlers["Browser.getWindowForTarget"] = func(Call) (map[string]any, error) {
		return map[string]any{"windowId": WindowID, "bounds": map[string]any{"windowState": "normal"}}, nil
	}
	s.handlers["Page.captureScreenshot"] = func(Call) (map[string]any, error) {
		return map[string]any{"data": ""}, nil
	}
}

// NodeFor returns the selector registered for the node behind a command that
// carries a nodeId, backendNodeId or objectId, or "".
func (s *Server) NodeFor(call Call) string {
	if id := number(call.Params, "nodeId"); id != 0 {
		return s.selectorFor(id)
	}
	if id := number(call.Params, "backendNodeId"); id != 0 {
		return s.selectorFor(id - 1000)
	}
	if obj, _ := call.Params["objectId"].(string); obj != "" {
		var backend int
		if _, err := fmt.Sscanf(obj, "obj-%d", &backend); err == nil {
			return s.selectorFor(backend - 1000)
		}
	}
	return ""
}

func value(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": fmt.Sprintf("%T", v), "value": v}}
}
