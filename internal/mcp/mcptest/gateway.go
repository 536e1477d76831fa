// Package mcptest provides an in-process fake Hodor gateway for tests.
//
// The fake speaks the gateway's wire protocol: GET /sse opens an event
// stream whose first event names a per-session command endpoint, POSTs
// to that endpoint are acknowledged with 202 and answered on the stream.
// POST /mcp answers inline. It also serves /health, /ready and
// /api/tools.
//
// The package deliberately works on raw JSON so that it can be used from
// the mcp package's own tests.
package mcptest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Error is a JSON-RPC error object returned by a handler.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler answers a request. Exactly one of result or err should be
// non-nil; returning both nil sends a response with neither member.
type Handler func(params json.RawMessage) (result any, err *Error)

// Post is a request received on a command endpoint.
type Post struct {
	Session string
	ID      *int64
	Method  string
	Params  json.RawMessage
}

// Gateway is a fake gateway bound to an httptest.Server.
type Gateway struct {
	Server *httptest.Server

	mu           sync.Mutex
	handlers     map[string]Handler
	tools        map[string]Handler
	sessions     map[string]chan string
	order        []string
	posts        []Post
	nextSession  int
	autoRespond  bool
	postStatus   int
	firstEvent   string
	relative     bool
	healthStatus int
	closed       bool
}

// NewGateway starts a fake gateway. It answers initialize by default;
// everything else needs a handler. The server is closed on test cleanup.
func NewGateway(t interface{ Cleanup(func()) }) *Gateway {
	g := &Gateway{
		handlers:     make(map[string]Handler),
		tools:        make(map[string]Handler),
		sessions:     make(map[string]chan string),
		autoRespond:  true,
		healthStatus: http.StatusOK,
	}
	g.handlers["initialize"] = func(json.RawMessage) (any, *Error) {
		return map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": "hodor", "version": "1.0.0"},
		}, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", g.handleSSE)
	mux.HandleFunc("POST /messages", g.handleMessages)
	mux.HandleFunc("POST /mcp", g.handleDirect)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ready": true, "tools_count": 3})
	})
	mux.HandleFunc("GET /api/tools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []map[string]any{
			{"name": "hodor-find"}, {"name": "hodor-exec"}, {"name": "hodor-schema"},
		}})
	})
	g.Server = httptest.NewServer(mux)

	t.Cleanup(g.Close)
	return g
}

// URL returns the gateway base address.
func (g *Gateway) URL() string { return g.Server.URL }

// Handle registers a handler for a JSON-RPC method.
func (g *Gateway) Handle(method string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[method] = h
}

// HandleTool registers a handler for tools/call with the given tool
// name. Its result is wrapped in a text content envelope.
func (g *Gateway) HandleTool(name string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tools[name] = h
}

// SetAutoRespond controls whether POSTed requests are answered on the
// stream. When off, tests answer with Emit.
func (g *Gateway) SetAutoRespond(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autoRespond = on
}

// SetPostStatus makes every command POST fail with status.
func (g *Gateway) SetPostStatus(status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.postStatus = status
}

// SetFirstEvent overrides the data of the stream's first event.
func (g *Gateway) SetFirstEvent(data string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.firstEvent = data
}

// SetRelativeEndpoint makes the first event carry a relative endpoint.
func (g *Gateway) SetRelativeEndpoint(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relative = on
}

// SetHealthStatus sets the status returned by /health.
func (g *Gateway) SetHealthStatus(status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.healthStatus = status
}

// Posts returns the requests received on command endpoints so far.
func (g *Gateway) Posts() []Post {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Post(nil), g.posts...)
}

// Methods returns the methods of received posts, in order.
func (g *Gateway) Methods() []string {
	var out []string
	for _, p := range g.Posts() {
		out = append(out, p.Method)
	}
	return out
}

// ToolCalls returns the tool names of received tools/call posts.
func (g *Gateway) ToolCalls() []string {
	var out []string
	for _, p := range g.Posts() {
		if p.Method != "tools/call" {
			continue
		}
		var params struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(p.Params, &params)
		out = append(out, params.Name)
	}
	return out
}

// Emit writes a raw data payload as an event on the most recent
// session's stream.
func (g *Gateway) Emit(data string) {
	g.EmitRaw("event: message\ndata: " + data + "\n\n")
}

// EmitRaw writes text verbatim to the most recent session's stream.
func (g *Gateway) EmitRaw(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) == 0 {
		return
	}
	if ch, ok := g.sessions[g.order[len(g.order)-1]]; ok {
		ch <- text
	}
}

// EndStreams closes every open event stream.
func (g *Gateway) EndStreams() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ch := range g.sessions {
		close(ch)
		delete(g.sessions, id)
	}
}

// Close ends all streams and shuts the server down.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.EndStreams()
	g.Server.Close()
}

func (g *Gateway) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		http.Error(w, "closed", http.StatusServiceUnavailable)
		return
	}
	g.nextSession++
	id := fmt.Sprintf("s%d", g.nextSession)
	ch := make(chan string, 64)
	g.sessions[id] = ch
	g.order = append(g.order, id)
	first := g.firstEvent
	if first == "" {
		endpoint := "/messages?session=" + id
		if !g.relative {
			endpoint = g.Server.URL + endpoint
		}
		first = fmt.Sprintf(`{"url":%q}`, endpoint)
	}
	g.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", first)
	flusher.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			io.WriteString(w, msg)
			flusher.Flush()
		case <-r.Context().Done():
			g.mu.Lock()
			if cur, ok := g.sessions[id]; ok && cur == ch {
				delete(g.sessions, id)
			}
			g.mu.Unlock()
			return
		}
	}
}

type message struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	g.mu.Lock()
	g.posts = append(g.posts, Post{Session: session, ID: msg.ID, Method: msg.Method, Params: msg.Params})
	status := g.postStatus
	ch, known := g.sessions[session]
	auto := g.autoRespond
	g.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "rejected"})
		return
	}
	if !known {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid or missing session"})
		return
	}
	if msg.ID == nil || !auto {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp, err := json.Marshal(g.answer(msg))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Like the real gateway, the answer goes out on the stream before
	// the POST is acknowledged.
	g.mu.Lock()
	if cur, ok := g.sessions[session]; ok && cur == ch {
		ch <- "event: message\ndata: " + string(resp) + "\n\n"
	}
	g.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) handleDirect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var msg message
	if err := json.Unmarshal(body, &msg); err != nil || msg.Method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "method required"})
		return
	}

	g.mu.Lock()
	g.posts = append(g.posts, Post{ID: msg.ID, Method: msg.Method, Params: msg.Params})
	status := g.postStatus
	g.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "rejected"})
		return
	}
	if msg.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, g.answer(msg))
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	status := g.healthStatus
	g.mu.Unlock()
	writeJSON(w, status, map[string]string{"status": "healthy"})
}

// answer runs the handler for msg and builds the response envelope.
func (g *Gateway) answer(msg message) map[string]any {
	resp := map[string]any{"jsonrpc": "2.0", "id": *msg.ID}

	g.mu.Lock()
	h, wrap := g.handlers[msg.Method], false
	if msg.Method == "tools/call" {
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		if th, ok := g.tools[strings.ToLower(p.Name)]; ok {
			h, wrap = th, true
			msg.Params = p.Arguments
		}
	}
	g.mu.Unlock()

	if h == nil {
		resp["error"] = Error{Code: -32601, Message: "method not found: " + msg.Method}
		return resp
	}

	result, rpcErr := h(msg.Params)
	switch {
	case rpcErr != nil:
		resp["error"] = rpcErr
	case result != nil && wrap:
		text, err := json.Marshal(result)
		if err != nil {
			resp["error"] = Error{Code: -32603, Message: err.Error()}
			break
		}
		resp["result"] = map[string]any{
			"content": []map[string]any{{"type": "text", "text": string(text)}},
		}
	case result != nil:
		resp["result"] = result
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
