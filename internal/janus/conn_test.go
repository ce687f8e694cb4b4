package janus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// fakeJanus is a scripted gateway speaking the Janus WebSocket API.
type fakeJanus struct {
	t      *testing.T
	mu     sync.Mutex
	nextID uint64
	conns  []*websocket.Conn
	seen   []map[string]any

	// writeMu serializes server writes; gorilla allows one writer per conn.
	writeMu sync.Mutex

	// plugin answers "message" requests; it returns the frames to send.
	plugin func(req map[string]any) []map[string]any
}

func newFakeJanus(t *testing.T) (*fakeJanus, *httptest.Server) {
	f := &fakeJanus{t: t, nextID: 100}
	up := websocket.Upgrader{
		Subprotocols: []string{subprotocol},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, c)
		f.mu.Unlock()
		f.serve(c)
	}))
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeJanus) id() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *fakeJanus) requests(kind string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, r := range f.seen {
		if r["janus"] == kind {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeJanus) push(v any) {
	f.mu.Lock()
	c := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	if err := f.write(c, v); err != nil {
		f.t.Errorf("push: %v", err)
	}
}

func (f *fakeJanus) write(c *websocket.Conn, v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return c.WriteJSON(v)
}

func (f *fakeJanus) serve(c *websocket.Conn) {
	for {
		var req map[string]any
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		f.mu.Lock()
		f.seen = append(f.seen, req)
		f.mu.Unlock()

		tx := req["transaction"]
		var out []map[string]any
		switch req["janus"] {
		case "create", "attach":
			out = append(out, map[string]any{"janus": "success", "transaction": tx, "data": map[string]any{"id": f.id()}})
		case "detach", "destroy":
			out = append(out, map[string]any{"janus": "success", "transaction": tx})
		case "trickle", "keepalive":
			out = append(out, map[string]any{"janus": "ack", "transaction": tx})
		case "message":
			for _, m := range f.plugin(req) {
				m["transaction"] = tx
				out = append(out, m)
			}
		}
		for _, m := range out {
			if err := f.write(c, m); err != nil {
				return
			}
		}
	}
}

type recordingSink struct {
	events  chan json.RawMessage
	mediaUp chan struct{}
}

func (s *recordingSink) OnEvent(data json.RawMessage, jsep *webrtc.SessionDescription) {
	s.events <- data
}
func (s *recordingSink) OnTrickle(c Candidate)  {}
func (s *recordingSink) OnMediaUp()             { s.mediaUp <- struct{}{} }
func (s *recordingSink) OnHangup(reason string) {}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestConnMessageWaitsPastAck(t *testing.T) {
	f, ts := newFakeJanus(t)
	f.plugin = func(req map[string]any) []map[string]any {
		return []map[string]any{
			{"janus": "ack"},
			{
				"janus":      "event",
				"plugindata": map[string]any{"plugin": PluginVideoRoom, "data": map[string]any{"videoroom": "joined", "id": 101}},
				"jsep":       map[string]any{"type": "answer", "sdp": "v=0"},
			},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Open(ctx, Config{URL: wsURL(ts), RequestTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	s, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := s.Attach(ctx, PluginVideoRoom)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	resp, err := h.Message(ctx, map[string]any{"request": "join"}, nil)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	var joined JoinedData
	if err := resp.Decode(&joined); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if joined.ID != 101 {
		t.Fatalf("joined.id=%d, want 101", joined.ID)
	}
	if resp.Jsep == nil || resp.Jsep.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("jsep=%+v, want answer", resp.Jsep)
	}

	if err := h.Trickle(ctx, CompletedCandidate); err != nil {
		t.Fatalf("Trickle: %v", err)
	}
	tr := f.requests("trickle")
	if len(tr) != 1 {
		t.Fatalf("trickle requests=%d, want 1", len(tr))
	}
	cand, _ := tr[0]["candidate"].(map[string]any)
	if cand["completed"] != true {
		t.Fatalf("trickle candidate=%v, want completed", tr[0]["candidate"])
	}
}

func TestConnRoutesAsyncEventsBySender(t *testing.T) {
	f, ts := newFakeJanus(t)
	f.plugin = func(req map[string]any) []map[string]any {
		return []map[string]any{{"janus": "success", "plugindata": map[string]any{"plugin": PluginVideoRoom, "data": map[string]any{}}}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Open(ctx, Config{URL: wsURL(ts)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	s, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := s.Attach(ctx, PluginVideoRoom)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	sink := &recordingSink{events: make(chan json.RawMessage, 1), mediaUp: make(chan struct{}, 1)}
	h.Bind(sink)

	f.push(map[string]any{"janus": "webrtcup", "session_id": s.ID(), "sender": h.ID()})
	f.push(map[string]any{
		"janus":      "event",
		"session_id": s.ID(),
		"sender":     h.ID(),
		"plugindata": map[string]any{"plugin": PluginVideoRoom, "data": map[string]any{"videoroom": "event"}},
	})

	select {
	case <-sink.mediaUp:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for webrtcup")
	}
	select {
	case data := <-sink.events:
		if !strings.Contains(string(data), `"videoroom":"event"`) {
			t.Fatalf("event data=%s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestConnPluginErrorCode(t *testing.T) {
	f, ts := newFakeJanus(t)
	f.plugin = func(req map[string]any) []map[string]any {
		return []map[string]any{{
			"janus": "success",
			"plugindata": map[string]any{
				"plugin": PluginVideoRoom,
				"data":   map[string]any{"videoroom": "event", "error_code": CodeVideoRoomRoomExists, "error": "Room 1234 already exists"},
			},
		}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Open(ctx, Config{URL: wsURL(ts)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	created, err := EnsureRoom(ctx, c, 1234, 8)
	if err != nil {
		t.Fatalf("EnsureRoom: %v", err)
	}
	if created {
		t.Fatalf("created=true, want false for an existing room")
	}
	if n := len(f.requests("detach")); n != 1 {
		t.Fatalf("detach requests=%d, want 1", n)
	}
	if n := len(f.requests("destroy")); n != 1 {
		t.Fatalf("destroy requests=%d, want 1", n)
	}
}

func TestConnCoreError(t *testing.T) {
	f, ts := newFakeJanus(t)
	f.plugin = func(req map[string]any) []map[string]any {
		return []map[string]any{{"janus": "error", "error": map[string]any{"code": CodeHandleNotFound, "reason": "No such handle"}}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Open(ctx, Config{URL: wsURL(ts)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	s, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := s.Attach(ctx, PluginStreaming)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	_, err = h.Message(ctx, map[string]any{"request": "watch", "id": 1}, nil)
	if !IsCode(err, CodeHandleNotFound) {
		t.Fatalf("err=%v, want code %d", err, CodeHandleNotFound)
	}
}

func TestOpenGivesUpAfterRetries(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(ts)
	ts.Close()

	start := time.Now()
	_, err := Open(context.Background(), Config{URL: url, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err=%v, want ErrUnreachable", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("elapsed=%v, want at least two retry delays", elapsed)
	}
}

func TestCandidateJSON(t *testing.T) {
	var c Candidate
	if err := json.Unmarshal([]byte(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.Completed || c.Init.SDPMid == nil || *c.Init.SDPMid != "0" {
		t.Fatalf("candidate=%+v", c)
	}

	if err := json.Unmarshal([]byte(`{"completed":true}`), &c); err != nil {
		t.Fatalf("Unmarshal completed: %v", err)
	}
	if !c.Completed {
		t.Fatalf("completed marker not recognised")
	}
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"completed":true}` {
		t.Fatalf("marshal=%s", b)
	}
}

func TestConnPushWhileRequestsInFlight(t *testing.T) {
	f, ts := newFakeJanus(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Open(ctx, Config{URL: wsURL(ts)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	s, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := s.Attach(ctx, PluginVideoRoom)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	const n = 20
	sink := &recordingSink{events: make(chan json.RawMessage, n), mediaUp: make(chan struct{}, n)}
	h.Bind(sink)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			f.push(map[string]any{"janus": "webrtcup", "session_id": s.ID(), "sender": h.ID()})
		}
	}()
	for i := 0; i < n; i++ {
		if err := h.Trickle(ctx, CompletedCandidate); err != nil {
			t.Fatalf("Trickle #%d: %v", i, err)
		}
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		select {
		case <-sink.mediaUp:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d webrtcup events", i, n)
		}
	}
}
