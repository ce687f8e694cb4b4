package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/videoroom-relay/config"
	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/janus/janustest"
	"github.com/mossy-p/videoroom-relay/internal/livestream"
	"github.com/mossy-p/videoroom-relay/internal/models"
	"github.com/mossy-p/videoroom-relay/internal/redis"
	"github.com/mossy-p/videoroom-relay/internal/relay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticPresence []string

func (p staticPresence) Peers(context.Context) ([]string, error) { return p, nil }

// mountTable is an in-memory mount store shared by the REST and socket paths.
type mountTable struct {
	mu     sync.Mutex
	mounts map[uint64]models.MountMetadata
}

func newMountTable(ms ...models.MountMetadata) *mountTable {
	t := &mountTable{mounts: make(map[uint64]models.MountMetadata)}
	for _, m := range ms {
		t.mounts[m.ID] = m
	}
	return t
}

func (t *mountTable) GetMount(_ context.Context, id uint64) (*models.MountMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.mounts[id]
	if !ok {
		return nil, redis.ErrNotFound
	}
	return &m, nil
}

func (t *mountTable) SaveMount(_ context.Context, m models.MountMetadata) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mounts[m.ID] = m
	return nil
}

func (t *mountTable) DeleteMount(_ context.Context, id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mounts, id)
	return nil
}

func gatewayReply(h *janustest.Handle, body map[string]any, _ *webrtc.SessionDescription) (*janus.Response, error) {
	if h.Plugin() == janus.PluginStreaming {
		return janustest.Reply(map[string]any{"streaming": "ok"}, nil), nil
	}
	if body["request"] == "join" {
		return janustest.Reply(map[string]any{"videoroom": "joined", "room": 1234, "id": 77}, nil), nil
	}
	return janustest.Reply(map[string]any{"videoroom": "event"}, nil), nil
}

func newTestServer(t *testing.T, mounts *mountTable) *httptest.Server {
	t.Helper()
	gw := janustest.New()
	gw.OnMessage(gatewayReply)

	cfg := &config.Config{
		AllowedOrigins: []string{"http://allowed.test"},
		JWTSecret:      "test-secret",
		Room:           config.RoomConfig{ID: 1234},
	}
	router := NewRouter(cfg, Deps{
		Relay:    relay.New(gw, relay.Config{Room: 1234}),
		Mounts:   livestream.NewMounts(gw, "10.1.1.1", mounts),
		Presence: staticPresence{"alice", "bob"},
		Store:    mounts,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *httptest.Server, user string) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"username":"`+user+`","password":"x"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()

	var out LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if out.Token == "" || out.UserID != user {
		t.Fatalf("login response %+v", out)
	}
	return out.Token
}

func do(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newMountTable())
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestOriginFilter(t *testing.T) {
	srv := newTestServer(t, newMountTable())

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodOptions, srv.URL+"/api/streams", nil)
	req.Header.Set("Origin", "http://allowed.test")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://allowed.test" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestGetRoom(t *testing.T) {
	srv := newTestServer(t, newMountTable())
	resp, body := do(t, http.MethodGet, srv.URL+"/api/room", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body["room"] != float64(1234) || body["count"] != float64(2) {
		t.Fatalf("body=%v", body)
	}
}

func TestCreateStreamRequiresToken(t *testing.T) {
	srv := newTestServer(t, newMountTable())
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/streams", "", map[string]any{"id": 1, "name": "cam"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/streams", "not-a-token", map[string]any{"id": 1, "name": "cam"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestCreateStream(t *testing.T) {
	srv := newTestServer(t, newMountTable())
	token := login(t, srv, "operator")

	resp, body := do(t, http.MethodPost, srv.URL+"/api/streams", token, map[string]any{"id": 9999, "name": "mylive"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	rtp, _ := body["rtp"].(map[string]any)
	if body["type"] != "mount_created" || rtp["ip"] != "10.1.1.1" || rtp["video_port"] != float64(10000) {
		t.Fatalf("body=%v", body)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/streams", token, map[string]any{"name": "missing id"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestGetStream(t *testing.T) {
	srv := newTestServer(t, newMountTable(
		models.MountMetadata{ID: 5, Name: "cam", RTP: models.RTPInfo{IP: "10.1.1.1", VideoPort: 10000, AudioPort: 10002}},
	))

	resp, body := do(t, http.MethodGet, srv.URL+"/api/streams/5", "", nil)
	if resp.StatusCode != http.StatusOK || body["name"] != "cam" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/streams/6", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/streams/abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestDeleteStreamCreatorOnly(t *testing.T) {
	srv := newTestServer(t, newMountTable(
		models.MountMetadata{ID: 5, Name: "cam", CreatorID: "alice"},
	))

	resp, _ := do(t, http.MethodDelete, srv.URL+"/api/streams/5", login(t, srv, "mallory"), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp, body := do(t, http.MethodDelete, srv.URL+"/api/streams/5", login(t, srv, "alice"), nil)
	if resp.StatusCode != http.StatusOK || body["type"] != "mount_destroyed" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := ws.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestRoomSocketJoin(t *testing.T) {
	srv := newTestServer(t, newMountTable())
	for _, path := range []string{"/ws", "/ws/room"} {
		ws := dialWS(t, srv, path)

		if err := ws.WriteMessage(websocket.TextMessage, []byte(`{{`)); err != nil {
			t.Fatalf("write: %v", err)
		}
		if msg := readJSON(t, ws); msg["type"] != "error" {
			t.Fatalf("%s: msg=%v", path, msg)
		}

		name := "alice" + strings.ReplaceAll(path, "/", "-")
		if err := ws.WriteJSON(map[string]any{"type": "join", "name": name}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if msg := readJSON(t, ws); msg["type"] != "joined" || msg["id"] != float64(77) {
			t.Fatalf("%s: msg=%v", path, msg)
		}
	}
}

func TestLiveSocketStartStream(t *testing.T) {
	srv := newTestServer(t, newMountTable())
	ws := dialWS(t, srv, "/ws/live")

	// Unparsable frames on this namespace get no reply.
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{{`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ws.WriteJSON(map[string]any{"type": "start_stream", "id": 9999, "name": "mylive"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, ws)
	if msg["type"] != "mount_created" || msg["id"] != float64(9999) {
		t.Fatalf("msg=%v", msg)
	}
	rtp := msg["rtp"].(map[string]any)
	if rtp["video_port"] != float64(10000) || rtp["audio_port"] != float64(10002) {
		t.Fatalf("rtp=%v", rtp)
	}
}

func TestSocketCreatedStreamDeletableByAnyOperator(t *testing.T) {
	mounts := newMountTable()
	srv := newTestServer(t, mounts)
	ws := dialWS(t, srv, "/ws/live")

	if err := ws.WriteJSON(map[string]any{"type": "start_stream", "id": 9999, "name": "mylive"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readJSON(t, ws); msg["type"] != "mount_created" {
		t.Fatalf("msg=%v", msg)
	}

	m, err := mounts.GetMount(context.Background(), 9999)
	if err != nil {
		t.Fatalf("GetMount: %v", err)
	}
	if m.CreatorID != "" {
		t.Fatalf("socket-created mount has creator %q", m.CreatorID)
	}

	resp, body := do(t, http.MethodDelete, srv.URL+"/api/streams/9999", login(t, srv, "operator"), nil)
	if resp.StatusCode != http.StatusOK || body["type"] != "mount_destroyed" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	if _, err := mounts.GetMount(context.Background(), 9999); err != redis.ErrNotFound {
		t.Fatalf("mount still stored: %v", err)
	}
}
