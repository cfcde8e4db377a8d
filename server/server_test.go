package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QueueFM/cache"
	"QueueFM/core/auth"
	"QueueFM/core/extractor"
	"QueueFM/core/playback"
	"QueueFM/core/queue"
	"QueueFM/core/room"
	"QueueFM/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

type stubExtractor struct{}

func (stubExtractor) Name() string { return "stub" }

func (stubExtractor) Resolve(_ context.Context, source string) (*extractor.Media, error) {
	if strings.HasPrefix(source, "broken") {
		return nil, extractor.ErrExtractionFailed
	}
	return &extractor.Media{
		Source:   source,
		Metadata: model.ExtractedMetadata{Title: "Title " + source, Uploader: "stub", Duration: time.Hour},
	}, nil
}

func (stubExtractor) ResolvePlaylist(context.Context, string) (*extractor.Playlist, error) {
	return nil, extractor.ErrExtractionFailed
}

type testServer struct {
	redis   *miniredis.Miniredis
	srv     *httptest.Server
	hub     *room.Hub
	manager *room.Manager
	issuer  *auth.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	driver := playback.NewSimulated(time.Hour)
	hub := room.NewHub(driver)
	go hub.Run()
	t.Cleanup(hub.Stop)

	manager := room.NewManager(ctx, driver, stubExtractor{}, cache.NewSnapshotCache(client, time.Hour), nil, queue.DefaultOptions())
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	issuer := auth.NewIssuer("test-secret", time.Hour)
	srv := httptest.NewServer(NewRouter(NewAPIHandler(manager, hub, issuer)))
	t.Cleanup(srv.Close)

	return &testServer{redis: s, srv: srv, hub: hub, manager: manager, issuer: issuer}
}

func (ts *testServer) token(t *testing.T, id, name string) string {
	t.Helper()
	token, err := ts.issuer.GenerateToken(id, name)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// events 读取 NDJSON 事件流
func events(t *testing.T, resp *http.Response) []queue.Event {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	var out []queue.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev queue.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		out = append(out, ev)
	}
	require.NoError(t, scanner.Err())
	return out
}

func types(evs []queue.Event) []queue.EventType {
	out := make([]queue.EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (ts *testServer) queueSources(t *testing.T, token, roomID string) []string {
	t.Helper()
	evs := events(t, ts.do(t, http.MethodGet, "/api/rooms/"+roomID+"/queue", token, nil))
	require.Len(t, evs, 1)
	require.Equal(t, queue.EventCurrentQueue, evs[0].Type)
	out := make([]string, 0, len(evs[0].Items))
	for _, it := range evs[0].Items {
		out = append(out, it.Source)
	}
	return out
}

func TestTokenEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{"listenerId": "alice"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var bad errorResponse
	decodeJSON(t, resp, &bad)
	require.Len(t, bad.Fields, 1)
	assert.Equal(t, "name", bad.Fields[0].Field)
	assert.Equal(t, "REQUIRED", bad.Fields[0].Code)

	resp = ts.do(t, http.MethodPost, "/api/auth/token", "", TokenRequest{ListenerID: "alice", Name: "Alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tok TokenResponse
	decodeJSON(t, resp, &tok)
	claims, err := ts.issuer.ParseToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.ListenerID)
	assert.Equal(t, "Alice", claims.Name)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/rooms", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/rooms", "garbage", nil).StatusCode)

	other := auth.NewIssuer("other-secret", time.Hour)
	forged, err := other.GenerateToken("mallory", "Mallory")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/rooms", forged, nil).StatusCode)

	resp := ts.do(t, http.MethodGet, "/api/rooms?token="+ts.token(t, "alice", "Alice"), "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodOptions, "/api/rooms/lobby/enqueue", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRoomLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", "Alice")

	resp := ts.do(t, http.MethodPost, "/api/rooms/lobby", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/rooms/lobby", token, nil).StatusCode)

	for _, src := range []string{"a", "b", "c"} {
		evs := events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/enqueue", token, EnqueueRequest{Source: src}))
		require.Len(t, evs, 1)
		assert.Equal(t, queue.EventTrackEnqueued, evs[0].Type)
		require.NotNil(t, evs[0].Track)
		assert.Equal(t, "Title "+src, evs[0].Track.Title)
	}
	// 缓冲区已满，进入积压队列
	evs := events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/enqueue", token, EnqueueRequest{Source: "d"}))
	require.Len(t, evs, 1)
	assert.Equal(t, queue.EventBacklogAdded, evs[0].Type)
	assert.Equal(t, "d", evs[0].Source)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ts.queueSources(t, token, "lobby"))

	var rooms []RoomInfo
	decodeJSON(t, ts.do(t, http.MethodGet, "/api/rooms", token, nil), &rooms)
	assert.Equal(t, []RoomInfo{{RoomID: "lobby"}}, rooms)

	resp = ts.do(t, http.MethodDelete, "/api/rooms/lobby", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec model.SnapshotRecord
	decodeJSON(t, resp, &rec)
	assert.Equal(t, "lobby", rec.RoomID)
	require.Len(t, rec.Items, 4)
	assert.Equal(t, "alice", rec.Items[0].AddedBy)
	require.NotNil(t, rec.PlaybackState)
	assert.Equal(t, "playing", rec.PlaybackState.Mode)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/rooms/lobby/queue", token, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/rooms/lobby", token, nil).StatusCode)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/rooms/lobby/restore", token, nil).StatusCode)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ts.queueSources(t, token, "lobby"))
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/rooms/lobby/restore", token, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/rooms/nowhere/restore", token, nil).StatusCode)
}

func TestSaveFailureKeepsRoomRunning(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", "Alice")

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/rooms/lobby", token, nil).StatusCode)
	for _, src := range []string{"a", "b"} {
		events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/enqueue", token, EnqueueRequest{Source: src}))
	}

	ts.redis.SetError("redis down")
	resp := ts.do(t, http.MethodDelete, "/api/rooms/lobby", token, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body errorResponse
	decodeJSON(t, resp, &body)
	require.NotNil(t, body.Snapshot)
	assert.Equal(t, "lobby", body.Snapshot.RoomID)
	assert.Len(t, body.Snapshot.Items, 2)

	ts.redis.SetError("")
	assert.Equal(t, []string{"a", "b"}, ts.queueSources(t, token, "lobby"))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/rooms/lobby", token, nil).StatusCode)
}

func TestQueueOperations(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", "Alice")
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/rooms/lobby", token, nil).StatusCode)
	for _, src := range []string{"a", "b", "c"} {
		events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/enqueue", token, EnqueueRequest{Source: src}))
	}

	evs := events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/enqueue-top", token, SourceRequest{Source: "top"}))
	assert.Equal(t, []queue.EventType{queue.EventTrackEnqueuedTop}, types(evs))
	assert.Equal(t, []string{"a", "top", "b", "c"}, ts.queueSources(t, token, "lobby"))

	evs = events(t, ts.do(t, http.MethodGet, "/api/rooms/lobby/now-playing", token, nil))
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Track)
	assert.Equal(t, "Title a", evs[0].Track.Title)

	evs = events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/state", token, StateRequest{State: "pause"}))
	assert.Equal(t, []queue.EventType{queue.EventPaused}, types(evs))
	evs = events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/state", token, StateRequest{State: "pause"}))
	assert.Equal(t, []queue.EventType{queue.EventStateAlreadySet}, types(evs))

	vol := 0.8
	evs = events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/volume", token, VolumeRequest{Volume: &vol}))
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Volume)
	assert.InDelta(t, 0.8, *evs[0].Volume, 1e-9)

	// count 缺省为 1
	evs = events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/skip", token, nil))
	require.Len(t, evs, 1)
	assert.Equal(t, queue.EventTracksSkipped, evs[0].Type)
	require.NotNil(t, evs[0].Count)
	assert.Equal(t, 1, *evs[0].Count)
	assert.Equal(t, []string{"top", "b", "c"}, ts.queueSources(t, token, "lobby"))

	evs = events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/remove", token, RemoveRequest{Kind: "indices", Indices: []int{2}}))
	require.Len(t, evs, 1)
	assert.Equal(t, queue.EventTracksRemoved, evs[0].Type)
	assert.Equal(t, []string{"top", "b"}, ts.queueSources(t, token, "lobby"))

	evs = events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/play-now", token, SourceRequest{Source: "now"}))
	assert.Equal(t, []queue.EventType{queue.EventPlaying}, types(evs))
	assert.Equal(t, []string{"now", "top", "b"}, ts.queueSources(t, token, "lobby"))

	evs = events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/shuffle", token, nil))
	assert.Equal(t, []queue.EventType{queue.EventQueueShuffled}, types(evs))
	sources := ts.queueSources(t, token, "lobby")
	assert.Equal(t, "now", sources[0])
	assert.ElementsMatch(t, []string{"now", "top", "b"}, sources)

	evs = events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/remove", token, RemoveRequest{Kind: "user"}))
	require.Len(t, evs, 1)
	assert.Equal(t, queue.EventUserPurged, evs[0].Type)
}

func TestOperationErrorsStayInStream(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", "Alice")
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/rooms/lobby", token, nil).StatusCode)

	evs := events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/state", token, StateRequest{State: "resume"}))
	require.Len(t, evs, 1)
	assert.Equal(t, queue.EventError, evs[0].Type)
	assert.Equal(t, "operation_rejected", evs[0].Kind)
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", "Alice")
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/rooms/lobby", token, nil).StatusCode)

	cases := []struct {
		name  string
		path  string
		body  any
		field string
	}{
		{"enqueue without source", "enqueue", EnqueueRequest{}, "source"},
		{"enqueue with both", "enqueue", EnqueueRequest{Source: "a", Playlist: "p"}, "source"},
		{"enqueue-top without source", "enqueue-top", SourceRequest{}, "source"},
		{"skip zero", "skip", map[string]int{"count": 0}, "count"},
		{"remove unknown kind", "remove", RemoveRequest{Kind: "everything"}, "kind"},
		{"remove indices missing", "remove", RemoveRequest{Kind: "indices"}, "indices"},
		{"remove negative index", "remove", RemoveRequest{Kind: "indices", Indices: []int{-1}}, "indices[0]"},
		{"bad state", "state", StateRequest{State: "rewind"}, "state"},
		{"volume missing", "volume", VolumeRequest{}, "volume"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/api/rooms/lobby/"+tc.path, token, tc.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body errorResponse
			decodeJSON(t, resp, &body)
			require.NotEmpty(t, body.Fields)
			assert.Equal(t, tc.field, body.Fields[0].Field)
		})
	}

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/rooms/lobby/enqueue", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperationOnMissingRoom(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", "Alice")
	resp := ts.do(t, http.MethodPost, "/api/rooms/nowhere/enqueue", token, EnqueueRequest{Source: "a"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsArePublishedToListeners(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", "Alice")
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/rooms/lobby", token, nil).StatusCode)

	bob := room.NewClient(ts.hub, nil, "lobby", "bob", "Bob")
	ts.hub.Register(bob)
	require.Eventually(t, func() bool { return ts.hub.RoomClientCount("lobby") == 1 }, testTimeout, 10*time.Millisecond)

	for _, src := range []string{"a", "b", "c"} {
		events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/enqueue", token, EnqueueRequest{Source: src}))
	}
	// 只读结果不广播
	events(t, ts.do(t, http.MethodGet, "/api/rooms/lobby/queue", token, nil))
	events(t, ts.do(t, http.MethodGet, "/api/rooms/lobby/now-playing", token, nil))
	events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/shuffle", token, nil))

	var got []queue.EventType
	for len(got) < 4 {
		select {
		case data := <-bob.Send:
			var msg room.WSMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			require.Equal(t, room.MsgTypeQueueEvent, msg.Type)
			assert.Equal(t, "alice", msg.UserID)
			var ev queue.Event
			require.NoError(t, json.Unmarshal(msg.Data, &ev))
			got = append(got, ev.Type)
		case <-time.After(testTimeout):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []queue.EventType{
		queue.EventTrackEnqueued,
		queue.EventTrackEnqueued,
		queue.EventTrackEnqueued,
		queue.EventQueueShuffled,
	}, got)
}

func TestWebSocketPresence(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", "Alice")
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/rooms/lobby", token, nil).StatusCode)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/rooms/lobby/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.hub.RoomClientCount("lobby") == 1 }, testTimeout, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(room.WSMessage{Type: room.MsgTypePing}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	var pong room.WSMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, room.MsgTypePong, pong.Type)

	events(t, ts.do(t, http.MethodPost, "/api/rooms/lobby/enqueue", token, EnqueueRequest{Source: "a"}))
	require.Eventually(t, func() bool {
		evs := events(t, ts.do(t, http.MethodGet, "/api/rooms/lobby/queue", token, nil))
		return len(evs) == 1 && len(evs[0].Items) == 1 && evs[0].Items[0].AddedByName == "Alice"
	}, testTimeout, 20*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return ts.hub.RoomClientCount("lobby") == 0 }, testTimeout, 10*time.Millisecond)

	unknown := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/rooms/nowhere/ws?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(unknown, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
