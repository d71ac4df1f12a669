package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memri/memri-go/internal/config"
	"github.com/memri/memri-go/internal/engine"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/pod"
)

func newWireServer(t *testing.T) (*engine.Engine, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"

	stub := pod.NewStub()
	podSrv := httptest.NewServer(stub.Handler())
	t.Cleanup(podSrv.Close)

	e, err := engine.New(context.Background(), cfg, pod.NewClient(podSrv.URL, "", nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })

	srv := httptest.NewServer(New(e, nil).Handler())
	t.Cleanup(srv.Close)
	return e, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) ServerMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readMsg(t, conn)
		if msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("no %q message received", typ)
	return ServerMessage{}
}

func decodeData[T any](t *testing.T, msg ServerMessage) T {
	t.Helper()
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

func TestServer_Healthz(t *testing.T) {
	_, srv := newWireServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ConnectSendsSessionThenView(t *testing.T) {
	e, srv := newWireServer(t)
	ctx := context.Background()
	_, err := e.Cache().CreateItem(ctx, item.FamilyNote, map[string]item.Value{
		"title": item.String("hello"),
	})
	require.NoError(t, err)
	require.NoError(t, e.OpenViewNamed(ctx, ".all-notes", nil, nil))

	conn := dial(t, srv)

	sess := readMsg(t, conn)
	require.Equal(t, "session", sess.Type)
	assert.NotEmpty(t, decodeData[SessionData](t, sess).ConnectionID)

	vm := readUntil(t, conn, "view")
	upd := decodeData[ViewUpdate](t, vm)
	assert.Equal(t, "All Notes", upd.Title)
	assert.Equal(t, "list", upd.Renderer)
	require.Len(t, upd.Items, 1)
	require.NotEmpty(t, upd.Items[0].Nodes)
	assert.Equal(t, "VStack", upd.Items[0].Nodes[0].Type)
}

func TestServer_ActionUpdatesView(t *testing.T) {
	e, srv := newWireServer(t)
	ctx := context.Background()
	require.NoError(t, e.OpenViewNamed(ctx, ".all-notes", nil, nil))

	conn := dial(t, srv)
	readUntil(t, conn, "view")

	data, _ := json.Marshal(ActionData{Action: "toggleEditMode"})
	send(t, conn, ClientMessage{Type: "action", ID: "r1", Data: data})

	done := readUntil(t, conn, "done")
	assert.Equal(t, "r1", done.RequestID)
	vm := readUntil(t, conn, "view")
	assert.True(t, decodeData[ViewUpdate](t, vm).EditMode)
	assert.True(t, e.Sessions().Current().EditMode)
}

func TestServer_ActionWithArgumentsNavigates(t *testing.T) {
	e, srv := newWireServer(t)
	ctx := context.Background()
	require.NoError(t, e.OpenViewNamed(ctx, ".all-notes", nil, nil))

	conn := dial(t, srv)
	readUntil(t, conn, "view")

	data, _ := json.Marshal(ActionData{Action: map[string]any{
		"action": "openViewByName",
		"name":   ".all-people",
	}})
	send(t, conn, ClientMessage{Type: "action", ID: "r2", Data: data})

	readUntil(t, conn, "done")
	vm := readUntil(t, conn, "view")
	assert.Equal(t, "All People", decodeData[ViewUpdate](t, vm).Title)
}

func TestServer_SelectThenDeleteRemovesSelection(t *testing.T) {
	e, srv := newWireServer(t)
	ctx := context.Background()
	a, err := e.Cache().CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("a")})
	require.NoError(t, err)
	b, err := e.Cache().CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("b")})
	require.NoError(t, err)
	kept, err := e.Cache().CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("kept")})
	require.NoError(t, err)
	require.NoError(t, e.OpenViewNamed(ctx, ".all-notes", nil, nil))

	conn := dial(t, srv)
	readUntil(t, conn, "view")

	data, _ := json.Marshal(SelectData{UIDs: []int64{a.UID, b.UID}})
	send(t, conn, ClientMessage{Type: "select", ID: "s1", Data: data})
	done := readUntil(t, conn, "done")
	assert.Equal(t, "s1", done.RequestID)

	data, _ = json.Marshal(ActionData{Action: "delete"})
	send(t, conn, ClientMessage{Type: "action", ID: "s2", Data: data})
	readUntil(t, conn, "done")

	vm := readUntil(t, conn, "view")
	upd := decodeData[ViewUpdate](t, vm)
	require.Len(t, upd.Items, 1)
	assert.Equal(t, kept.UID, upd.Items[0].UID)
	assert.True(t, e.Cache().Get(a.UID).Deleted)
	assert.True(t, e.Cache().Get(b.UID).Deleted)
}

func TestServer_SelectUnknownUIDErrors(t *testing.T) {
	e, srv := newWireServer(t)
	ctx := context.Background()
	require.NoError(t, e.OpenViewNamed(ctx, ".all-notes", nil, nil))

	conn := dial(t, srv)
	readUntil(t, conn, "view")

	data, _ := json.Marshal(SelectData{UIDs: []int64{987654}})
	send(t, conn, ClientMessage{Type: "select", ID: "s9", Data: data})
	msg := readUntil(t, conn, "error")
	assert.Equal(t, "unknown_item", decodeData[ErrorData](t, msg).Code)
}

func TestServer_FilterNarrowsItems(t *testing.T) {
	e, srv := newWireServer(t)
	ctx := context.Background()
	for _, title := range []string{"groceries", "holiday"} {
		_, err := e.Cache().CreateItem(ctx, item.FamilyNote, map[string]item.Value{
			"title": item.String(title),
		})
		require.NoError(t, err)
	}
	require.NoError(t, e.OpenViewNamed(ctx, ".all-notes", nil, nil))

	conn := dial(t, srv)
	readUntil(t, conn, "view")

	data, _ := json.Marshal(FilterData{Text: "grocer"})
	send(t, conn, ClientMessage{Type: "filter", ID: "r3", Data: data})

	vm := readUntil(t, conn, "view")
	upd := decodeData[ViewUpdate](t, vm)
	require.Len(t, upd.Items, 1)
}

func TestServer_PingPong(t *testing.T) {
	_, srv := newWireServer(t)
	conn := dial(t, srv)
	readMsg(t, conn) // session

	send(t, conn, ClientMessage{Type: "ping", ID: "p1"})
	msg := readUntil(t, conn, "pong")
	assert.Equal(t, "p1", msg.RequestID)
}

func TestServer_UnknownMessageType(t *testing.T) {
	_, srv := newWireServer(t)
	conn := dial(t, srv)
	readMsg(t, conn) // session

	send(t, conn, ClientMessage{Type: "bogus", ID: "x"})
	msg := readUntil(t, conn, "error")
	assert.Equal(t, "unknown_type", decodeData[ErrorData](t, msg).Code)
}

func TestServer_DebugEndpoint(t *testing.T) {
	e, srv := newWireServer(t)
	e.Logger().Warn("wire test warning")

	resp, err := http.Get(srv.URL + "/v1/debug")
	require.NoError(t, err)
	defer resp.Body.Close()

	var entries []engine.DebugEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, "wire test warning", entries[len(entries)-1].Message)
}
