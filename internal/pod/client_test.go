package pod

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memri/memri-go/internal/item"
)

func newTestPod(t *testing.T) (*Stub, *HTTPClient) {
	t.Helper()
	stub := NewStub()
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)
	return stub, NewClient(srv.URL, "test-key", nil)
}

func TestClient_QueryFiltersByType(t *testing.T) {
	stub, client := newTestPod(t)
	stub.Seed(ItemPayload{UID: 1, Type: "Person", Properties: map[string]any{"firstName": "Ada"}, Version: 1})
	stub.Seed(ItemPayload{UID: 2, Type: "Note", Properties: map[string]any{"title": "hello"}, Version: 1})

	resp, err := client.Query(context.Background(), QueryRequest{Query: "Person"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, int64(1), resp.Items[0].UID)

	all, err := client.Query(context.Background(), QueryRequest{Query: "*"})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)
}

func TestClient_GetDecodesItem(t *testing.T) {
	stub, client := newTestPod(t)
	stub.Seed(ItemPayload{UID: 9, Type: "Note", Version: 3, Properties: map[string]any{
		"title": "remote", "count": float64(4),
	}})

	it, err := client.Get(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, item.FamilyNote, it.Family)
	assert.Equal(t, 3, it.Version)
	assert.Equal(t, "remote", it.Get("title").Str())
}

func TestClient_GetNotFoundIsRemoteError(t *testing.T) {
	_, client := newTestPod(t)
	_, err := client.Get(context.Background(), 404)
	require.ErrorIs(t, err, ErrRemote)
}

func TestClient_SyncRoundTripBumpsVersions(t *testing.T) {
	stub, client := newTestPod(t)

	note := item.New(item.FamilyNote)
	note.UID = 100
	note.Set("title", item.String("first"))

	require.NoError(t, client.Sync(context.Background(), SyncRequest{
		CreateItems: []ItemPayload{EncodeItem(note)},
	}))
	stored, ok := stub.Item(100)
	require.True(t, ok)
	assert.Equal(t, 1, stored.Version)

	note.Set("title", item.String("second"))
	require.NoError(t, client.Sync(context.Background(), SyncRequest{
		UpdateItems: []ItemPayload{EncodeItem(note)},
	}))
	stored, _ = stub.Item(100)
	assert.Equal(t, 2, stored.Version)

	require.NoError(t, client.Sync(context.Background(), SyncRequest{DeleteItems: []int64{100}}))
	stored, _ = stub.Item(100)
	assert.True(t, stored.Deleted)
	assert.Equal(t, 3, stored.Version)
}

func TestClient_SyncEmptyBatchSkipsRequest(t *testing.T) {
	// No server at all: an empty batch must not touch the network.
	client := NewClient("http://127.0.0.1:1", "", nil)
	require.NoError(t, client.Sync(context.Background(), SyncRequest{}))
}

func TestClient_RunImporter(t *testing.T) {
	stub, client := newTestPod(t)
	resp, err := client.RunImporter(context.Background(), 55)
	require.NoError(t, err)
	assert.True(t, resp.Started)
	require.Len(t, stub.Runs(), 1)
	assert.Equal(t, int64(55), stub.Runs()[0].UID)
}

func TestWire_ItemRoundTrip(t *testing.T) {
	it := item.New(item.FamilyPerson)
	it.UID = 7
	it.Version = 2
	it.Starred = true
	it.Set("firstName", item.String("Ada"))
	it.Set("age", item.Int(36))

	got := DecodeItem(EncodeItem(it))
	assert.Equal(t, it.UID, got.UID)
	assert.Equal(t, it.Family, got.Family)
	assert.Equal(t, it.Version, got.Version)
	assert.True(t, got.Starred)
	assert.Equal(t, "Ada", got.Get("firstName").Str())
	assert.False(t, got.Dirty())
}
