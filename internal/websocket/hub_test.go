package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gamehub-backend/internal/domain"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastServerUpdate(t *testing.T) {
	hub := startHub(t)

	dust := NewClient(hub, nil, testLogger())
	nuke := NewClient(hub, nil, testLogger())
	everything := NewClient(hub, nil, testLogger())
	idle := NewClient(hub, nil, testLogger())
	for _, c := range []*Client{dust, nuke, everything, idle} {
		hub.Register(c)
	}
	hub.Subscribe(dust, "dust")
	hub.Subscribe(nuke, "nuke")
	hub.Subscribe(everything, AllMaps)
	hub.Subscribe(everything, "dust")

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount("dust") == 2 &&
			hub.GetSubscriberCount("nuke") == 1 &&
			hub.GetSubscriberCount(AllMaps) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, hub.GetTotalConnections())

	hub.BroadcastServerUpdate(domain.ServerRecord{
		Address:   "10.0.0.1:7777",
		PlayerIDs: []uuid.UUID{uuid.New(), uuid.New()},
		MapName:   "dust",
	})

	for _, c := range []*Client{dust, everything} {
		msg := receive(t, c)
		assert.Equal(t, MessageTypeServerUpdate, msg.Type)
		assert.Equal(t, "dust", msg.MapName)
		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "10.0.0.1:7777", data["address"])
		assert.EqualValues(t, 2, data["player_count"])
	}
	assertSilent(t, everything)
	assertSilent(t, nuke)
	assertSilent(t, idle)
}

func TestHub_UnregisterDropsSubscriptions(t *testing.T) {
	hub := startHub(t)
	c := NewClient(hub, nil, testLogger())
	hub.Register(c)
	hub.Subscribe(c, "dust")
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("dust") == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(c)
	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.GetSubscriberCount("dust"))

	_, open := <-c.send
	assert.False(t, open)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := startHub(t)
	c := NewClient(hub, nil, testLogger())
	hub.Register(c)
	hub.Subscribe(c, "dust")
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("dust") == 1 }, time.Second, 5*time.Millisecond)

	hub.Unsubscribe(c, "dust")
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("dust") == 0 }, time.Second, 5*time.Millisecond)

	hub.BroadcastServerUpdate(domain.ServerRecord{Address: "a", PlayerIDs: []uuid.UUID{}, MapName: "dust"})
	assertSilent(t, c)
}

func TestServeWs_SubscribeAndReceive(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, testLogger(), w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, MapName: "dust"}))

	var ack Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, []string{"dust"}, ack.MapNames)

	require.Eventually(t, func() bool { return hub.GetSubscriberCount("dust") == 1 }, time.Second, 5*time.Millisecond)
	hub.BroadcastServerUpdate(domain.ServerRecord{Address: "10.0.0.2:7777", PlayerIDs: []uuid.UUID{}, MapName: "dust"})

	var update Message
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, MessageTypeServerUpdate, update.Type)
}

func TestServeWs_SubscribeFromQuery(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, testLogger(), w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?map_name=nuke"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.GetSubscriberCount("nuke") == 1 }, time.Second, 5*time.Millisecond)
}
