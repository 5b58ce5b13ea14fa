package notify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/splendor/internal/game/event"
	"github.com/cory-johannsen/splendor/internal/notify"
	"github.com/cory-johannsen/splendor/internal/testutil"
)

func receive(t *testing.T, ch <-chan notify.Notification) notify.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
		return notify.Notification{}
	}
}

func TestHub_DeliversOnlyToSubscribersOfTheGame(t *testing.T) {
	hub := notify.NewHub(zaptest.NewLogger(t), 4)
	a := hub.Subscribe("g1")
	b := hub.Subscribe("g1")
	other := hub.Subscribe("g2")
	defer other.Close()

	n := notify.Notification{GameID: "g1", EventType: event.TypeGemsTaken, Version: 6}
	require.NoError(t, hub.Publish(context.Background(), n))

	assert.Equal(t, n, receive(t, a.Events()))
	assert.Equal(t, n, receive(t, b.Events()))
	assert.Empty(t, other.Events())

	a.Close()
	b.Close()
	assert.Equal(t, 0, hub.Subscribers("g1"))
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	hub := notify.NewHub(zaptest.NewLogger(t), 1)
	sub := hub.Subscribe("g")
	defer sub.Close()

	for v := uint64(1); v <= 3; v++ {
		require.NoError(t, hub.Publish(context.Background(), notify.Notification{GameID: "g", Version: v}))
	}
	assert.Equal(t, uint64(1), receive(t, sub.Events()).Version)
	assert.Empty(t, sub.Events())
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	hub := notify.NewHub(zaptest.NewLogger(t), 1)
	sub := hub.Subscribe("g")
	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	require.NoError(t, hub.Publish(context.Background(), notify.Notification{GameID: "g"}))
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var calls int
	ok := notify.PublisherFunc(func(context.Context, notify.Notification) error { calls++; return nil })
	bad := notify.PublisherFunc(func(context.Context, notify.Notification) error { calls++; return boom })

	err := notify.Multi{ok, bad, ok}.Publish(context.Background(), notify.Notification{GameID: "g"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)

	assert.NoError(t, notify.Multi{ok}.Publish(context.Background(), notify.Notification{GameID: "g"}))
}

func TestWebSocketRelay_StreamsNotifications(t *testing.T) {
	logger := zaptest.NewLogger(t)
	hub := notify.NewHub(logger, 4)
	relay := notify.NewWebSocketRelay(hub, logger)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relay.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/g1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("g1") == 1 }, 5*time.Second, 10*time.Millisecond)

	want := notify.Notification{GameID: "g1", EventType: event.TypeCardPurchased, Version: 12}
	require.NoError(t, hub.Publish(context.Background(), want))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got notify.Notification
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, want, got)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return hub.Subscribers("g1") == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRedis_PublishIsRelayedIntoHub(t *testing.T) {
	rc := testutil.NewRedisContainer(t)
	logger := zaptest.NewLogger(t)
	hub := notify.NewHub(logger, 4)
	const prefix = "splendor:test:"

	relay := notify.NewRedisRelay(rc.Client, prefix, hub, logger)
	require.NoError(t, relay.Start())
	defer relay.Stop()

	sub := hub.Subscribe("g1")
	defer sub.Close()

	pub := notify.NewRedisPublisher(rc.Client, prefix)
	assert.Equal(t, prefix+"g1", pub.Channel("g1"))

	want := notify.Notification{GameID: "g1", EventType: event.TypePlayerJoined, Version: 2}
	require.NoError(t, pub.Publish(context.Background(), want))
	assert.Equal(t, want, receive(t, sub.Events()))

	relay.Stop()
	relay.Stop()
}
