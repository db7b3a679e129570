package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nicktill/adoptboard/pkg/config"
	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/nicktill/adoptboard/pkg/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableEvent(t *testing.T) {
	tbl := (&dataset.Table{ID: "run-1", Columns: []string{"email"}, Rows: []dataset.Row{{"email": dataset.Str("a@x.com")}}}).Seal()
	ev := TableEvent(reconcile.Snapshot{Table: tbl, Stale: true, Err: errors.New("sheet down")})

	assert.Equal(t, EventTableRefreshed, ev.Type)
	assert.Equal(t, "run-1", ev.TableID)
	assert.Equal(t, 1, ev.Rows)
	assert.Len(t, ev.Fingerprint, 16)
	assert.True(t, ev.Stale)
	assert.Equal(t, "sheet down", ev.Error)
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, hub.HasClients, time.Second, 10*time.Millisecond)

	tbl := (&dataset.Table{ID: "run-2", Columns: []string{"email"}}).Seal()
	hub.Notify(reconcile.Snapshot{Table: tbl})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "run-2", ev.TableID)
	assert.Equal(t, EventTableRefreshed, ev.Type)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, hub.HasClients, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return !hub.HasClients() }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_StoppedHubClosesNewConnections(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	// more connections than the register buffer holds
	for i := 0; i < config.WSChannelBuffer+2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		require.Error(t, err)
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			assert.False(t, netErr.Timeout(), "connection %d was left open", i)
		}
		conn.Close()
	}
	assert.False(t, hub.HasClients())
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub()
	assert.NoError(t, hub.Broadcast(Event{Type: EventTableRefreshed}))
	assert.Equal(t, 0, hub.ClientCount())
}
