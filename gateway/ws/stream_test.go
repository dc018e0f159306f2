package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/router"
	"github.com/dededodu/locoloco/tracker"
)

type fakeLocos struct {
	mu     sync.Mutex
	snaps  []tracker.Snapshot
	notify chan struct{}
}

func newFakeLocos() *fakeLocos {
	return &fakeLocos{notify: make(chan struct{}, 1)}
}

func (f *fakeLocos) All() []tracker.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.Snapshot(nil), f.snaps...)
}

func (f *fakeLocos) Watch() (<-chan struct{}, func()) {
	return f.notify, func() {}
}

func (f *fakeLocos) set(snaps ...tracker.Snapshot) {
	f.mu.Lock()
	f.snaps = snaps
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

type fakeSwitches struct {
	mu    sync.Mutex
	snaps []router.SwitchSnapshot
}

func (f *fakeSwitches) Switches() []router.SwitchSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]router.SwitchSnapshot(nil), f.snaps...)
}

func startStream(t *testing.T) (*Stream, *fakeLocos, *fakeSwitches, string) {
	t.Helper()

	locos := newFakeLocos()
	switches := &fakeSwitches{}
	s, err := New(Deps{
		Locos:    locos,
		Switches: switches,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Registry: metric.NewMetricsRegistry(),
	})
	require.NoError(t, err)

	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(time.Second) })

	server := httptest.NewServer(s)
	t.Cleanup(server.Close)

	return s, locos, switches, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) snapshotMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg snapshotMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestClientGetsSnapshotOnConnect(t *testing.T) {
	_, locos, switches, url := startStream(t)
	locos.set(tracker.Snapshot{
		LocoID:     "loco1",
		Checkpoint: "checkpoint2",
		Speed:      protocol.SpeedNormal,
		Online:     true,
	})
	switches.mu.Lock()
	switches.snaps = []router.SwitchSnapshot{{
		ActuatorID: "switchrails1",
		Position:   protocol.PositionDirect,
		Online:     true,
	}}
	switches.mu.Unlock()

	conn := dial(t, url)
	msg := readSnapshot(t, conn)

	require.Len(t, msg.Locos, 1)
	assert.Equal(t, "loco1", msg.Locos[0].LocoID)
	assert.Equal(t, "checkpoint2", msg.Locos[0].Checkpoint)
	require.Len(t, msg.Switches, 1)
	assert.Equal(t, "switchrails1", msg.Switches[0].ActuatorID)
	assert.Equal(t, "direct", msg.Switches[0].Position)
}

func TestChangeTriggersPush(t *testing.T) {
	_, locos, _, url := startStream(t)

	conn := dial(t, url)
	readSnapshot(t, conn)

	locos.set(tracker.Snapshot{
		LocoID:     "loco2",
		Checkpoint: "station1",
		Online:     true,
	})

	// The refresh ticker also pushes, so scan a few messages for the change.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg := readSnapshot(t, conn)
		if len(msg.Locos) == 1 && msg.Locos[0].LocoID == "loco2" {
			return
		}
	}
	t.Fatal("change never reached the client")
}

func TestStopDisconnectsClients(t *testing.T) {
	s, _, _, url := startStream(t)

	conn := dial(t, url)
	readSnapshot(t, conn)

	require.NoError(t, s.Stop(time.Second))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestRefusesWhenNotRunning(t *testing.T) {
	locos := newFakeLocos()
	s, err := New(Deps{
		Locos:    locos,
		Switches: &fakeSwitches{},
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Registry: metric.NewMetricsRegistry(),
	})
	require.NoError(t, err)

	server := httptest.NewServer(s)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLifecycle(t *testing.T) {
	s, err := New(Deps{
		Locos:    newFakeLocos(),
		Switches: &fakeSwitches{},
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Registry: metric.NewMetricsRegistry(),
	})
	require.NoError(t, err)

	require.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))
	assert.True(t, s.Health().IsHealthy())
	require.NoError(t, s.Stop(time.Second))
	assert.False(t, s.Health().IsHealthy())
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}
