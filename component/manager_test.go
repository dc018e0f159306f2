package component

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dededodu/locoloco/health"
)

type fakeComponent struct {
	name      string
	initErr   error
	startErr  error
	stopErr   error
	events    *[]string
	ctxAtStop context.Context
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Initialize() error {
	*f.events = append(*f.events, "init:"+f.name)
	return f.initErr
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.ctxAtStop = ctx
	*f.events = append(*f.events, "start:"+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(time.Duration) error {
	*f.events = append(*f.events, "stop:"+f.name)
	return f.stopErr
}

func (f *fakeComponent) Health() health.Status {
	return health.NewHealthy(f.name, "ok")
}

func newTestManager() (*Manager, *health.Monitor) {
	monitor := health.NewMonitor()
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	return NewManager(logger, monitor), monitor
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestManagerStartStopOrder(t *testing.T) {
	m, monitor := newTestManager()
	var events []string

	a := &fakeComponent{name: "a", events: &events}
	b := &fakeComponent{name: "b", events: &events}
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	require.NoError(t, m.InitializeAll())
	require.NoError(t, m.StartAll(context.Background(), time.Second))
	assert.Equal(t, 2, monitor.Count())

	require.NoError(t, m.StopAll(time.Second))
	assert.Equal(t, []string{"init:a", "init:b", "start:a", "start:b", "stop:b", "stop:a"}, events)
	assert.Equal(t, 0, monitor.Count())

	state, ok := m.State("a")
	require.True(t, ok)
	assert.Equal(t, StateStopped, state)
}

func TestManagerRejectsDuplicateRegistration(t *testing.T) {
	m, _ := newTestManager()
	var events []string

	require.NoError(t, m.Register(&fakeComponent{name: "a", events: &events}))
	assert.Error(t, m.Register(&fakeComponent{name: "a", events: &events}))
}

func TestManagerStartFailureRollsBack(t *testing.T) {
	m, _ := newTestManager()
	var events []string

	a := &fakeComponent{name: "a", events: &events}
	b := &fakeComponent{name: "b", events: &events, startErr: fmt.Errorf("port in use")}
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))
	require.NoError(t, m.InitializeAll())

	err := m.StartAll(context.Background(), time.Second)
	require.Error(t, err)

	// The already-started component is stopped again.
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, events[2:])

	state, ok := m.State("b")
	require.True(t, ok)
	assert.Equal(t, StateFailed, state)
}

func TestManagerInitializeFailureAborts(t *testing.T) {
	m, _ := newTestManager()
	var events []string

	require.NoError(t, m.Register(&fakeComponent{name: "a", events: &events, initErr: fmt.Errorf("bad config")}))
	require.NoError(t, m.Register(&fakeComponent{name: "b", events: &events}))

	assert.Error(t, m.InitializeAll())
	assert.Equal(t, []string{"init:a"}, events)
}

func TestManagerComponentLookup(t *testing.T) {
	m, _ := newTestManager()
	var events []string

	a := &fakeComponent{name: "a", events: &events}
	require.NoError(t, m.Register(a))

	got, ok := m.Component("a")
	require.True(t, ok)
	assert.Same(t, Component(a), got)

	_, ok = m.Component("missing")
	assert.False(t, ok)
}

func TestManagerCancelsComponentContext(t *testing.T) {
	m, _ := newTestManager()
	var events []string

	a := &fakeComponent{name: "a", events: &events}
	require.NoError(t, m.Register(a))
	require.NoError(t, m.InitializeAll())
	require.NoError(t, m.StartAll(context.Background(), time.Second))

	require.NoError(t, m.StopAll(time.Second))
	select {
	case <-a.ctxAtStop.Done():
	default:
		t.Fatal("component context not cancelled on stop")
	}
}
