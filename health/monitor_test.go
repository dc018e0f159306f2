package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("fleet-locos", "listening")
	status, ok := m.Get("fleet-locos")
	require.True(t, ok)
	assert.True(t, status.Healthy)
	assert.Equal(t, "fleet-locos", status.Component)
	assert.False(t, status.Timestamp.IsZero())

	m.UpdateUnhealthy("fleet-locos", "listener closed")
	status, ok = m.Get("fleet-locos")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())

	_, ok = m.Get("unknown")
	assert.False(t, ok)
}

func TestMonitorOverridesComponentName(t *testing.T) {
	m := NewMonitor()

	m.Update("tracker", NewHealthy("something-else", "ok"))
	status, ok := m.Get("tracker")
	require.True(t, ok)
	assert.Equal(t, "tracker", status.Component)
}

func TestAggregateRules(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     string
	}{
		{"empty", nil, "healthy"},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, "healthy"},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, "degraded"},
		{"one unhealthy", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregate("controller", tt.statuses)
			assert.Equal(t, tt.want, agg.Status)
			assert.Len(t, agg.SubStatuses, len(tt.statuses))
		})
	}
}

func TestMonitorAggregateHealth(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("fleet-locos", "ok")
	m.UpdateHealthy("tracker", "ok")

	agg := m.AggregateHealth("controller")
	assert.True(t, agg.Healthy)
	assert.Len(t, agg.SubStatuses, 2)

	m.UpdateUnhealthy("tracker", "sweep stalled")
	agg = m.AggregateHealth("controller")
	assert.True(t, agg.IsUnhealthy())
}

func TestMonitorRemoveAndCount(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "ok")
	m.UpdateHealthy("b", "ok")
	assert.Equal(t, 2, m.Count())
	assert.ElementsMatch(t, []string{"a", "b"}, m.ListComponents())

	m.Remove("a")
	assert.Equal(t, 1, m.Count())
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestMonitorConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.UpdateHealthy("fleet-locos", "ok")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.AggregateHealth("controller")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, m.Count())
}

func TestWithSubStatusCopies(t *testing.T) {
	base := NewHealthy("controller", "ok")
	withSub := base.WithSubStatus(NewHealthy("tracker", "ok"))

	assert.Empty(t, base.SubStatuses)
	require.Len(t, withSub.SubStatuses, 1)
	assert.Equal(t, "tracker", withSub.SubStatuses[0].Component)
}
