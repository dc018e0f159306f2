package events

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dededodu/locoloco/metric"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "loco.position.loco1", SubjectLocoPosition("loco1"))
	assert.Equal(t, "loco.discontinuity.loco1", SubjectLocoDiscontinuity("loco1"))
	assert.Equal(t, "fleet.session.rfid1", SubjectFleetSession("rfid1"))
	assert.Equal(t, "switch.position.switchrails2", SubjectSwitchPosition("switchrails2"))
}

func TestNopPublisher(t *testing.T) {
	// Must accept anything without side effects.
	Nop{}.Publish("loco.position.loco1", map[string]string{"checkpoint": "checkpoint1"})
}

func TestNewNATSPublisherValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := metric.NewMetricsRegistry()

	_, err := NewNATSPublisher(Deps{URL: "", Logger: logger, Registry: registry})
	assert.Error(t, err)

	_, err = NewNATSPublisher(Deps{URL: "nats://localhost:4222"})
	assert.Error(t, err)

	p, err := NewNATSPublisher(Deps{URL: "nats://localhost:4222", Logger: logger, Registry: registry})
	require.NoError(t, err)
	assert.Equal(t, "events", p.Name())

	// Not running yet: publishes are dropped silently, health is unhealthy.
	p.Publish(SubjectLocoPosition("loco1"), struct{}{})
	assert.True(t, p.Health().IsUnhealthy())
}
