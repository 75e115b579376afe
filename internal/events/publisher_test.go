package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbot/internal/models"
	"fleetbot/internal/testutil/testlog"
)

func TestNewEventJSON(t *testing.T) {
	at := time.Date(2026, 5, 2, 8, 30, 0, 0, time.FixedZone("X", 3600))
	job := models.Job{
		ID:      "abc",
		User:    42,
		Server:  models.ServerDescriptor{ID: "1", Name: "Hall A"},
		Machine: 7,
		Address: "192.168.1.107",
		Mode:    models.ModeNormal,
	}
	ev := NewEvent(job, models.Outcome{Succeeded: true, Duration: 2500 * time.Millisecond}, at)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "abc", got["id"])
	assert.Equal(t, "1", got["server"])
	assert.Equal(t, float64(7), got["machine"])
	assert.Equal(t, "normal", got["mode"])
	assert.Equal(t, true, got["succeeded"])
	assert.Equal(t, float64(2500), got["duration_ms"])
	assert.Equal(t, "2026-05-02T07:30:00Z", got["time"])
}

func TestWholeServerEventOmitsMachine(t *testing.T) {
	ev := NewEvent(models.Job{Mode: models.ModeAll}, models.Outcome{}, time.Now())
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"machine"`)
	assert.NotContains(t, string(data), `"address"`)
}

func TestConnectFailure(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "fleet.executions", testlog.New(t))
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(Event{}))
	p.Close()
}
