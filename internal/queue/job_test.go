package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParkUnpark(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := Job{ID: "j1", State: Active{}}

	parked := Park(j, PhaseWaiting, at)
	marker, ok := parked.IsParked()
	require.True(t, ok)
	assert.Equal(t, Parked{PausedAt: at, FromPhase: PhaseWaiting, OriginalJobID: "j1"}, marker)

	again := Park(parked, PhaseActive, at.Add(time.Hour))
	marker, _ = again.IsParked()
	assert.Equal(t, PhaseWaiting, marker.FromPhase, "first marker wins")

	_, ok = Unpark(parked).IsParked()
	assert.False(t, ok)
	_, ok = j.IsParked()
	assert.False(t, ok, "Park works on a copy")
}

func TestStateEncoding(t *testing.T) {
	assert.Equal(t, "", encodeState(Active{}))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := encodeState(Parked{PausedAt: at, FromPhase: PhaseDelayed, OriginalJobID: "j9"})

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &wire))
	assert.Equal(t, true, wire["paused"])
	assert.Equal(t, "j9", wire["originalJobId"])
	assert.Equal(t, "delayed", wire["originalPhase"])

	state, err := decodeState(raw)
	require.NoError(t, err)
	assert.Equal(t, Parked{PausedAt: at, FromPhase: PhaseDelayed, OriginalJobID: "j9"}, state)

	state, err = decodeState("")
	require.NoError(t, err)
	assert.Equal(t, Active{}, state)

	_, err = decodeState("{nope")
	assert.Error(t, err)
}

func TestJobMapRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &Job{
		ID:          "j1",
		Name:        "message-dispatch",
		Payload:     Payload{BroadcastID: "b", ContactID: "c", Recipient: "+1"},
		State:       Parked{PausedAt: now, FromPhase: PhaseWaiting, OriginalJobID: "j0"},
		Phase:       PhaseDelayed,
		Priority:    1,
		Attempts:    2,
		MaxAttempts: 5,
		Backoff:     ExponentialBackoff(5 * time.Second),
		RunAt:       now.Add(time.Hour),
		CreatedAt:   now,
	}

	fields := jobToMap(j)
	strs := make(map[string]string, len(fields))
	for k, v := range fields {
		strs[k] = v.(string)
	}
	assert.Equal(t, "b", strs["broadcast_id"])

	back, err := mapToJob(strs)
	require.NoError(t, err)
	assert.Equal(t, j, back)
}
