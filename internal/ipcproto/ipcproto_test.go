package ipcproto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekType(t *testing.T) {
	typ, err := PeekType([]byte(`{"type":"Pause","timestamp":"2026-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, CmdPause, typ)
}

func TestPeekType_MalformedJSON(t *testing.T) {
	_, err := PeekType([]byte(`not json`))
	assert.Error(t, err)
}

func TestEnvelopeFieldsFlattenIntoCommand(t *testing.T) {
	cmd := TaskStartCommand{
		Envelope: NewEnvelope(CmdTaskStart, "inst-1", "req-1"),
		TaskID:   "f-abc",
	}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, CmdTaskStart, generic["type"])
	assert.Equal(t, "inst-1", generic["instance_id"])
	assert.Equal(t, "req-1", generic["request_id"])
	assert.Equal(t, "f-abc", generic["task_id"])
}

func TestSnapshotEventFlattensBoardFields(t *testing.T) {
	evt := SnapshotEvent{Envelope: NewEnvelope(EvtSnapshot, "inst-1", "")}
	evt.Paused = true
	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, EvtSnapshot, generic["type"])
	assert.Equal(t, true, generic["paused"])
	_, hasRequestID := generic["request_id"]
	assert.False(t, hasRequestID)
}
