package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecipients(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    []string
	}{
		{"in process", map[string]any{"recipients": []string{"a", "b"}}, []string{"a", "b"}},
		{"decoded", map[string]any{"recipients": []any{"a", "", 7, "b"}}, []string{"a", "b"}},
		{"missing", map[string]any{}, nil},
		{"wrong type", map[string]any{"recipients": "a"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Event{Payload: tt.payload}.Recipients())
		})
	}
}

func TestRecipientsSurviveJSON(t *testing.T) {
	raw, err := json.Marshal(Event{
		Type:    EventEscrowStatusChanged,
		Payload: map[string]any{"recipients": []string{"user-alice", "user-bob"}},
	})
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	require.Equal(t, []string{"user-alice", "user-bob"}, ev.Recipients())
}
