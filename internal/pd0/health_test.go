package pd0

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthClassification(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		h        Health
		ok       bool
		fatal    bool
		code     int
		sentinel error
	}{
		{name: "healthy", h: healthy(4), ok: true, code: 0},
		{name: "end of stream", h: endOfStream(2), ok: true, code: 0},
		{name: "wrong format", h: Health{Condition: WrongFormat}, fatal: true, code: 5, sentinel: ErrWrongFormat},
		{name: "unavailable first", h: unavailableAt(0, 4, 6), fatal: true, code: 6, sentinel: ErrDataTypeUnavailable},
		{name: "unavailable later", h: unavailableAt(3, 4, 6), code: 6, sentinel: ErrDataTypeUnavailable},
		{name: "corrupted", h: corruptedAt(7, "bad header"), code: 8, sentinel: ErrCorrupted},
		{name: "unknown io", h: unknownIO(1, boom), code: 99, sentinel: boom},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.ok, tc.h.OK())
			require.Equal(t, tc.fatal, tc.h.Fatal())
			require.Equal(t, tc.code, tc.h.Code())
			if tc.sentinel == nil {
				require.NoError(t, tc.h.Err())
				return
			}
			require.ErrorIs(t, tc.h.Err(), tc.sentinel)
		})
	}
}

func TestHealthJSON(t *testing.T) {
	b, err := json.Marshal(unavailableAt(5, 4, 6))
	require.NoError(t, err)
	require.JSONEq(t, `{"condition":"data-type-unavailable","ensembles":5,"at":5,"available":4,"requested":6}`, string(b))
}

func TestBlockName(t *testing.T) {
	require.Equal(t, "Fixed Leader", BlockName(0x0001))
	require.Equal(t, "Variable Leader", BlockName(0x0080))
	require.Equal(t, "Status", BlockName(0x0500))
	require.Equal(t, "Bottom Track", BlockName(0x0600))
	require.Equal(t, "Unknown", BlockName(0x7F7F))
}
