package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	st := NewState()
	st.History["ETH"] = []HistoryPoint{{TS: 100, Price: 3000.5, OIUSD: 12}}
	st.NegHours["ETH"] = 1.5
	st.Cooldowns["margin_low"] = 99
	st.UpdatedAt = 100

	raw, err := st.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"history":{"ETH":[[100,3000.5,12]]},"neg_hours":{"ETH":1.5},"cooldowns":{"margin_low":99},"updated_at":100}`, string(raw))
	assert.Equal(t, st, DecodeState(raw))
}

func TestDecodeStateTolerant(t *testing.T) {
	for _, raw := range []string{"", "null", "[1,2]", "{broken"} {
		st := DecodeState([]byte(raw))
		assert.NotNil(t, st.History, raw)
		assert.Empty(t, st.History, raw)
		assert.Empty(t, st.Cooldowns, raw)
	}

	st := DecodeState([]byte(`{
		"history": {"ETH": [[200, 1, 2], "junk", [100, "x", 1], [50, 3, 4], [1, 2]], "BAD": "nope"},
		"neg_hours": {"ETH": 2, "SOL": "x"},
		"cooldowns": {"delta_warning:ETH": 150.0, "x": null},
		"updated_at": "later"
	}`))
	require.Len(t, st.History["ETH"], 2)
	assert.Equal(t, int64(50), st.History["ETH"][0].TS, "points are re-sorted")
	assert.NotContains(t, st.History, "BAD")
	assert.Equal(t, map[string]float64{"ETH": 2}, st.NegHours)
	assert.Equal(t, map[string]int64{"delta_warning:ETH": 150}, st.Cooldowns)
	assert.Zero(t, st.UpdatedAt)
}

func TestEncodeNilMaps(t *testing.T) {
	raw, err := State{}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"history":{},"neg_hours":{},"cooldowns":{},"updated_at":0}`, string(raw))
}
