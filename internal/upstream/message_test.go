package upstream

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"pulse.klederson.com/internal/state"
)

func TestDecode_Data(t *testing.T) {
	msg, err := Decode([]byte(`{"bpm": 85, "timestamp": 1234567890, "rr_ms": [820.5]}`))
	require.NoError(t, err)

	data, ok := msg.(DataMessage)
	require.True(t, ok)
	require.Equal(t, 85.0, data.BPM)
	require.Equal(t, int64(1234567890), data.Timestamp)
	require.Equal(t, []float64{820.5}, data.RR)
}

func TestDecode_DataWithoutTimestamp(t *testing.T) {
	msg, err := Decode([]byte(`{"bpm": 72}`))
	require.NoError(t, err)

	s := msg.(DataMessage).Sample(5000)
	require.Equal(t, int64(5000), s.Timestamp)
	require.Equal(t, 72.0, s.Value)
}

func TestDecode_Status(t *testing.T) {
	msg, err := Decode([]byte(`{"status": "connected", "device": "Polar H10"}`))
	require.NoError(t, err)

	st, ok := msg.(StatusMessage)
	require.True(t, ok)
	require.Equal(t, state.Connected, st.Phase)
	require.Equal(t, "Polar H10", st.Device)

	msg, err = Decode([]byte(`{"status": "scanning"}`))
	require.NoError(t, err)
	require.Equal(t, StatusMessage{Phase: state.Scanning}, msg)
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`[1,2,3]`,
		`"bpm"`,
		`{}`,
		`{"heart": 70}`,
		`{"bpm": "fast"}`,
		`{"bpm": 70, "timestamp": "now"}`,
		`{"status": "dancing"}`,
	} {
		_, err := Decode([]byte(raw))
		require.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestEncodeData(t *testing.T) {
	b, err := EncodeData(72, nil, 1704910800000)
	require.NoError(t, err)
	require.Equal(t, int64(1704910800000), gjson.GetBytes(b, "timestamp").Int())
	require.False(t, gjson.GetBytes(b, "rr_ms").Exists())

	b, err = EncodeData(72, []float64{820.3515625}, 1)
	require.NoError(t, err)
	require.Equal(t, 820.35, gjson.GetBytes(b, "rr_ms.0").Float())

	msg, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, 72.0, msg.(DataMessage).BPM)
}

func TestEncodeStatus(t *testing.T) {
	b, err := EncodeStatus(state.Disconnected, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"disconnected"}`, string(b))

	b, err = EncodeStatus(state.Connected, "H10")
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"connected","device":"H10"}`, string(b))
}
