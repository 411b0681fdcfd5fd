// Package upstream is the wire format spoken between the bridge and the HUD:
// one JSON object per WebSocket text frame, either a data sample or a status
// update.
package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"pulse.klederson.com/internal/state"
)

// ErrMalformed is returned for payloads that are not JSON objects or carry
// neither "bpm" nor "status".
var ErrMalformed = errors.New("malformed message")

// Message is DataMessage or StatusMessage.
type Message interface {
	isMessage()
}

// DataMessage carries one heart-rate reading. Timestamp is zero when the
// sender omitted it.
type DataMessage struct {
	BPM       float64   `json:"bpm"`
	Timestamp int64     `json:"timestamp"`
	RR        []float64 `json:"rr_ms,omitempty"`
}

// StatusMessage reports the sensor link phase on the far side.
type StatusMessage struct {
	Phase  state.Phase `json:"-"`
	Device string      `json:"device,omitempty"`
}

func (DataMessage) isMessage()   {}
func (StatusMessage) isMessage() {}

// Sample converts the message to a state.Sample, stamping now (ms) when the
// sender left the timestamp out.
func (m DataMessage) Sample(nowMs int64) state.Sample {
	ts := m.Timestamp
	if ts == 0 {
		ts = nowMs
	}
	return state.Sample{Value: m.BPM, Timestamp: ts, RR: m.RR}
}

// Decode classifies a single inbound frame.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	if bpm := root.Get("bpm"); bpm.Exists() {
		if bpm.Type != gjson.Number {
			return nil, fmt.Errorf("%w: bpm is %s", ErrMalformed, bpm.Type)
		}
		msg := DataMessage{BPM: bpm.Float()}
		if ts := root.Get("timestamp"); ts.Exists() {
			if ts.Type != gjson.Number {
				return nil, fmt.Errorf("%w: timestamp is %s", ErrMalformed, ts.Type)
			}
			msg.Timestamp = ts.Int()
		}
		if rr := root.Get("rr_ms"); rr.IsArray() {
			for _, v := range rr.Array() {
				if v.Type == gjson.Number {
					msg.RR = append(msg.RR, v.Float())
				}
			}
		}
		return msg, nil
	}

	if status := root.Get("status"); status.Exists() {
		phase, err := state.ParsePhase(status.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return StatusMessage{Phase: phase, Device: root.Get("device").String()}, nil
	}

	return nil, fmt.Errorf("%w: neither bpm nor status", ErrMalformed)
}

// EncodeData renders a data frame. RR intervals are rounded to two decimals
// and omitted when empty.
func EncodeData(bpm float64, rr []float64, timestampMs int64) ([]byte, error) {
	msg := DataMessage{BPM: bpm, Timestamp: timestampMs}
	if len(rr) > 0 {
		msg.RR = make([]float64, len(rr))
		for i, v := range rr {
			msg.RR[i] = math.Round(v*100) / 100
		}
	}
	return json.Marshal(msg)
}

// EncodeStatus renders a status frame. The device is only sent when known.
func EncodeStatus(phase state.Phase, device string) ([]byte, error) {
	return json.Marshal(struct {
		Status string `json:"status"`
		Device string `json:"device,omitempty"`
	}{Status: phase.String(), Device: device})
}
