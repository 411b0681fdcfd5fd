package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Heart Rate Measurement (0x2A37) flag bits.
const (
	flagUint16BPM        = 1 << 0
	flagContactDetected  = 1 << 1
	flagContactSupported = 1 << 2
	flagEnergy           = 1 << 3
	flagRR               = 1 << 4
)

var (
	ErrEmptyMeasurement = errors.New("empty heart rate measurement")
	ErrShortMeasurement = errors.New("heart rate measurement too short")
)

// Measurement is one decoded Heart Rate Measurement notification.
type Measurement struct {
	BPM     int
	Contact *bool     // nil when the sensor does not report contact
	Energy  *int      // kJ, nil when absent
	RR      []float64 // ms
}

// ParseMeasurement decodes the raw characteristic value.
func ParseMeasurement(data []byte) (Measurement, error) {
	if len(data) == 0 {
		return Measurement{}, ErrEmptyMeasurement
	}
	flags := data[0]

	need := 2
	if flags&flagUint16BPM != 0 {
		need = 3
	}
	if flags&flagEnergy != 0 {
		need += 2
	}
	if len(data) < need {
		return Measurement{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortMeasurement, len(data), need)
	}

	var m Measurement
	off := 2
	if flags&flagUint16BPM != 0 {
		m.BPM = int(binary.LittleEndian.Uint16(data[1:3]))
		off = 3
	} else {
		m.BPM = int(data[1])
	}

	if flags&flagContactSupported != 0 {
		c := flags&flagContactDetected != 0
		m.Contact = &c
	}

	if flags&flagEnergy != 0 {
		e := int(binary.LittleEndian.Uint16(data[off : off+2]))
		m.Energy = &e
		off += 2
	}

	if flags&flagRR != 0 {
		for ; off+2 <= len(data); off += 2 {
			raw := binary.LittleEndian.Uint16(data[off : off+2])
			m.RR = append(m.RR, float64(raw)*1000/1024)
		}
	}
	return m, nil
}

// EncodeMeasurement is the inverse of ParseMeasurement. RR values are
// truncated to 1/1024 s resolution.
func EncodeMeasurement(m Measurement) []byte {
	var flags byte
	out := []byte{0}

	if m.BPM > 0xFF {
		flags |= flagUint16BPM
		out = binary.LittleEndian.AppendUint16(out, uint16(m.BPM))
	} else {
		out = append(out, byte(m.BPM))
	}
	if m.Contact != nil {
		flags |= flagContactSupported
		if *m.Contact {
			flags |= flagContactDetected
		}
	}
	if m.Energy != nil {
		flags |= flagEnergy
		out = binary.LittleEndian.AppendUint16(out, uint16(*m.Energy))
	}
	if len(m.RR) > 0 {
		flags |= flagRR
		for _, rr := range m.RR {
			out = binary.LittleEndian.AppendUint16(out, uint16(rr*1024/1000))
		}
	}
	out[0] = flags
	return out
}
