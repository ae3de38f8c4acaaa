// Package packet implements the fixed 12-byte weight report and the command
// payloads accepted on the control channels.
//
// Report layout, little-endian:
//
//	0..3   magic "WEIG"
//	4..7   float32 weight in grams
//	8      unit code
//	9      flags (bit0 stable, bit1 overload, bit2 negative)
//	10     battery percent
//	11     error code
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/djamfikr7/ble32/pkg/scale"
)

// Size is the length of an encoded report.
const Size = 12

// Magic is the constant tag at the start of every report.
var Magic = [4]byte{'W', 'E', 'I', 'G'}

var (
	ErrShortPacket = errors.New("packet too short")
	ErrBadMagic    = errors.New("bad packet magic")
)

// Flags is the report flag bitset.
type Flags uint8

const (
	FlagStable Flags = 1 << iota
	FlagOverload
	FlagNegative
)

func (f Flags) Stable() bool   { return f&FlagStable != 0 }
func (f Flags) Overload() bool { return f&FlagOverload != 0 }
func (f Flags) Negative() bool { return f&FlagNegative != 0 }

func (f Flags) String() string {
	return fmt.Sprintf("stable=%t overload=%t negative=%t", f.Stable(), f.Overload(), f.Negative())
}

// Report is the decoded form of a weight report.
type Report struct {
	Weight  float32         `json:"weight"`
	Unit    scale.Unit      `json:"unit"`
	Flags   Flags           `json:"flags"`
	Battery uint8           `json:"battery"`
	Error   scale.ErrorCode `json:"error"`
}

// NewReport builds the report for a pipeline state. Weight stays in grams;
// the unit byte tells the receiver how to display it.
func NewReport(st scale.State, battery uint8) Report {
	var flags Flags
	if st.Stable {
		flags |= FlagStable
	}
	if st.Error == scale.ErrorOverload {
		flags |= FlagOverload
	}
	if st.LastFiltered < 0 {
		flags |= FlagNegative
	}
	if battery > 100 {
		battery = 100
	}
	return Report{
		Weight:  float32(st.LastFiltered),
		Unit:    st.Unit,
		Flags:   flags,
		Battery: battery,
		Error:   st.Error,
	}
}

// Encode returns the wire form of st.
func Encode(st scale.State, battery uint8) [Size]byte {
	return NewReport(st, battery).Bytes()
}

// Bytes returns the wire form of r.
func (r Report) Bytes() [Size]byte {
	var b [Size]byte
	copy(b[0:4], Magic[:])
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(r.Weight))
	b[8] = uint8(r.Unit)
	b[9] = uint8(r.Flags)
	b[10] = r.Battery
	b[11] = uint8(r.Error)
	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Report) MarshalBinary() ([]byte, error) {
	b := r.Bytes()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Report) UnmarshalBinary(b []byte) error {
	d, err := Decode(b)
	if err != nil {
		return err
	}
	*r = d
	return nil
}

// Decode parses a report. Bytes past Size are ignored.
func Decode(b []byte) (Report, error) {
	if len(b) < Size {
		return Report{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if [4]byte(b[0:4]) != Magic {
		return Report{}, fmt.Errorf("%w: % x", ErrBadMagic, b[0:4])
	}
	return Report{
		Weight:  math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		Unit:    scale.Unit(b[8]),
		Flags:   Flags(b[9]),
		Battery: b[10],
		Error:   scale.ErrorCode(b[11]),
	}, nil
}
