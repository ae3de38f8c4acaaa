package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/djamfikr7/ble32/pkg/scale"
)

// CalibrateCommand is the tag byte of a calibrate write.
const CalibrateCommand = 0x01

// ErrIgnored is returned for writes that are not a command at all, such as a
// calibrate payload with the wrong tag. Callers drop them silently.
var ErrIgnored = errors.New("command ignored")

// Channel identifies one logical characteristic of the scale service.
type Channel uint8

const (
	ChannelWeight    Channel = 0x02
	ChannelTare      Channel = 0x03
	ChannelCalibrate Channel = 0x04
	ChannelBattery   Channel = 0x05
	ChannelSettings  Channel = 0x06
	ChannelStatus    Channel = 0x07
)

// ServiceUUID identifies the scale service.
const ServiceUUID = "4a4e0001-6746-4b4e-8164-656e67696e65"

var channelNames = map[Channel]string{
	ChannelWeight:    "weight",
	ChannelTare:      "tare",
	ChannelCalibrate: "calibrate",
	ChannelBattery:   "battery",
	ChannelSettings:  "settings",
	ChannelStatus:    "status",
}

// Channels lists every channel in id order.
func Channels() []Channel {
	return []Channel{ChannelWeight, ChannelTare, ChannelCalibrate, ChannelBattery, ChannelSettings, ChannelStatus}
}

func (c Channel) String() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return fmt.Sprintf("channel(0x%02x)", uint8(c))
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	_, ok := channelNames[c]
	return ok
}

// UUID returns the characteristic UUID of c. It shares the service UUID with
// the channel id in the second byte of the first group.
func (c Channel) UUID() string {
	return fmt.Sprintf("4a4e%04x%s", uint16(c), ServiceUUID[8:])
}

// ParseChannel maps a channel name back to its id.
func ParseChannel(name string) (Channel, bool) {
	for c, n := range channelNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// DecodeCalibrate returns the reference mass of a calibrate write.
func DecodeCalibrate(b []byte) (float32, error) {
	if len(b) < 5 || b[0] != CalibrateCommand {
		return 0, ErrIgnored
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b[1:5])), nil
}

// EncodeCalibrate builds a calibrate write for reference grams.
func EncodeCalibrate(reference float32) []byte {
	b := make([]byte, 5)
	b[0] = CalibrateCommand
	binary.LittleEndian.PutUint32(b[1:5], math.Float32bits(reference))
	return b
}

// EncodeFactor is the readable value of the calibrate channel: the
// calibration factor as a little-endian float32.
func EncodeFactor(factor float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(factor))
	return b
}

// DecodeSettings returns the unit selected by a settings write. Unknown unit
// codes are rejected so the current unit is kept.
func DecodeSettings(b []byte) (scale.Unit, error) {
	if len(b) == 0 {
		return 0, ErrIgnored
	}
	u := scale.Unit(b[0])
	if !u.Valid() {
		return 0, fmt.Errorf("%w: %d", scale.ErrInvalidUnit, b[0])
	}
	return u, nil
}

// EncodeSettings builds a settings write.
func EncodeSettings(u scale.Unit) []byte {
	return []byte{uint8(u)}
}
