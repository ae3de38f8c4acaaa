package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/scale"
)

type fakeCommander struct {
	tares      int
	references []float64
	units      []scale.Unit
	err        error
}

func (f *fakeCommander) Tare() error {
	f.tares++
	return f.err
}

func (f *fakeCommander) Calibrate(reference float64) error {
	f.references = append(f.references, reference)
	return f.err
}

func (f *fakeCommander) SetUnit(u scale.Unit) error {
	f.units = append(f.units, u)
	return f.err
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name    string
		channel packet.Channel
		payload []byte
		wantErr error
		check   func(t *testing.T, f *fakeCommander)
	}{
		{
			name:    "tare ignores payload",
			channel: packet.ChannelTare,
			payload: []byte{0xff},
			check: func(t *testing.T, f *fakeCommander) {
				assert.Equal(t, 1, f.tares)
			},
		},
		{
			name:    "calibrate",
			channel: packet.ChannelCalibrate,
			payload: packet.EncodeCalibrate(100),
			check: func(t *testing.T, f *fakeCommander) {
				assert.Equal(t, []float64{100}, f.references)
			},
		},
		{
			name:    "calibrate with wrong tag",
			channel: packet.ChannelCalibrate,
			payload: []byte{0x07, 0, 0, 0xc8, 0x42},
			wantErr: packet.ErrIgnored,
			check: func(t *testing.T, f *fakeCommander) {
				assert.Empty(t, f.references)
			},
		},
		{
			name:    "settings",
			channel: packet.ChannelSettings,
			payload: []byte{byte(scale.UnitKilograms)},
			check: func(t *testing.T, f *fakeCommander) {
				assert.Equal(t, []scale.Unit{scale.UnitKilograms}, f.units)
			},
		},
		{
			name:    "settings out of range",
			channel: packet.ChannelSettings,
			payload: []byte{9},
			wantErr: scale.ErrInvalidUnit,
			check: func(t *testing.T, f *fakeCommander) {
				assert.Empty(t, f.units)
			},
		},
		{
			name:    "read-only channel",
			channel: packet.ChannelWeight,
			payload: []byte{1},
			wantErr: packet.ErrIgnored,
		},
		{
			name:    "unknown channel",
			channel: packet.Channel(0x42),
			wantErr: packet.ErrIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCommander{}
			err := Dispatch(f, tt.channel, tt.payload)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestDispatch_CommanderError(t *testing.T) {
	boom := errors.New("sensor not ready")
	err := Dispatch(&fakeCommander{err: boom}, packet.ChannelTare, nil)
	assert.ErrorIs(t, err, boom)
}

type recordingSink struct {
	weights  [][packet.Size]byte
	battery  []uint8
	statuses []string
	err      error
}

func (r *recordingSink) SendWeight(b [packet.Size]byte) error {
	r.weights = append(r.weights, b)
	return r.err
}

func (r *recordingSink) SendBattery(p uint8) error {
	r.battery = append(r.battery, p)
	return r.err
}

func (r *recordingSink) SendStatus(s string) error {
	r.statuses = append(r.statuses, s)
	return r.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingSink{}
	bad := &recordingSink{err: boom}
	m := Multi{ok, bad}

	report := packet.Encode(scale.State{LastFiltered: 1}, 50)
	assert.ErrorIs(t, m.SendWeight(report), boom)
	assert.ErrorIs(t, m.SendBattery(50), boom)
	assert.ErrorIs(t, m.SendStatus("1.0 g unstable ok"), boom)

	// A failing sink does not stop delivery to the others.
	assert.Len(t, ok.weights, 1)
	assert.Equal(t, []uint8{50}, ok.battery)
	assert.Equal(t, []string{"1.0 g unstable ok"}, ok.statuses)

	assert.NoError(t, Multi{ok}.SendBattery(1))
	assert.NoError(t, Multi{}.SendStatus(""))
}

func TestFrame(t *testing.T) {
	f := Frame(packet.ChannelBattery, []byte{77})
	assert.Equal(t, []byte{0x05, 77}, f)

	c, payload, err := Unframe(f)
	require.NoError(t, err)
	assert.Equal(t, packet.ChannelBattery, c)
	assert.Equal(t, []byte{77}, payload)

	_, _, err = Unframe(nil)
	assert.ErrorIs(t, err, packet.ErrIgnored)
}

type calibrationSink struct {
	recordingSink
	factors []float32
}

func (c *calibrationSink) SendCalibration(f float32) error {
	c.factors = append(c.factors, f)
	return nil
}

func TestMulti_SendCalibration(t *testing.T) {
	plain := &recordingSink{}
	cs := &calibrationSink{}

	require.NoError(t, Multi{plain, cs}.SendCalibration(420))
	assert.Equal(t, []float32{420}, cs.factors)
}
