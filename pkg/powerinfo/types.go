// Package powerinfo supplies the battery percentage carried in every weight
// report and on the battery channel.
package powerinfo

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/distatus/battery"
)

// ErrNoBattery is returned when the host has no battery to report.
var ErrNoBattery = errors.New("no batteries found")

// Source returns a battery level in percent, 0..100.
type Source interface {
	Percent() (uint8, error)
}

// HostBattery reads the first battery of the host.
type HostBattery struct {
	// getAll is battery.GetAll, swapped in tests.
	getAll func() ([]*battery.Battery, error)
}

func NewHostBattery() *HostBattery {
	return &HostBattery{getAll: battery.GetAll}
}

func (h *HostBattery) Percent() (uint8, error) {
	batteries, err := h.getAll()
	if err != nil && len(batteries) == 0 {
		return 0, err
	}
	for _, bat := range batteries {
		if bat == nil || bat.Full <= 0 {
			continue
		}
		return Clamp(bat.Current / bat.Full * 100), nil
	}
	return 0, ErrNoBattery
}

// Fixed reports a settable level, for hosts without a battery.
type Fixed struct {
	percent atomic.Uint32
}

func NewFixed(percent uint8) *Fixed {
	f := &Fixed{}
	f.Set(percent)
	return f
}

func (f *Fixed) Set(percent uint8) {
	if percent > 100 {
		percent = 100
	}
	f.percent.Store(uint32(percent))
}

func (f *Fixed) Percent() (uint8, error) {
	return uint8(f.percent.Load()), nil
}

// Clamp rounds p to an integer percentage within 0..100.
func Clamp(p float64) uint8 {
	switch {
	case math.IsNaN(p) || p <= 0:
		return 0
	case p >= 100:
		return 100
	default:
		return uint8(math.Round(p))
	}
}
