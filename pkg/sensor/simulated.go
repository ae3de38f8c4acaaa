package sensor

import (
	"math/rand"
	"sync"
)

// Simulated is a driver backed by a settable load, used when no hardware is
// attached. It produces counts as offset + grams*countsPerGram + noise.
type Simulated struct {
	mu            sync.Mutex
	grams         float64
	noise         float64
	countsPerGram float64
	offset        float64
	ready         bool
	rnd           *rand.Rand
}

// NewSimulated returns a ready simulated driver with no load and no noise.
func NewSimulated(countsPerGram float64, seed int64) *Simulated {
	if countsPerGram == 0 {
		countsPerGram = 1
	}
	return &Simulated{
		countsPerGram: countsPerGram,
		ready:         true,
		rnd:           rand.New(rand.NewSource(seed)),
	}
}

// SetLoad sets the weight on the platform. Negative loads are clamped to 0.
func (s *Simulated) SetLoad(grams float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if grams < 0 {
		grams = 0
	}
	s.grams = grams
}

func (s *Simulated) Load() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grams
}

// SetNoise sets the standard deviation of the noise, in grams.
func (s *Simulated) SetNoise(grams float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noise = grams
}

// SetOffset sets the counts read with nothing on the platform.
func (s *Simulated) SetOffset(counts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = counts
}

// SetReady toggles readiness to simulate a disconnected amplifier.
func (s *Simulated) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Simulated) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Simulated) Read() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, ErrNotReady
	}
	g := s.grams
	if s.noise > 0 {
		g += s.rnd.NormFloat64() * s.noise
	}
	return int32(s.offset + g*s.countsPerGram), nil
}
