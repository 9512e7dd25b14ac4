package main

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"
)

const (
	defaultStormInterval = 30 * time.Second
	defaultStormDuration = 8 * time.Second
	defaultStormChance   = 0.05
)

// Storm is the server-wide solar storm. It rolls every interval and, when
// one starts, stays active for duration. At most one storm is active.
type Storm struct {
	mu sync.Mutex

	clock    Clock
	rng      *mathrand.Rand
	interval time.Duration
	duration time.Duration
	chance   float64

	active    bool
	endsAt    time.Time
	nextRoll  time.Time
	survived  int
	listeners []func(active bool)
}

func newStorm(clock Clock, rng *mathrand.Rand, interval, duration time.Duration, chance float64) *Storm {
	if clock == nil {
		clock = systemClock{}
	}
	if rng == nil {
		rng = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	if interval <= 0 {
		interval = defaultStormInterval
	}
	if duration <= 0 {
		duration = defaultStormDuration
	}
	return &Storm{
		clock:    clock,
		rng:      rng,
		interval: interval,
		duration: duration,
		chance:   chance,
		nextRoll: clock.Now().Add(interval),
	}
}

func (s *Storm) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Storm) Survived() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.survived
}

// OnChange registers fn to be called on every start and end.
func (s *Storm) OnChange(fn func(active bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Tick performs one roll. A roll during an active storm is discarded.
func (s *Storm) Tick(now time.Time) bool {
	s.mu.Lock()
	roll := s.rng.Float64()
	s.nextRoll = now.Add(s.interval)
	if s.active || roll >= s.chance {
		s.mu.Unlock()
		return false
	}
	s.active = true
	s.endsAt = now.Add(s.duration)
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(true)
	}
	return true
}

// Settle ends the active storm once its duration has elapsed.
func (s *Storm) Settle(now time.Time) bool {
	s.mu.Lock()
	if !s.active || now.Before(s.endsAt) {
		s.mu.Unlock()
		return false
	}
	s.active = false
	s.survived++
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(false)
	}
	return true
}

func (s *Storm) nextWake() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.endsAt.Before(s.nextRoll) {
		return s.endsAt
	}
	return s.nextRoll
}

// Run drives the storm until ctx is done.
func (s *Storm) Run(ctx context.Context) error {
	for {
		wait := s.nextWake().Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}

		now := s.clock.Now()
		s.Settle(now)
		s.mu.Lock()
		due := !now.Before(s.nextRoll)
		s.mu.Unlock()
		if due {
			s.Tick(now)
		}
	}
}
