package main

import (
	"sync"
	"time"
)

// Event is pushed to live subscribers of a relay.
type Event struct {
	Type string `json:"type"` // "log", "packet", "state", "storm", "mission", "leaderboard", "achievements"

	Log          *LogLine           `json:"log,omitempty"`
	Packet       *PacketFrame       `json:"packet,omitempty"`
	State        *StateView         `json:"state,omitempty"`
	Storm        *bool              `json:"storm,omitempty"`
	Mission      *MissionView       `json:"mission,omitempty"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard,omitempty"`
	Achievements []BadgeView        `json:"achievements,omitempty"`
}

// LogLine is one line of the in-game console.
type LogLine struct {
	Text string    `json:"text"`
	Kind string    `json:"kind"` // "sys", "sent", "success", "error"
	At   time.Time `json:"at"`
}

// PacketFrame is one animation frame of an in-flight signal.
type PacketFrame struct {
	ID       string  `json:"id"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Done     bool    `json:"done"`
}

const subscriberBuffer = 64

// feed fans events out to subscribers. Slow subscribers drop events rather
// than stall the relay.
type feed struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func (f *feed) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = map[chan Event]struct{}{}
	}
	f.subs[ch] = struct{}{}
	return ch
}

func (f *feed) Unsubscribe(ch chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *feed) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
