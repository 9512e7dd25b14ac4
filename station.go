package main

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"
)

const (
	defaultIdleTimeout  = 30 * time.Minute
	defaultLogRetention = 30 * 24 * time.Hour
	cleanupEvery        = time.Hour
)

type StationOptions struct {
	FrameInterval time.Duration
	StormPenalty  int
	IdleTimeout   time.Duration
	LogRetention  time.Duration
}

// Station keeps one Relay per signed-in user and shares the storm, the
// gateway and the authenticator between them.
type Station struct {
	mu sync.Mutex

	cfg   *Config
	gw    Gateway
	auth  Authenticator
	storm *Storm
	clock Clock
	opts  StationOptions

	relays          map[string]*Relay
	seed            int64
	lastCleanupDate string
}

func newStation(gw Gateway, auth Authenticator, storm *Storm, clock Clock, opts StationOptions) *Station {
	if clock == nil {
		clock = systemClock{}
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.LogRetention <= 0 {
		opts.LogRetention = defaultLogRetention
	}
	st := &Station{
		gw:     gw,
		auth:   auth,
		storm:  storm,
		clock:  clock,
		opts:   opts,
		relays: map[string]*Relay{},
		seed:   time.Now().UnixNano(),
	}
	if storm != nil {
		storm.OnChange(st.broadcastStorm)
	}
	return st
}

// Boot restores or creates the caller's session and returns its relay.
func (st *Station) Boot(ctx context.Context, token string, local LocalStore) (*Relay, *AuthSession, error) {
	if st.gw == nil || st.auth == nil {
		return nil, nil, ErrConfigurationMissing
	}
	sess, restored, err := establishSession(ctx, st.auth, token)
	if err != nil {
		return nil, nil, err
	}
	relay := st.relayFor(sess.UserID)
	if err := relay.Boot(ctx, sess, restored, local); err != nil {
		return nil, nil, err
	}
	return relay, sess, nil
}

// Resolve finds the relay for an existing session token.
func (st *Station) Resolve(ctx context.Context, token string) (*Relay, error) {
	if st.auth == nil {
		return nil, ErrConfigurationMissing
	}
	sess, err := st.auth.GetSession(ctx, token)
	if err != nil || sess == nil {
		return nil, ErrNotInitialized
	}
	st.mu.Lock()
	relay, ok := st.relays[sess.UserID]
	st.mu.Unlock()
	if !ok {
		return nil, ErrNotInitialized
	}
	relay.touch()
	return relay, nil
}

func (st *Station) relayFor(userID string) *Relay {
	st.mu.Lock()
	defer st.mu.Unlock()
	if relay, ok := st.relays[userID]; ok {
		return relay
	}
	st.seed++
	var hazard HazardSource
	if st.storm != nil {
		hazard = st.storm
	}
	relay := newRelay(st.gw, hazard, st.clock, mathrand.New(mathrand.NewSource(st.seed)), RelayOptions{
		FrameInterval: st.opts.FrameInterval,
		StormPenalty:  st.opts.StormPenalty,
	})
	st.relays[userID] = relay
	return relay
}

func (st *Station) snapshotRelays() []*Relay {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Relay, 0, len(st.relays))
	for _, r := range st.relays {
		out = append(out, r)
	}
	return out
}

func (st *Station) broadcastStorm(active bool) {
	for _, r := range st.snapshotRelays() {
		r.onStorm(active)
	}
}

func (st *Station) relayCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.relays)
}

// reapIdle drops relays with no subscribers, no transmission in flight and
// no activity since the idle timeout.
func (st *Station) reapIdle(now time.Time) int {
	cutoff := now.Add(-st.opts.IdleTimeout)

	st.mu.Lock()
	var reaped []*Relay
	for id, r := range st.relays {
		if r.idleSince(cutoff) {
			delete(st.relays, id)
			reaped = append(reaped, r)
		}
	}
	st.mu.Unlock()

	for _, r := range reaped {
		r.closeAll()
	}
	return len(reaped)
}

func (st *Station) reaperLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-st.clock.After(st.opts.IdleTimeout / 2):
		}
		if n := st.reapIdle(st.clock.Now()); n > 0 {
			logf(st.cfg, "REAP: dropped %d idle relays", n)
		}
	}
}

// runDailyCleanup prunes mission logs older than the retention window, at
// most once per UTC day.
func (st *Station) runDailyCleanup(ctx context.Context, now time.Time) (int64, error) {
	today := now.UTC().Format("2006-01-02")
	st.mu.Lock()
	if st.lastCleanupDate == today {
		st.mu.Unlock()
		return 0, nil
	}
	st.lastCleanupDate = today
	st.mu.Unlock()

	if st.gw == nil {
		return 0, nil
	}
	return st.gw.PruneLogs(ctx, now.Add(-st.opts.LogRetention))
}

func (st *Station) cleanupLoop(ctx context.Context) error {
	for {
		if n, err := st.runDailyCleanup(ctx, st.clock.Now()); err != nil {
			remoteFailed("Prune logs", err)
		} else if n > 0 {
			logf(st.cfg, "CLEANUP: pruned %d mission logs", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-st.clock.After(cleanupEvery):
		}
	}
}
