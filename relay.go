package main

import (
	"context"
	"fmt"
	"log"
	mathrand "math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxConsole           = 100
	recentLogLimit       = 20
	leaderboardLimit     = 10
	defaultMessage       = "Anyone out there?"
	defaultFrameInterval = 100 * time.Millisecond
	defaultStormPenalty  = 40
)

// Stats are process-local counters; individual fields feed remote aggregates.
type Stats struct {
	Sent           int `json:"sent"`
	Lost           int `json:"lost"`
	MarsPings      int `json:"mars_pings"`
	StormsSurvived int `json:"storms_survived"`
}

// AppState is everything one station knows about its user.
type AppState struct {
	Session  *AuthSession
	Codename string
	Stats    Stats

	Mission         *DailyMission
	MissionProgress int
	CompletedToday  bool
	MissionDate     string

	NeedsCodename bool

	Leaderboard []LeaderboardEntry
	Badges      []BadgeView
}

// HazardSource reports whether a solar storm is raging.
type HazardSource interface {
	Active() bool
}

type RelayOptions struct {
	FrameInterval time.Duration
	StormPenalty  int
}

// Relay owns one user's station: session, counters, mission flags and the
// single in-flight transmission.
type Relay struct {
	mu sync.Mutex

	gw     Gateway
	hazard HazardSource
	clock  Clock
	rng    *mathrand.Rand
	opts   RelayOptions

	state      AppState
	console    []LogLine
	lastActive time.Time
	nextTxID   int64

	initialized atomic.Bool
	sending     atomic.Bool

	feed
}

func newRelay(gw Gateway, hazard HazardSource, clock Clock, rng *mathrand.Rand, opts RelayOptions) *Relay {
	if clock == nil {
		clock = systemClock{}
	}
	if rng == nil {
		rng = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = defaultFrameInterval
	}
	if opts.StormPenalty <= 0 {
		opts.StormPenalty = defaultStormPenalty
	}
	return &Relay{
		gw:         gw,
		hazard:     hazard,
		clock:      clock,
		rng:        rng,
		opts:       opts,
		state:      AppState{Codename: guestCodename},
		console:    []LogLine{},
		lastActive: clock.Now(),
	}
}

type TransmitRequest struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Message     string  `json:"message"`
	Speed       float64 `json:"speed"`
	LossRate    int     `json:"loss_rate"`
}

// Transmission is a signal between Send and its resolution.
type Transmission struct {
	ID       string        `json:"id"`
	Route    Route         `json:"route"`
	Message  string        `json:"message"`
	Speed    float64       `json:"speed"`
	LossRate int           `json:"loss_rate"`
	Duration time.Duration `json:"duration"`
}

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeLost      Outcome = "lost"
)

type TransmissionResult struct {
	ID         string  `json:"id"`
	Outcome    Outcome `json:"outcome"`
	LossChance int     `json:"loss_chance"`
	Storming   bool    `json:"storming"`
}

// Send validates a request and moves the relay from Idle to InFlight. The
// caller must follow a successful Send with Fly.
func (r *Relay) Send(ctx context.Context, req TransmitRequest) (*Transmission, error) {
	if !r.initialized.Load() {
		r.addLog("Uplink not initialized. Identify yourself first.", "error")
		return nil, ErrNotInitialized
	}
	if !r.sending.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}
	if strings.EqualFold(strings.TrimSpace(req.Origin), strings.TrimSpace(req.Destination)) {
		r.sending.Store(false)
		r.addLog("Talking to yourself isn't productive, Commander.", "error")
		return nil, newError(CodeInvalidRoute, "origin and destination must differ")
	}
	route, err := resolveRoute(req.Origin, req.Destination)
	if err != nil {
		r.sending.Store(false)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		msg = defaultMessage
	}
	r.nextTxID++
	tx := &Transmission{
		ID:       fmt.Sprintf("tx-%d", r.nextTxID),
		Route:    route,
		Message:  msg,
		Speed:    normalizeSpeed(req.Speed),
		LossRate: clampInt(req.LossRate, 0, 100),
	}
	tx.Duration = route.Duration(tx.Speed)

	r.state.Stats.Sent++
	r.lastActive = r.clock.Now()
	r.addLogLocked(fmt.Sprintf("Beaming signal to %s...", route.To.Name), "sent")
	r.logEventLocked(ctx, "send", fmt.Sprintf("Signal launched from %s to %s", route.From.ID, route.To.ID))
	r.publishStateLocked()
	return tx, nil
}

// Fly animates tx until it arrives, then resolves it. It always runs to
// completion.
func (r *Relay) Fly(ctx context.Context, tx *Transmission) TransmissionResult {
	start := r.clock.Now()
	for {
		p := progressAt(start, r.clock.Now(), tx.Duration)
		x, y := tx.Route.Position(p)
		r.Publish(Event{Type: "packet", Packet: &PacketFrame{
			ID:       tx.ID,
			From:     tx.Route.From.ID,
			To:       tx.Route.To.ID,
			Message:  tx.Message,
			Progress: p,
			X:        x,
			Y:        y,
			Done:     p >= 1,
		}})
		if p >= 1 {
			break
		}
		<-r.clock.After(r.opts.FrameInterval)
	}
	return r.finish(ctx, tx)
}

func (r *Relay) finish(ctx context.Context, tx *Transmission) TransmissionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.resolveLocked(ctx, tx)
	r.sending.Store(false)
	r.publishStateLocked()
	return res
}

// resolveLocked runs log, achievements, mission and leaderboard strictly in
// that order.
func (r *Relay) resolveLocked(ctx context.Context, tx *Transmission) TransmissionResult {
	storming := r.hazard != nil && r.hazard.Active()
	chance := lossChance(tx.LossRate, storming, r.opts.StormPenalty)
	res := TransmissionResult{ID: tx.ID, LossChance: chance, Storming: storming}
	now := r.clock.Now()
	r.lastActive = now
	dest := tx.Route.To

	if rollPercent(r.rng, chance) {
		res.Outcome = OutcomeLost
		r.state.Stats.Lost++
		r.addLogLocked(fmt.Sprintf("Uh oh... signal vanished near %s 👀", dest.Name), "error")
		r.logEventLocked(ctx, "drop", fmt.Sprintf("Signal lost near %s", dest.ID))
		return res
	}

	res.Outcome = OutcomeDelivered
	r.addLogLocked(fmt.Sprintf("Signal confirmed at %s! 🚀", dest.Name), "success")
	if dest.ID == "mars" {
		r.state.Stats.MarsPings++
	}
	r.logEventLocked(ctx, "success", fmt.Sprintf("Signal delivered to %s", dest.ID))
	r.checkAchievementsLocked(ctx, dest.ID, storming)
	if r.ensureTodayMissionLocked(ctx, now) {
		r.updateMissionProgressLocked(ctx)
	}
	r.updateLeaderboardLocked(ctx)
	return res
}

// lossChance adds the storm penalty without capping, so a heavy storm can
// push the chance past 100 and guarantee loss.
func lossChance(base int, storming bool, penalty int) int {
	if storming {
		return base + penalty
	}
	return base
}

func (r *Relay) onStorm(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active {
		r.addLogLocked("CRITICAL: Solar radiation spike detected!", "error")
	} else {
		r.addLogLocked("Radiation levels normalizing.", "sys")
		r.state.Stats.StormsSurvived++
	}
	r.Publish(Event{Type: "storm", Storm: &active})
}

func (r *Relay) logEventLocked(ctx context.Context, event, message string) {
	if r.gw == nil || r.state.Session == nil {
		return
	}
	err := r.gw.InsertLog(ctx, MissionLog{
		UserID:    r.state.Session.UserID,
		Event:     event,
		Message:   message,
		Codename:  r.state.Codename,
		CreatedAt: r.clock.Now(),
	})
	if err != nil {
		remoteFailed("Log event", err)
	}
}

func remoteFailed(op string, err error) {
	log.Printf("%s failed: %v", op, err)
}

func (r *Relay) addLog(text, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLogLocked(text, kind)
}

func (r *Relay) addLogLocked(text, kind string) {
	line := LogLine{Text: text, Kind: kind, At: r.clock.Now()}
	r.console = append(r.console, line)
	if len(r.console) > maxConsole {
		r.console = r.console[len(r.console)-maxConsole:]
	}
	r.Publish(Event{Type: "log", Log: &line})
}

// StateView is the JSON snapshot served to the UI.
type StateView struct {
	UserID        string             `json:"user_id,omitempty"`
	Codename      string             `json:"codename"`
	Initialized   bool               `json:"initialized"`
	NeedsCodename bool               `json:"needs_codename"`
	Sending       bool               `json:"sending"`
	Storming      bool               `json:"storming"`
	Stats         Stats              `json:"stats"`
	Mission       *MissionView       `json:"mission,omitempty"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	Achievements  []BadgeView        `json:"achievements"`
	Console       []LogLine          `json:"console"`
	Locations     []Location         `json:"locations"`
}

func (r *Relay) Snapshot() StateView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Relay) snapshotLocked() StateView {
	v := StateView{
		Codename:      r.state.Codename,
		Initialized:   r.initialized.Load(),
		NeedsCodename: r.state.NeedsCodename,
		Sending:       r.sending.Load(),
		Storming:      r.hazard != nil && r.hazard.Active(),
		Stats:         r.state.Stats,
		Mission:       r.missionViewLocked(),
		Leaderboard:   append([]LeaderboardEntry{}, r.state.Leaderboard...),
		Achievements:  append([]BadgeView{}, r.state.Badges...),
		Console:       append([]LogLine{}, r.console...),
		Locations:     locationList(),
	}
	if r.state.Session != nil {
		v.UserID = r.state.Session.UserID
	}
	return v
}

func (r *Relay) publishStateLocked() {
	v := r.snapshotLocked()
	r.Publish(Event{Type: "state", State: &v})
}

func (r *Relay) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = r.clock.Now()
}

// idleSince reports whether the relay can be reaped.
func (r *Relay) idleSince(cutoff time.Time) bool {
	if r.sending.Load() || r.subscriberCount() > 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive.Before(cutoff)
}
