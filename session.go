package main

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

const (
	maxCodenameRunes = 32
	uplinkFailedLine = "⚠ autonomous uplink failed - systems check required"
)

// establishSession restores the session carried by token or, failing that,
// creates an anonymous one. restored reports which path was taken.
func establishSession(ctx context.Context, auth Authenticator, token string) (sess *AuthSession, restored bool, err error) {
	sess, err = auth.GetSession(ctx, token)
	if err != nil {
		return nil, false, wrapError(CodeAuthFailure, uplinkFailedLine, err)
	}
	if sess != nil {
		return sess, true, nil
	}
	sess, err = auth.SignInAnonymously(ctx)
	if err != nil {
		return nil, false, wrapError(CodeAuthFailure, uplinkFailedLine, err)
	}
	return sess, false, nil
}

// Boot binds the relay to sess and resolves the codename: remote profile,
// then cached codename (pushed to the profile), then ask the user.
func (r *Relay) Boot(ctx context.Context, sess *AuthSession, restored bool, local LocalStore) error {
	if r.gw == nil {
		return ErrConfigurationMissing
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = r.clock.Now()
	r.state.Session = sess
	if restored {
		r.addLogLocked("✓ session restored from deep space cache", "sys")
	} else {
		r.addLogLocked("✓ anonymous session initialized", "sys")
	}

	if r.initialized.Load() {
		r.loadDashboardLocked(ctx)
		r.publishStateLocked()
		return nil
	}
	r.resolveIdentityLocked(ctx, local)
	return nil
}

func (r *Relay) resolveIdentityLocked(ctx context.Context, local LocalStore) {
	userID := r.state.Session.UserID
	cached := cachedCodename(local)

	profile, err := r.gw.GetProfile(ctx, userID)
	if err != nil {
		remoteFailed("Identity restoration", err)
		r.askCodenameLocked()
		return
	}
	if profile != nil && profile.Codename != "" {
		r.state.Codename = profile.Codename
		if local != nil {
			local.Set(codenameCacheKey, profile.Codename)
		}
		r.completeInitializationLocked(ctx)
		return
	}
	if cached != guestCodename {
		if err := r.gw.UpsertProfile(ctx, Profile{ID: userID, Codename: cached}); err != nil {
			remoteFailed("Identity restoration", err)
			r.askCodenameLocked()
			return
		}
		r.state.Codename = cached
		r.completeInitializationLocked(ctx)
		return
	}
	r.askCodenameLocked()
}

func (r *Relay) askCodenameLocked() {
	r.state.NeedsCodename = true
	r.publishStateLocked()
}

// SubmitCodename confirms the user's codename. It is a no-op once the relay
// is initialized.
func (r *Relay) SubmitCodename(ctx context.Context, input string, local LocalStore) error {
	if r.initialized.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Session == nil {
		return ErrNotInitialized
	}
	if r.gw == nil {
		return ErrConfigurationMissing
	}
	name := normalizeCodename(input)
	if name == "" {
		return ErrCodenameRequired
	}

	r.lastActive = r.clock.Now()
	r.state.Codename = name
	if local != nil {
		local.Set(codenameCacheKey, name)
	}
	if err := r.gw.UpsertProfile(ctx, Profile{ID: r.state.Session.UserID, Codename: name}); err != nil {
		remoteFailed("Profile setup", err)
		r.addLogLocked("Profile setup failed. Retrying sync...", "error")
		return wrapError(CodeRemoteOperationFailure, "profile setup failed", err)
	}
	r.addLogLocked(fmt.Sprintf("Station %s initialized. Link stable.", strings.ToUpper(name)), "sys")
	r.completeInitializationLocked(ctx)
	return nil
}

func normalizeCodename(input string) string {
	name := strings.TrimSpace(input)
	if utf8.RuneCountInString(name) > maxCodenameRunes {
		name = strings.TrimSpace(string([]rune(name)[:maxCodenameRunes]))
	}
	return name
}

func (r *Relay) completeInitializationLocked(ctx context.Context) {
	r.initialized.Store(true)
	r.state.NeedsCodename = false
	r.loadDashboardLocked(ctx)
	r.addLogLocked(fmt.Sprintf("Welcome back, Commander %s. Systems nominal.", r.state.Codename), "sys")
	r.publishStateLocked()
}

func (r *Relay) loadDashboardLocked(ctx context.Context) {
	if r.gw == nil || r.state.Session == nil {
		return
	}
	r.fetchLogsLocked(ctx)
	r.fetchLeaderboardLocked(ctx)
	r.fetchDailyMissionLocked(ctx, r.clock.Now())
	r.fetchAchievementsLocked(ctx, true)
}

// fetchLogsLocked replays the user's recent history into the console,
// oldest first.
func (r *Relay) fetchLogsLocked(ctx context.Context) {
	logs, err := r.gw.RecentLogs(ctx, r.state.Session.UserID, recentLogLimit)
	if err != nil {
		remoteFailed("Fetch logs", err)
		return
	}
	now := r.clock.Now()
	r.addLogLocked("System booted. Ready to ping.", "sys")
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		r.addLogLocked(fmt.Sprintf("[LOG] %s: %s (%s)", l.Event, l.Message, humanize.RelTime(l.CreatedAt, now, "ago", "from now")), "sys")
	}
}
