package main

import (
	"context"
	"time"
)

// MissionView is the daily mission as the UI shows it.
type MissionView struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Target    int     `json:"target"`
	Count     int     `json:"count"`
	Percent   float64 `json:"percent"`
	Completed bool    `json:"completed"`
}

func (r *Relay) missionViewLocked() *MissionView {
	m := r.state.Mission
	if m == nil {
		return nil
	}
	target := m.Target
	if target <= 0 {
		target = 1
	}
	current := minInt(r.state.MissionProgress, target)
	return &MissionView{
		ID:        m.ID,
		Title:     m.Title,
		Target:    target,
		Count:     current,
		Percent:   float64(current) / float64(target) * 100,
		Completed: r.state.CompletedToday,
	}
}

func (r *Relay) publishMissionLocked() {
	if v := r.missionViewLocked(); v != nil {
		r.Publish(Event{Type: "mission", Mission: v})
	}
}

// fetchDailyMissionLocked reads the active mission and the user's progress
// on it. State changes only when both reads succeed. It reports whether the
// mission state is now current for now's UTC day.
func (r *Relay) fetchDailyMissionLocked(ctx context.Context, now time.Time) bool {
	if r.gw == nil || r.state.Session == nil {
		return false
	}
	mission, err := r.gw.ActiveMission(ctx)
	if err != nil {
		remoteFailed("Fetch daily mission", err)
		return false
	}
	var progress *MissionProgress
	if mission != nil {
		progress, err = r.gw.GetMissionProgress(ctx, r.state.Session.UserID, mission.ID)
		if err != nil {
			remoteFailed("Fetch daily mission", err)
			return false
		}
	}

	r.state.MissionDate = missionDay(now)
	r.state.Mission = mission
	r.state.MissionProgress = 0
	r.state.CompletedToday = false
	if progress != nil {
		r.state.MissionProgress = progress.Count
		r.state.CompletedToday = progress.Completed
	}
	r.publishMissionLocked()
	return true
}

func missionDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// ensureTodayMissionLocked refetches the active mission once per UTC day.
// It reports false while the mission is still yesterday's.
func (r *Relay) ensureTodayMissionLocked(ctx context.Context, now time.Time) bool {
	if r.state.MissionDate == missionDay(now) {
		return true
	}
	return r.fetchDailyMissionLocked(ctx, now)
}

func (r *Relay) updateMissionProgressLocked(ctx context.Context) {
	m := r.state.Mission
	if m == nil || r.gw == nil || r.state.Session == nil || r.state.CompletedToday {
		return
	}
	if r.state.MissionProgress >= m.Target {
		return
	}
	r.state.MissionProgress++

	err := r.gw.UpsertMissionProgress(ctx, MissionProgress{
		UserID:    r.state.Session.UserID,
		MissionID: m.ID,
		Count:     r.state.MissionProgress,
		Completed: r.state.MissionProgress >= m.Target,
	})
	if err != nil {
		remoteFailed("Update mission progress", err)
		return
	}
	r.publishMissionLocked()
	if r.state.MissionProgress >= m.Target {
		r.addLogLocked("MISSION SUCCESS: Daily objective complete! 🎖️", "success")
	}
}

// updateLeaderboardLocked re-sends mars pings and missions completed as a
// whole row. It is last-write-wins: two sessions of the same user can
// overwrite each other's counts.
func (r *Relay) updateLeaderboardLocked(ctx context.Context) {
	if r.gw == nil || r.state.Session == nil {
		return
	}
	userID := r.state.Session.UserID

	current, err := r.gw.GetLeaderboardEntry(ctx, userID)
	if err != nil {
		remoteFailed("Update leaderboard", err)
		return
	}
	completed := 0
	if current != nil {
		completed = current.MissionsCompleted
	}

	if m := r.state.Mission; m != nil && r.state.MissionProgress >= m.Target && !r.state.CompletedToday {
		completed++
		r.state.CompletedToday = true
		if err := r.gw.MarkMissionCompleted(ctx, userID, m.ID); err != nil {
			remoteFailed("Update leaderboard", err)
		}
		r.publishMissionLocked()
	}

	err = r.gw.UpsertLeaderboard(ctx, LeaderboardEntry{
		ID:                userID,
		Codename:          r.state.Codename,
		MarsPings:         r.state.Stats.MarsPings,
		MissionsCompleted: completed,
	})
	if err != nil {
		remoteFailed("Update leaderboard", err)
		return
	}
	r.fetchLeaderboardLocked(ctx)
}

func (r *Relay) fetchLeaderboardLocked(ctx context.Context) {
	if r.gw == nil {
		return
	}
	entries, err := r.gw.TopLeaderboard(ctx, leaderboardLimit)
	if err != nil {
		remoteFailed("Fetch leaderboard", err)
		return
	}
	r.state.Leaderboard = entries
	r.Publish(Event{Type: "leaderboard", Leaderboard: append([]LeaderboardEntry{}, entries...)})
}
