package main

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryGateway is an in-process Gateway. It backs the "memory" dialect and
// doubles as the fake in tests.
type MemoryGateway struct {
	mu sync.Mutex

	profiles     map[string]Profile
	logs         []MissionLog
	leaderboard  map[string]LeaderboardEntry
	missions     []DailyMission
	progress     map[progressKey]MissionProgress
	achievements []Achievement
	unlocks      []UserAchievement

	nextLogID int64
}

type progressKey struct {
	userID    string
	missionID int64
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		profiles:    map[string]Profile{},
		leaderboard: map[string]LeaderboardEntry{},
		progress:    map[progressKey]MissionProgress{},
		missions: []DailyMission{
			{ID: 1, Title: "Deliver 5 signals across the void", Target: 5, Active: true},
		},
		achievements: []Achievement{
			{ID: 1, Key: achievementMarsFirst, Name: "First Contact: Mars"},
			{ID: 2, Key: achievementStormSurvivor, Name: "Storm Survivor"},
		},
	}
}

// SetMissions replaces the daily mission catalog.
func (g *MemoryGateway) SetMissions(missions ...DailyMission) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.missions = append([]DailyMission(nil), missions...)
}

func (g *MemoryGateway) Close() error { return nil }

func (g *MemoryGateway) GetProfile(_ context.Context, userID string) (*Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (g *MemoryGateway) UpsertProfile(_ context.Context, p Profile) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profiles[p.ID] = p
	return nil
}

func (g *MemoryGateway) InsertLog(_ context.Context, l MissionLog) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextLogID++
	l.ID = g.nextLogID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	g.logs = append(g.logs, l)
	return nil
}

func (g *MemoryGateway) RecentLogs(_ context.Context, userID string, limit int) ([]MissionLog, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []MissionLog
	for _, l := range g.logs {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *MemoryGateway) PruneLogs(_ context.Context, before time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := make([]MissionLog, 0, len(g.logs))
	for _, l := range g.logs {
		if !l.CreatedAt.Before(before) {
			kept = append(kept, l)
		}
	}
	n := int64(len(g.logs) - len(kept))
	g.logs = kept
	return n, nil
}

func (g *MemoryGateway) TopLeaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]LeaderboardEntry, 0, len(g.leaderboard))
	for _, e := range g.leaderboard {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MissionsCompleted != out[j].MissionsCompleted {
			return out[i].MissionsCompleted > out[j].MissionsCompleted
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *MemoryGateway) GetLeaderboardEntry(_ context.Context, userID string) (*LeaderboardEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.leaderboard[userID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (g *MemoryGateway) UpsertLeaderboard(_ context.Context, e LeaderboardEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaderboard[e.ID] = e
	return nil
}

func (g *MemoryGateway) ActiveMission(_ context.Context) (*DailyMission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.missions) - 1; i >= 0; i-- {
		if g.missions[i].Active {
			m := g.missions[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (g *MemoryGateway) GetMissionProgress(_ context.Context, userID string, missionID int64) (*MissionProgress, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.progress[progressKey{userID, missionID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (g *MemoryGateway) UpsertMissionProgress(_ context.Context, p MissionProgress) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.progress[progressKey{p.UserID, p.MissionID}] = p
	return nil
}

func (g *MemoryGateway) MarkMissionCompleted(_ context.Context, userID string, missionID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := progressKey{userID, missionID}
	if p, ok := g.progress[key]; ok {
		p.Completed = true
		g.progress[key] = p
	}
	return nil
}

func (g *MemoryGateway) Achievements(_ context.Context) ([]Achievement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Achievement(nil), g.achievements...), nil
}

func (g *MemoryGateway) AchievementByKey(_ context.Context, key string) (*Achievement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.achievements {
		if a.Key == key {
			return &a, nil
		}
	}
	return nil, nil
}

func (g *MemoryGateway) UserAchievementIDs(_ context.Context, userID string) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []int64
	for _, ua := range g.unlocks {
		if ua.UserID == userID {
			out = append(out, ua.AchievementID)
		}
	}
	return out, nil
}

func (g *MemoryGateway) HasUserAchievement(_ context.Context, userID string, achievementID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ua := range g.unlocks {
		if ua.UserID == userID && ua.AchievementID == achievementID {
			return true, nil
		}
	}
	return false, nil
}

func (g *MemoryGateway) InsertUserAchievement(_ context.Context, ua UserAchievement) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unlocks = append(g.unlocks, ua)
	return nil
}
