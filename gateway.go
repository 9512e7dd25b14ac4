package main

import (
	"context"
	"time"
)

type Profile struct {
	ID       string `json:"id"`
	Codename string `json:"codename"`
}

type MissionLog struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Event     string    `json:"event"`
	Message   string    `json:"message"`
	Codename  string    `json:"codename"`
	CreatedAt time.Time `json:"created_at"`
}

type LeaderboardEntry struct {
	ID                string `json:"id"`
	Codename          string `json:"codename"`
	MarsPings         int    `json:"mars_pings"`
	MissionsCompleted int    `json:"missions_completed"`
}

type DailyMission struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Target int    `json:"target"`
	Active bool   `json:"active"`
}

type MissionProgress struct {
	UserID    string `json:"user_id"`
	MissionID int64  `json:"mission_id"`
	Count     int    `json:"count"`
	Completed bool   `json:"completed"`
}

type Achievement struct {
	ID   int64  `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type UserAchievement struct {
	UserID        string `json:"user_id"`
	AchievementID int64  `json:"achievement_id"`
}

// Gateway is the remote persistence surface, one method per table operation.
// Single-row reads return nil with a nil error when the row does not exist.
type Gateway interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error

	InsertLog(ctx context.Context, l MissionLog) error
	RecentLogs(ctx context.Context, userID string, limit int) ([]MissionLog, error)
	PruneLogs(ctx context.Context, before time.Time) (int64, error)

	TopLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	GetLeaderboardEntry(ctx context.Context, userID string) (*LeaderboardEntry, error)
	UpsertLeaderboard(ctx context.Context, e LeaderboardEntry) error

	ActiveMission(ctx context.Context) (*DailyMission, error)
	GetMissionProgress(ctx context.Context, userID string, missionID int64) (*MissionProgress, error)
	UpsertMissionProgress(ctx context.Context, p MissionProgress) error
	MarkMissionCompleted(ctx context.Context, userID string, missionID int64) error

	Achievements(ctx context.Context) ([]Achievement, error)
	AchievementByKey(ctx context.Context, key string) (*Achievement, error)
	UserAchievementIDs(ctx context.Context, userID string) ([]int64, error)
	HasUserAchievement(ctx context.Context, userID string, achievementID int64) (bool, error)
	InsertUserAchievement(ctx context.Context, ua UserAchievement) error

	Close() error
}

const (
	achievementMarsFirst     = "mars_first"
	achievementStormSurvivor = "storm_survivor"
)
