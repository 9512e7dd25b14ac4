package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenGatewayErrors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	gw, err := openGateway(&Config{dbDialect: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "requires --db-postgres-dsn or DATABASE_URL") {
		t.Fatalf("expected postgres DSN error, got gw=%v err=%v", gw, err)
	}

	gw, err = openGateway(&Config{dbDialect: "bogus"})
	if err == nil || !strings.Contains(err.Error(), "unsupported db-dialect") {
		t.Fatalf("expected unsupported dialect error, got gw=%v err=%v", gw, err)
	}
}

func TestOpenGatewayMemory(t *testing.T) {
	gw, err := openGateway(&Config{dbDialect: "MEMORY"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := gw.(*MemoryGateway); !ok {
		t.Fatalf("memory dialect returned %T", gw)
	}
}

func TestUpsertQueryShapes(t *testing.T) {
	sqlite := &SQLGateway{dialect: dialectSQLite}
	got := sqlite.upsertQuery("leaderboards", []string{"id", "codename", "mars_pings"}, []string{"id"})
	want := "INSERT INTO leaderboards (id, codename, mars_pings) VALUES (?, ?, ?) ON CONFLICT (id) DO UPDATE SET codename = excluded.codename, mars_pings = excluded.mars_pings"
	if got != want {
		t.Fatalf("sqlite upsert:\n got %s\nwant %s", got, want)
	}

	pg := &SQLGateway{dialect: dialectPostgres}
	if got := pg.placeholders(2, 3); got != "$2, $3, $4" {
		t.Fatalf("postgres placeholders = %q", got)
	}
}

func TestGatewaySQLiteRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.sqlite")
	gw, err := openGateway(&Config{dbDialect: "sqlite", dbSQLitePath: dbPath})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer gw.Close()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	if p, err := gw.GetProfile(ctx, "user-1"); err != nil || p != nil {
		t.Fatalf("missing profile: p=%v err=%v", p, err)
	}
	_ = gw.UpsertProfile(ctx, Profile{ID: "user-1", Codename: "NOVA"})
	if err := gw.UpsertProfile(ctx, Profile{ID: "user-1", Codename: "ORION"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	if p, _ := gw.GetProfile(ctx, "user-1"); p == nil || p.Codename != "ORION" {
		t.Fatalf("profile = %+v", p)
	}

	for i := 0; i < 3; i++ {
		err := gw.InsertLog(ctx, MissionLog{UserID: "user-1", Event: "send", Message: "m", Codename: "ORION", CreatedAt: now.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatalf("insert log: %v", err)
		}
	}
	logs, err := gw.RecentLogs(ctx, "user-1", 2)
	if err != nil || len(logs) != 2 {
		t.Fatalf("recent logs = %+v err=%v", logs, err)
	}
	if !logs[0].CreatedAt.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("newest log at %v", logs[0].CreatedAt)
	}
	if n, err := gw.PruneLogs(ctx, now.Add(90*time.Minute)); err != nil || n != 2 {
		t.Fatalf("prune = %d err=%v", n, err)
	}

	_ = gw.UpsertLeaderboard(ctx, LeaderboardEntry{ID: "user-1", Codename: "ORION", MarsPings: 1})
	_ = gw.UpsertLeaderboard(ctx, LeaderboardEntry{ID: "user-2", Codename: "VEGA", MissionsCompleted: 3})
	if err := gw.UpsertLeaderboard(ctx, LeaderboardEntry{ID: "user-1", Codename: "ORION", MarsPings: 2, MissionsCompleted: 1}); err != nil {
		t.Fatalf("upsert leaderboard: %v", err)
	}
	top, err := gw.TopLeaderboard(ctx, 10)
	if err != nil || len(top) != 2 || top[0].ID != "user-2" || top[1].MarsPings != 2 {
		t.Fatalf("top = %+v err=%v", top, err)
	}

	m, err := gw.ActiveMission(ctx)
	if err != nil || m == nil || m.Target != 5 || !m.Active {
		t.Fatalf("seeded mission = %+v err=%v", m, err)
	}
	if p, _ := gw.GetMissionProgress(ctx, "user-1", m.ID); p != nil {
		t.Fatalf("unexpected progress %+v", p)
	}
	_ = gw.UpsertMissionProgress(ctx, MissionProgress{UserID: "user-1", MissionID: m.ID, Count: 4})
	_ = gw.UpsertMissionProgress(ctx, MissionProgress{UserID: "user-1", MissionID: m.ID, Count: 5})
	if err := gw.MarkMissionCompleted(ctx, "user-1", m.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if p, _ := gw.GetMissionProgress(ctx, "user-1", m.ID); p == nil || p.Count != 5 || !p.Completed {
		t.Fatalf("progress = %+v", p)
	}

	all, err := gw.Achievements(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("achievements = %+v err=%v", all, err)
	}
	storm, _ := gw.AchievementByKey(ctx, achievementStormSurvivor)
	if storm == nil || storm.Name != "Storm Survivor" {
		t.Fatalf("storm achievement = %+v", storm)
	}
	if a, _ := gw.AchievementByKey(ctx, "nope"); a != nil {
		t.Fatalf("unknown key returned %+v", a)
	}
	if has, _ := gw.HasUserAchievement(ctx, "user-1", storm.ID); has {
		t.Fatalf("achievement unlocked too early")
	}
	if err := gw.InsertUserAchievement(ctx, UserAchievement{UserID: "user-1", AchievementID: storm.ID}); err != nil {
		t.Fatalf("insert unlock: %v", err)
	}
	if has, _ := gw.HasUserAchievement(ctx, "user-1", storm.ID); !has {
		t.Fatalf("achievement not recorded")
	}
	if ids, _ := gw.UserAchievementIDs(ctx, "user-1"); len(ids) != 1 || ids[0] != storm.ID {
		t.Fatalf("unlock ids = %v", ids)
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.sqlite")
	cfg := &Config{dbDialect: "sqlite", dbSQLitePath: dbPath}

	first, err := openGateway(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = first.Close()

	second, err := openGateway(cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()
	all, _ := second.Achievements(context.Background())
	if len(all) != 2 {
		t.Fatalf("seed ran twice: %d achievements", len(all))
	}
}

func TestRelayOverSQLite(t *testing.T) {
	gw, err := openGateway(&Config{dbDialect: "sqlite", dbSQLitePath: filepath.Join(t.TempDir(), "relay.sqlite")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer gw.Close()

	r, _ := newTestRelay(gw, nil)
	bootAs(t, r, "user-1", "NOVA")
	transmit(t, r, "earth", "mars", 0)

	entry, _ := gw.GetLeaderboardEntry(context.Background(), "user-1")
	if entry == nil || entry.MarsPings != 1 || entry.Codename != "NOVA" {
		t.Fatalf("leaderboard = %+v", entry)
	}
	if has, _ := gw.HasUserAchievement(context.Background(), "user-1", 1); !has {
		t.Fatalf("mars_first not persisted")
	}
}

func TestMemoryRecentLogsSortsBeforeLimit(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for _, h := range []int{5, 1, 4, 2, 3} {
		_ = gw.InsertLog(ctx, MissionLog{UserID: "user-1", Event: "send", CreatedAt: base.Add(time.Duration(h) * time.Hour)})
	}
	_ = gw.InsertLog(ctx, MissionLog{UserID: "user-2", Event: "send", CreatedAt: base.Add(9 * time.Hour)})

	logs, err := gw.RecentLogs(ctx, "user-1", 2)
	if err != nil || len(logs) != 2 {
		t.Fatalf("recent logs = %+v err=%v", logs, err)
	}
	if !logs[0].CreatedAt.Equal(base.Add(5*time.Hour)) || !logs[1].CreatedAt.Equal(base.Add(4*time.Hour)) {
		t.Fatalf("recent logs at %v and %v, want hours 5 and 4", logs[0].CreatedAt, logs[1].CreatedAt)
	}
}
