package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

type DBDialect string

const (
	dialectSQLite   DBDialect = "sqlite"
	dialectPostgres DBDialect = "postgres"
	dialectMemory   DBDialect = "memory"
)

const defaultSQLitePath = "tmp/void_relay.sqlite"

// SQLGateway implements Gateway on sqlite or postgres.
type SQLGateway struct {
	dialect DBDialect
	db      *sql.DB
}

func openGateway(cfg *Config) (Gateway, error) {
	dialectRaw := strings.TrimSpace(strings.ToLower(cfg.dbDialect))
	if dialectRaw == "" {
		dialectRaw = string(dialectSQLite)
	}
	dialect := DBDialect(dialectRaw)

	var driverName string
	var dsn string
	switch dialect {
	case dialectMemory:
		log.Printf("database: dialect=%s", dialect)
		return NewMemoryGateway(), nil
	case dialectSQLite:
		driverName = "sqlite"
		path := strings.TrimSpace(cfg.dbSQLitePath)
		if path == "" {
			path = defaultSQLitePath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		dsn = path
	case dialectPostgres:
		driverName = "pgx"
		dsn = strings.TrimSpace(cfg.dbPostgresDSN)
		if dsn == "" {
			dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
		}
		if dsn == "" {
			return nil, errors.New("db-dialect=postgres requires --db-postgres-dsn or DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported db-dialect %q", dialectRaw)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == dialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}

	gw := &SQLGateway{dialect: dialect, db: db}
	if err := gw.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("database: dialect=%s", dialect)
	return gw, nil
}

func (g *SQLGateway) Close() error {
	return g.db.Close()
}

func (g *SQLGateway) bind(pos int) string {
	if g.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", pos)
	}
	return "?"
}

func (g *SQLGateway) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = g.bind(from + i)
	}
	return strings.Join(ph, ", ")
}

func (g *SQLGateway) insertQuery(table string, cols []string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(cols, ", "),
		g.placeholders(1, len(cols)),
	)
}

// upsertQuery writes every non-key column on conflict. Both dialects accept
// the ON CONFLICT ... DO UPDATE form with the excluded pseudo-table.
func (g *SQLGateway) upsertQuery(table string, cols, conflict []string) string {
	keys := map[string]bool{}
	for _, c := range conflict {
		keys[c] = true
	}
	var sets []string
	for _, c := range cols {
		if keys[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		g.insertQuery(table, cols),
		strings.Join(conflict, ", "),
		strings.Join(sets, ", "),
	)
}

func (g *SQLGateway) applyMigrations(ctx context.Context) error {
	create := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)
	`
	if _, err := g.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := g.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate schema migrations: %w", err)
	}
	rows.Close()

	pattern := fmt.Sprintf("migrations/%s/*.sql", g.dialect)
	files, err := fs.Glob(migrationFS, pattern)
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		base := filepath.Base(file)
		if applied[base] {
			continue
		}
		sqlBytes, err := migrationFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := g.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		q := g.insertQuery("schema_migrations", []string{"version", "applied_at"})
		if _, err := tx.ExecContext(ctx, q, base, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func (g *SQLGateway) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := g.db.QueryRowContext(ctx,
		"SELECT id, codename FROM profiles WHERE id = "+g.bind(1), userID,
	).Scan(&p.ID, &p.Codename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	return &p, nil
}

func (g *SQLGateway) UpsertProfile(ctx context.Context, p Profile) error {
	q := g.upsertQuery("profiles", []string{"id", "codename"}, []string{"id"})
	if _, err := g.db.ExecContext(ctx, q, p.ID, p.Codename); err != nil {
		return fmt.Errorf("upsert profiles: %w", err)
	}
	return nil
}

func (g *SQLGateway) InsertLog(ctx context.Context, l MissionLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	q := g.insertQuery("mission_logs", []string{"user_id", "event", "message", "codename", "created_at"})
	if _, err := g.db.ExecContext(ctx, q, l.UserID, l.Event, l.Message, l.Codename, l.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert mission_logs: %w", err)
	}
	return nil
}

func (g *SQLGateway) RecentLogs(ctx context.Context, userID string, limit int) ([]MissionLog, error) {
	q := fmt.Sprintf(
		"SELECT id, user_id, event, message, codename, created_at FROM mission_logs WHERE user_id = %s ORDER BY created_at DESC, id DESC LIMIT %s",
		g.bind(1), g.bind(2),
	)
	rows, err := g.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("select mission_logs: %w", err)
	}
	defer rows.Close()
	var out []MissionLog
	for rows.Next() {
		var l MissionLog
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.UserID, &l.Event, &l.Message, &l.Codename, &createdAt); err != nil {
			return nil, fmt.Errorf("scan mission_logs: %w", err)
		}
		l.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mission_logs: %w", err)
	}
	return out, nil
}

func (g *SQLGateway) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := g.db.ExecContext(ctx, "DELETE FROM mission_logs WHERE created_at < "+g.bind(1), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune mission_logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (g *SQLGateway) TopLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	q := "SELECT id, codename, mars_pings, missions_completed FROM leaderboards ORDER BY missions_completed DESC, id ASC LIMIT " + g.bind(1)
	rows, err := g.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select leaderboards: %w", err)
	}
	defer rows.Close()
	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.ID, &e.Codename, &e.MarsPings, &e.MissionsCompleted); err != nil {
			return nil, fmt.Errorf("scan leaderboards: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboards: %w", err)
	}
	return out, nil
}

func (g *SQLGateway) GetLeaderboardEntry(ctx context.Context, userID string) (*LeaderboardEntry, error) {
	var e LeaderboardEntry
	err := g.db.QueryRowContext(ctx,
		"SELECT id, codename, mars_pings, missions_completed FROM leaderboards WHERE id = "+g.bind(1), userID,
	).Scan(&e.ID, &e.Codename, &e.MarsPings, &e.MissionsCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select leaderboards: %w", err)
	}
	return &e, nil
}

func (g *SQLGateway) UpsertLeaderboard(ctx context.Context, e LeaderboardEntry) error {
	q := g.upsertQuery("leaderboards", []string{"id", "codename", "mars_pings", "missions_completed"}, []string{"id"})
	if _, err := g.db.ExecContext(ctx, q, e.ID, e.Codename, e.MarsPings, e.MissionsCompleted); err != nil {
		return fmt.Errorf("upsert leaderboards: %w", err)
	}
	return nil
}

func (g *SQLGateway) ActiveMission(ctx context.Context) (*DailyMission, error) {
	var m DailyMission
	err := g.db.QueryRowContext(ctx,
		"SELECT id, title, target, active FROM daily_missions WHERE active = "+g.bind(1)+" ORDER BY id DESC LIMIT 1", true,
	).Scan(&m.ID, &m.Title, &m.Target, &m.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select daily_missions: %w", err)
	}
	return &m, nil
}

func (g *SQLGateway) GetMissionProgress(ctx context.Context, userID string, missionID int64) (*MissionProgress, error) {
	var p MissionProgress
	q := fmt.Sprintf("SELECT user_id, mission_id, count, completed FROM user_mission_progress WHERE user_id = %s AND mission_id = %s", g.bind(1), g.bind(2))
	err := g.db.QueryRowContext(ctx, q, userID, missionID).Scan(&p.UserID, &p.MissionID, &p.Count, &p.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user_mission_progress: %w", err)
	}
	return &p, nil
}

func (g *SQLGateway) UpsertMissionProgress(ctx context.Context, p MissionProgress) error {
	q := g.upsertQuery("user_mission_progress",
		[]string{"user_id", "mission_id", "count", "completed"},
		[]string{"user_id", "mission_id"},
	)
	if _, err := g.db.ExecContext(ctx, q, p.UserID, p.MissionID, p.Count, p.Completed); err != nil {
		return fmt.Errorf("upsert user_mission_progress: %w", err)
	}
	return nil
}

func (g *SQLGateway) MarkMissionCompleted(ctx context.Context, userID string, missionID int64) error {
	q := fmt.Sprintf("UPDATE user_mission_progress SET completed = %s WHERE user_id = %s AND mission_id = %s", g.bind(1), g.bind(2), g.bind(3))
	if _, err := g.db.ExecContext(ctx, q, true, userID, missionID); err != nil {
		return fmt.Errorf("update user_mission_progress: %w", err)
	}
	return nil
}

func (g *SQLGateway) Achievements(ctx context.Context) ([]Achievement, error) {
	rows, err := g.db.QueryContext(ctx, "SELECT id, key, name FROM achievements ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("select achievements: %w", err)
	}
	defer rows.Close()
	var out []Achievement
	for rows.Next() {
		var a Achievement
		if err := rows.Scan(&a.ID, &a.Key, &a.Name); err != nil {
			return nil, fmt.Errorf("scan achievements: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate achievements: %w", err)
	}
	return out, nil
}

func (g *SQLGateway) AchievementByKey(ctx context.Context, key string) (*Achievement, error) {
	var a Achievement
	err := g.db.QueryRowContext(ctx, "SELECT id, key, name FROM achievements WHERE key = "+g.bind(1), key).Scan(&a.ID, &a.Key, &a.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select achievements: %w", err)
	}
	return &a, nil
}

func (g *SQLGateway) UserAchievementIDs(ctx context.Context, userID string) ([]int64, error) {
	rows, err := g.db.QueryContext(ctx, "SELECT achievement_id FROM user_achievements WHERE user_id = "+g.bind(1), userID)
	if err != nil {
		return nil, fmt.Errorf("select user_achievements: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user_achievements: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user_achievements: %w", err)
	}
	return out, nil
}

func (g *SQLGateway) HasUserAchievement(ctx context.Context, userID string, achievementID int64) (bool, error) {
	var n int
	q := fmt.Sprintf("SELECT COUNT(1) FROM user_achievements WHERE user_id = %s AND achievement_id = %s", g.bind(1), g.bind(2))
	if err := g.db.QueryRowContext(ctx, q, userID, achievementID).Scan(&n); err != nil {
		return false, fmt.Errorf("select user_achievements: %w", err)
	}
	return n > 0, nil
}

func (g *SQLGateway) InsertUserAchievement(ctx context.Context, ua UserAchievement) error {
	q := g.insertQuery("user_achievements", []string{"user_id", "achievement_id"})
	if _, err := g.db.ExecContext(ctx, q, ua.UserID, ua.AchievementID); err != nil {
		return fmt.Errorf("insert user_achievements: %w", err)
	}
	return nil
}
