package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind      string
	port      int
	prefix    string
	publicURL string

	dbDialect     string
	dbSQLitePath  string
	dbPostgresDSN string

	sessionSecret string
	sessionTTL    time.Duration

	stormInterval time.Duration
	stormChance   float64
	stormDuration time.Duration
	stormPenalty  int
	frameInterval time.Duration

	idleTimeout  time.Duration
	logRetention time.Duration

	rateLimit float64
	rateBurst int

	verbose bool
	version bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	switch DBDialect(strings.ToLower(strings.TrimSpace(c.dbDialect))) {
	case "", dialectSQLite, dialectPostgres, dialectMemory:
	default:
		return fmt.Errorf("unsupported db-dialect %q", c.dbDialect)
	}
	if c.stormChance < 0 || c.stormChance > 1 {
		return fmt.Errorf("invalid storm-chance (must be between 0 and 1 inclusive): %v", c.stormChance)
	}
	if c.stormPenalty < 1 {
		return fmt.Errorf("invalid storm-penalty (must be at least 1): %d", c.stormPenalty)
	}
	if c.stormInterval <= 0 || c.stormDuration <= 0 || c.frameInterval <= 0 {
		return errors.New("storm-interval, storm-duration and frame-interval must be positive")
	}
	if c.rateLimit < 0 || c.rateBurst < 0 {
		return errors.New("rate-limit and rate-burst must not be negative")
	}
	return nil
}

// configured reports whether the remote backend can be used at all.
func (c *Config) configured() bool {
	return strings.TrimSpace(c.sessionSecret) != ""
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("VOID_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "void-relay",
		Short:         "Send signals across the solar system, dodge solar storms and climb the leaderboard.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: VOID_RELAY_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: VOID_RELAY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: VOID_RELAY_PREFIX)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "externally reachable URL encoded in the station QR code (env: VOID_RELAY_PUBLIC_URL)")
	fs.StringVar(&cfg.dbDialect, "db-dialect", string(dialectSQLite), "storage backend: sqlite, postgres or memory (env: VOID_RELAY_DB_DIALECT)")
	fs.StringVar(&cfg.dbSQLitePath, "db-sqlite-path", defaultSQLitePath, "path to the sqlite database (env: VOID_RELAY_DB_SQLITE_PATH)")
	fs.StringVar(&cfg.dbPostgresDSN, "db-postgres-dsn", "", "postgres connection string, falls back to DATABASE_URL (env: VOID_RELAY_DB_POSTGRES_DSN)")
	fs.StringVar(&cfg.sessionSecret, "session-secret", "", "HMAC secret for session tokens; remote features are disabled without it (env: VOID_RELAY_SESSION_SECRET)")
	fs.DurationVar(&cfg.sessionTTL, "session-ttl", defaultSessionTTL, "lifetime of anonymous sessions (env: VOID_RELAY_SESSION_TTL)")
	fs.DurationVar(&cfg.stormInterval, "storm-interval", defaultStormInterval, "time between solar storm rolls (env: VOID_RELAY_STORM_INTERVAL)")
	fs.Float64Var(&cfg.stormChance, "storm-chance", defaultStormChance, "probability of a storm per roll (env: VOID_RELAY_STORM_CHANCE)")
	fs.DurationVar(&cfg.stormDuration, "storm-duration", defaultStormDuration, "how long a solar storm lasts (env: VOID_RELAY_STORM_DURATION)")
	fs.IntVar(&cfg.stormPenalty, "storm-penalty", defaultStormPenalty, "loss percentage points added during a storm (env: VOID_RELAY_STORM_PENALTY)")
	fs.DurationVar(&cfg.frameInterval, "frame-interval", defaultFrameInterval, "time between packet animation frames (env: VOID_RELAY_FRAME_INTERVAL)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "time before idle stations are dropped (env: VOID_RELAY_IDLE_TIMEOUT)")
	fs.DurationVar(&cfg.logRetention, "log-retention", defaultLogRetention, "age after which mission logs are pruned (env: VOID_RELAY_LOG_RETENTION)")
	fs.Float64Var(&cfg.rateLimit, "rate-limit", 5, "API requests per second allowed per client, 0 disables (env: VOID_RELAY_RATE_LIMIT)")
	fs.IntVar(&cfg.rateBurst, "rate-burst", 10, "API request burst allowed per client (env: VOID_RELAY_RATE_BURST)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: VOID_RELAY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: VOID_RELAY_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("void-relay v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
