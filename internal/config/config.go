package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"geotap"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Store       Store
	Postgres    Postgres
	Redis       Redis
	Round       Round
	DayBoundary DayBoundary
	Catalog     Catalog
	Geometry    Geometry
	Leaderboard Leaderboard
	Remote      Remote
}

// Store selects the persistence backend used by the score aggregator.
type Store struct {
	Backend string `env:"STORE_BACKEND" envDefault:"redis"`
	Prefix  string `env:"STORE_PREFIX" envDefault:"geotap"`
}

// Postgres captures connection info for the SQL database.
type Postgres struct {
	Host     string `env:"PG_HOST" envDefault:"localhost"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER" envDefault:"geotap"`
	Password string `env:"PG_PASSWORD" envDefault:""`
	Database string `env:"PG_DATABASE" envDefault:"geotap"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
	MaxConns int    `env:"PG_MAX_CONNS" envDefault:"10"`
}

// ConnString renders a plain libpq-style connection string.
func (p Postgres) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// DSN renders the pgxpool connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("%s pool_max_conns=%d", p.ConnString(), p.MaxConns)
}

// Redis holds cache, leaderboard and store configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// MaxQuestionCount bounds the questions in one round.
const MaxQuestionCount = 50

// Round groups gameplay timing and sizing defaults.
type Round struct {
	QuestionDuration      time.Duration `env:"QUESTION_SECONDS" envDefault:"20s"`
	RevealDelay           time.Duration `env:"REVEAL_DELAY" envDefault:"3s"`
	FailRevealDelay       time.Duration `env:"FAIL_REVEAL_DELAY" envDefault:"1200ms"`
	DailyQuestionCount    int           `env:"DAILY_QUESTION_COUNT" envDefault:"10"`
	PracticeQuestionCount int           `env:"PRACTICE_QUESTION_COUNT" envDefault:"10"`
	MaxDistanceKM         int           `env:"MAX_DISTANCE_KM" envDefault:"10000"`
	SetCacheTTL           time.Duration `env:"SET_CACHE_TTL" envDefault:"36h"`
	SessionTTL            time.Duration `env:"ROUND_SESSION_TTL" envDefault:"30m"`
}

// DayBoundary configures the shared "what day is it" rule.
type DayBoundary struct {
	CutoffHour int    `env:"DAY_CUTOFF_HOUR" envDefault:"5"`
	Timezone   string `env:"DAY_TIMEZONE" envDefault:"Europe/London"`
}

// Catalog points at the bundled content files.
type Catalog struct {
	QuestionsPath string `env:"CATALOG_PATH" envDefault:"configs/questions.json"`
	ChallengePath string `env:"CHALLENGE_PATH" envDefault:"configs/challenge.yaml"`
}

// Geometry points at the boundary datasets used for polygon scoring.
type Geometry struct {
	CountriesPath string `env:"GEOMETRY_COUNTRIES_PATH" envDefault:""`
	StatesPath    string `env:"GEOMETRY_STATES_PATH" envDefault:""`
}

// Leaderboard governs the shared leaderboard and its snapshots.
type Leaderboard struct {
	SnapshotInterval time.Duration `env:"LEADERBOARD_SNAPSHOT_INTERVAL" envDefault:"5m"`
	SnapshotTopN     int           `env:"LEADERBOARD_SNAPSHOT_TOP" envDefault:"50"`
	EntryTTL         time.Duration `env:"LEADERBOARD_ENTRY_TTL" envDefault:"720h"`
}

// Remote configures best-effort cross-device sync.
type Remote struct {
	Enabled bool          `env:"REMOTE_SYNC_ENABLED" envDefault:"false"`
	Timeout time.Duration `env:"REMOTE_SYNC_TIMEOUT" envDefault:"5s"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *App) validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.DayBoundary.CutoffHour < 0 || c.DayBoundary.CutoffHour > 23 {
		return fmt.Errorf("DAY_CUTOFF_HOUR must be within 0..23, got %d", c.DayBoundary.CutoffHour)
	}
	if c.Round.MaxDistanceKM <= 0 {
		return fmt.Errorf("MAX_DISTANCE_KM must be positive")
	}
	if c.Round.QuestionDuration < time.Second {
		return fmt.Errorf("QUESTION_SECONDS must be at least one second")
	}
	if n := c.Round.DailyQuestionCount; n < 1 || n > MaxQuestionCount {
		return fmt.Errorf("DAILY_QUESTION_COUNT must be within 1..%d, got %d", MaxQuestionCount, n)
	}
	if n := c.Round.PracticeQuestionCount; n < 1 || n > MaxQuestionCount {
		return fmt.Errorf("PRACTICE_QUESTION_COUNT must be within 1..%d, got %d", MaxQuestionCount, n)
	}
	if c.Round.SessionTTL <= 0 {
		return fmt.Errorf("ROUND_SESSION_TTL must be positive")
	}
	return nil
}
