package configuration

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Mode selects which part of the pipeline a run executes.
type Mode string

const (
	ModeFullImport Mode = "full-import"
	ModeDatesOnly  Mode = "dates-only"
	ModeAnalyze    Mode = "analyze-only"
	ModeLoggedBy   Mode = "logged-by-only"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeFullImport, ModeDatesOnly, ModeAnalyze, ModeLoggedBy:
		return true
	}
	return false
}

type TrackerOptions struct {
	BaseURL string `env:"TRACKER_URL"`
	APIKey  string `env:"TRACKER_API_KEY"`
	// Generation pins the API schema generation ("v1" or "v2"). Empty means
	// probe the server before authenticating.
	Generation string `env:"TRACKER_API_GENERATION"`
}

type DatabaseOptions struct {
	// DSN for the tracker's own Postgres. Optional: when empty, every
	// direct-storage fallback and DB fast path is unavailable.
	DSN string `env:"TRACKER_DB_DSN"`
}

type Configuration struct {
	SourcePath string `env:"SOURCE_PATH"`
	SheetName  string `env:"SOURCE_SHEET" envDefault:"Worklog"`

	Tracker  TrackerOptions
	Database DatabaseOptions

	DryRun      bool `env:"DRY_RUN" envDefault:"false"`
	AutoConfirm bool `env:"AUTO_CONFIRM" envDefault:"false"`

	DefaultTaskType string `env:"DEFAULT_TASK_TYPE" envDefault:"Task"`
	DefaultActivity string `env:"DEFAULT_ACTIVITY" envDefault:"Development"`
	MemberRoleName  string `env:"MEMBER_ROLE_NAME" envDefault:"Member"`
	SkipProjects    bool   `env:"SKIP_PROJECT_CREATION" envDefault:"false"`

	TaskCachePath  string `env:"TASK_CACHE_PATH" envDefault:".worklog-task-cache.json"`
	EntryCachePath string `env:"ENTRY_CACHE_PATH" envDefault:".worklog-entry-cache.json"`

	RewriteHistory bool `env:"REWRITE_HISTORY" envDefault:"false"`

	Mode Mode `env:"MODE" envDefault:"full-import"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	logger *logrus.Logger
}

// Use loads configuration from .env files (when present) and the process
// environment. Flags layered on top by the CLI override these values.
func Use() (*Configuration, error) {
	if _, err := LoadEnv(".env", ".env.local"); err != nil {
		return nil, err
	}
	cfg := &Configuration{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("invalid MODE %q", cfg.Mode)
	}
	return cfg, nil
}

// LoadEnv loads whichever of the given env files exist. Missing files are
// not an error.
func LoadEnv(envFiles ...string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func (c *Configuration) Logger() *logrus.Logger {
	if c.logger != nil {
		return c.logger
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	c.logger = logger
	return logger
}
