package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/MoodPipe/internal/api"
	"github.com/BTreeMap/MoodPipe/internal/genai"
	"github.com/BTreeMap/MoodPipe/internal/lockfile"
	"github.com/BTreeMap/MoodPipe/internal/messaging"
	"github.com/BTreeMap/MoodPipe/internal/scheduler"
	"github.com/BTreeMap/MoodPipe/internal/store"
	"github.com/BTreeMap/MoodPipe/internal/util"
	"github.com/BTreeMap/MoodPipe/internal/wellness"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MoodPipe state data
	DefaultStateDir = "/var/lib/moodpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "moodpipe.db"
)

func main() {
	os.Exit(run())
}

// run starts MoodPipe and returns the process exit code. Deferred cleanup such as
// releasing the state lock runs before main exits.
func run() int {
	initializeLogger()

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		return 2
	}

	// Keep other instances away from the SQLite database file.
	if lockDir := sqliteLockDir(flags.dbDSN); lockDir != "" {
		lock, err := lockfile.AcquireLock(lockDir)
		if err != nil {
			slog.Error("Failed to lock database directory", "dir", lockDir, "error", err)
			return 1
		}
		defer lock.Release()
	}

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	twilioOpts := buildTwilioOptions(config)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping MoodPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "twilio", len(twilioOpts), "api", len(apiOpts))
	if err := api.Run(storeOpts, genaiOpts, twilioOpts, apiOpts); err != nil {
		slog.Error("MoodPipe failed to run", "error", err)
		return 1
	}
	slog.Info("MoodPipe exited successfully")
	return 0
}

// sqliteLockDir returns the directory holding the SQLite database named by dsn, or ""
// when dsn is not a SQLite file (Postgres DSNs and in-memory databases).
func sqliteLockDir(dsn string) string {
	if dsn == "" || store.DetectDSNType(dsn) != store.DriverSQLite {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	APIAddr          string
	OpenAIKey        string
	OpenAIModel      string
	TrendTimeout     time.Duration
	TokenMatching    bool
	AlertTo          string
	AlertThreshold   int
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	HistoryRetention time.Duration
	PruneSchedule    string
	RedisURL         string
	EventStream      string
	StreamOrigins    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir       string
	dbDSN          string
	apiAddr        string
	openaiKey      string
	openaiModel    string
	trendTimeout   time.Duration
	tokenMatching  bool
	alertTo        string
	alertThreshold int
	retention      time.Duration
	pruneSchedule  string
	redisURL       string
	eventStream    string
	streamOrigins  string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("MOODPIPE_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		TrendTimeout:     util.ParseDurationEnv("TREND_TIMEOUT", wellness.DefaultTrendTimeout),
		TokenMatching:    util.ParseBoolEnv("MOODPIPE_TOKEN_MATCHING", false),
		AlertTo:          os.Getenv("MOODPIPE_ALERT_TO"),
		AlertThreshold:   util.ParseIntEnv("MOODPIPE_ALERT_THRESHOLD", messaging.DefaultAlertThreshold),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		HistoryRetention: util.ParseDurationEnv("HISTORY_RETENTION", scheduler.DefaultRetention),
		PruneSchedule:    os.Getenv("HISTORY_PRUNE_SCHEDULE"),
		RedisURL:         os.Getenv("REDIS_URL"),
		EventStream:      os.Getenv("MOODPIPE_EVENT_STREAM"),
		StreamOrigins:    os.Getenv("MOODPIPE_STREAM_ORIGINS"),
	}

	if config.PruneSchedule == "" {
		config.PruneSchedule = scheduler.DefaultPruneSchedule
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MOODPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"MOODPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"TREND_TIMEOUT", config.TrendTimeout,
		"MOODPIPE_TOKEN_MATCHING", config.TokenMatching,
		"MOODPIPE_ALERT_TO_SET", config.AlertTo != "",
		"MOODPIPE_ALERT_THRESHOLD", config.AlertThreshold,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"HISTORY_RETENTION", config.HistoryRetention,
		"HISTORY_PRUNE_SCHEDULE", config.PruneSchedule,
		"REDIS_URL_SET", config.RedisURL != "",
		"MOODPIPE_EVENT_STREAM", config.EventStream,
		"MOODPIPE_STREAM_ORIGINS", config.StreamOrigins)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var flags Flags
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for MoodPipe data (overrides $MOODPIPE_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path; defaults to SQLite in the state directory (overrides $DATABASE_URL)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key for sentiment labelling (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.openaiModel, "openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)")
	fs.DurationVar(&flags.trendTimeout, "trend-timeout", config.TrendTimeout, "trend history lookup timeout (overrides $TREND_TIMEOUT)")
	fs.BoolVar(&flags.tokenMatching, "token-matching", config.TokenMatching, "match mood keywords as whole words (overrides $MOODPIPE_TOKEN_MATCHING)")
	fs.StringVar(&flags.alertTo, "alert-to", config.AlertTo, "WhatsApp number for low wellness alerts (overrides $MOODPIPE_ALERT_TO)")
	fs.IntVar(&flags.alertThreshold, "alert-threshold", config.AlertThreshold, "alert when a score drops below this value (overrides $MOODPIPE_ALERT_THRESHOLD)")

	fs.DurationVar(&flags.retention, "history-retention", config.HistoryRetention, "how long utterance history is kept (overrides $HISTORY_RETENTION)")
	fs.StringVar(&flags.pruneSchedule, "prune-schedule", config.PruneSchedule, "cron schedule for history pruning (overrides $HISTORY_PRUNE_SCHEDULE)")

	fs.StringVar(&flags.redisURL, "redis-url", config.RedisURL, "Redis URL for publishing dashboard events (overrides $REDIS_URL)")
	fs.StringVar(&flags.eventStream, "event-stream", config.EventStream, "Redis Stream key for dashboard events (overrides $MOODPIPE_EVENT_STREAM)")
	fs.StringVar(&flags.streamOrigins, "stream-origins", config.StreamOrigins, "comma-separated origins allowed to open dashboard streams (overrides $MOODPIPE_STREAM_ORIGINS)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if flags.dbDSN == "" {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", flags.dbDSN)
	}
	if flags.alertThreshold <= 0 {
		return Flags{}, fmt.Errorf("alert threshold must be positive, got %d", flags.alertThreshold)
	}
	if flags.trendTimeout <= 0 {
		return Flags{}, errors.New("trend timeout must be positive")
	}
	if err := scheduler.ValidateSchedule(flags.pruneSchedule); err != nil {
		return Flags{}, fmt.Errorf("invalid prune schedule %q: %w", flags.pruneSchedule, err)
	}

	slog.Debug("flags parsed",
		"stateDir", flags.stateDir,
		"dbDSN_type", store.DetectDSNType(flags.dbDSN),
		"apiAddr", flags.apiAddr,
		"openaiKeySet", flags.openaiKey != "",
		"openaiModel", flags.openaiModel,
		"trendTimeout", flags.trendTimeout,
		"tokenMatching", flags.tokenMatching,
		"alertToSet", flags.alertTo != "",
		"alertThreshold", flags.alertThreshold,
		"retention", flags.retention,
		"pruneSchedule", flags.pruneSchedule,
		"redisURLSet", flags.redisURL != "",
		"eventStream", flags.eventStream,
		"streamOrigins", flags.streamOrigins)
	return flags, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(flags.dbDSN) == store.DriverPostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(flags.dbDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", flags.dbDSN)
	return []store.Option{store.WithSQLiteDSN(flags.dbDSN)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.openaiKey))
	}
	if flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(flags.openaiModel))
	}
	return genaiOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []messaging.TwilioOption {
	var twilioOpts []messaging.TwilioOption
	if config.TwilioAccountSID != "" {
		twilioOpts = append(twilioOpts, messaging.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		twilioOpts = append(twilioOpts, messaging.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		twilioOpts = append(twilioOpts, messaging.WithFromNumber(config.TwilioFromNumber))
	}
	return twilioOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithTrendTimeout(flags.trendTimeout),
		api.WithTokenMatching(flags.tokenMatching),
		api.WithAlertThreshold(flags.alertThreshold),
		api.WithHistoryRetention(flags.retention),
		api.WithPruneSchedule(flags.pruneSchedule),
	}
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	if flags.alertTo != "" {
		apiOpts = append(apiOpts, api.WithAlertRecipient(flags.alertTo))
	}
	if flags.redisURL != "" {
		apiOpts = append(apiOpts, api.WithRedisURL(flags.redisURL))
		if flags.eventStream != "" {
			apiOpts = append(apiOpts, api.WithEventStream(flags.eventStream))
		}
	}
	if origins := splitList(flags.streamOrigins); len(origins) > 0 {
		apiOpts = append(apiOpts, api.WithStreamOrigins(origins))
	}
	return apiOpts
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
