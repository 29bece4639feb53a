package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LexForge/ClauseFlow/internal/api"
	"github.com/LexForge/ClauseFlow/internal/genai"
	"github.com/LexForge/ClauseFlow/internal/lockfile"
	"github.com/LexForge/ClauseFlow/internal/store"
	"github.com/LexForge/ClauseFlow/internal/twiliosms"
	"github.com/LexForge/ClauseFlow/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ClauseFlow state data
	DefaultStateDir = "/var/lib/clauseflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "clauseflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One ClauseFlow instance per state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	smsOpts := buildSMSOptions(config)
	apiOpts := buildAPIOptions(flags, config)

	// Start the service
	slog.Info("Bootstrapping ClauseFlow with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "sms", len(smsOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "templates_dir", *flags.templatesDir)
	if err := api.Run(storeOpts, genaiOpts, smsOpts, apiOpts); err != nil {
		slog.Error("ClauseFlow failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("ClauseFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DBDSN           string
	DatabaseURL     string
	StateDir        string
	TemplatesDir    string
	OpenAIKey       string
	APIAddr         string
	JanitorSchedule string
	JanitorEnabled  bool
	StaleAfter      string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	templatesDir    *string
	openaiKey       *string
	apiAddr         *string
	janitorSchedule *string
	staleAfter      *string
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
		DBDSN:           os.Getenv("CLAUSEFLOW_DB_DSN"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("CLAUSEFLOW_STATE_DIR"),
		TemplatesDir:    os.Getenv("CLAUSEFLOW_TEMPLATES_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		JanitorSchedule: os.Getenv("CLAUSEFLOW_JANITOR_SCHEDULE"),
		JanitorEnabled:  util.ParseBoolEnv("CLAUSEFLOW_JANITOR_ENABLED", true),
		StaleAfter:      os.Getenv("CLAUSEFLOW_STALE_AFTER"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CLAUSEFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("CLAUSEFLOW_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Fall back to DATABASE_URL when no specific DSN is set
	if config.DBDSN == "" {
		config.DBDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as CLAUSEFLOW_DB_DSN", "dsn_set", true)
		}
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DBDSN == "" {
		config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DBDSN)
	}

	slog.Debug("environment variables loaded",
		"CLAUSEFLOW_DB_DSN_SET", config.DBDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CLAUSEFLOW_STATE_DIR", config.StateDir,
		"CLAUSEFLOW_TEMPLATES_DIR", config.TemplatesDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"CLAUSEFLOW_JANITOR_SCHEDULE", config.JanitorSchedule,
		"CLAUSEFLOW_JANITOR_ENABLED", config.JanitorEnabled,
		"CLAUSEFLOW_STALE_AFTER", config.StaleAfter,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_FROM_NUMBER", config.TwilioFrom)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for ClauseFlow data (overrides $CLAUSEFLOW_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DBDSN, "database DSN for the document store (overrides $CLAUSEFLOW_DB_DSN or $DATABASE_URL)"),
		templatesDir:    flag.String("templates-dir", config.TemplatesDir, "directory of template definition files to seed at startup (overrides $CLAUSEFLOW_TEMPLATES_DIR)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		janitorSchedule: flag.String("janitor-schedule", config.JanitorSchedule, "cron schedule for the stale-document janitor (overrides $CLAUSEFLOW_JANITOR_SCHEDULE)"),
		staleAfter:      flag.String("stale-after", config.StaleAfter, "inactivity window before a document is auto-paused, e.g. 48h (overrides $CLAUSEFLOW_STALE_AFTER)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"templatesDir", *flags.templatesDir,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"janitorSchedule", *flags.janitorSchedule,
		"staleAfter", *flags.staleAfter)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DBDSN && config.DBDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildSMSOptions constructs Twilio SMS configuration options. Credentials
// come from the environment only, never from command line flags.
func buildSMSOptions(config Config) []twiliosms.Option {
	var smsOpts []twiliosms.Option
	if config.TwilioSID != "" {
		smsOpts = append(smsOpts, twiliosms.WithAccountSID(config.TwilioSID))
	}
	if config.TwilioToken != "" {
		smsOpts = append(smsOpts, twiliosms.WithAuthToken(config.TwilioToken))
	}
	if config.TwilioFrom != "" {
		smsOpts = append(smsOpts, twiliosms.WithFromNumber(config.TwilioFrom))
	}
	return smsOpts
}

// buildAPIOptions constructs API server configuration options. The janitor
// toggle is environment-only and has no command line flag.
func buildAPIOptions(flags Flags, config Config) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.templatesDir != "" {
		apiOpts = append(apiOpts, api.WithTemplatesDir(*flags.templatesDir))
	}
	if *flags.janitorSchedule != "" {
		apiOpts = append(apiOpts, api.WithJanitorSchedule(*flags.janitorSchedule))
	}
	if *flags.staleAfter != "" {
		d, err := time.ParseDuration(*flags.staleAfter)
		if err != nil {
			slog.Warn("Invalid stale-after duration, using default", "value", *flags.staleAfter, "error", err)
		} else {
			apiOpts = append(apiOpts, api.WithStaleAfter(d))
		}
	}
	if !config.JanitorEnabled {
		apiOpts = append(apiOpts, api.WithJanitorEnabled(false))
	}
	return apiOpts
}
