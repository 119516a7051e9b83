package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/OutlineBot/internal/api"
	"github.com/BTreeMap/OutlineBot/internal/bot"
	"github.com/BTreeMap/OutlineBot/internal/genai"
	"github.com/BTreeMap/OutlineBot/internal/lockfile"
	"github.com/BTreeMap/OutlineBot/internal/messaging"
	"github.com/BTreeMap/OutlineBot/internal/scheduler"
	"github.com/BTreeMap/OutlineBot/internal/store"
	"github.com/BTreeMap/OutlineBot/internal/util"
	"github.com/BTreeMap/OutlineBot/internal/whatsapp"
	"github.com/joho/godotenv"
)

// logLevel starts at debug so configuration loading is visible, then follows LOG_LEVEL.
var logLevel = new(slog.LevelVar)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)
	logLevel.Set(parseLogLevel(*flags.logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping OutlineBot")
	err := run(ctx, flags)
	switch {
	case errors.Is(err, bot.ErrLoggedOut):
		slog.Error("OutlineBot stopped: the linked device was logged out. Delete the session directory and restart to pair again",
			"auth_dir", *flags.authDir)
		os.Exit(1)
	case err != nil:
		slog.Error("OutlineBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("OutlineBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	GenAIKey         string
	GenAIBaseURL     string
	GenAIModel       string
	GenAITimeout     time.Duration
	GenAITemperature float64
	GenAIMaxTokens   int
	Preamble         string
	Timezone         string
	Port             int
	AuthDir          string
	WhatsAppDSN      string
	BroadcastJID     string
	BroadcastCron    string
	BroadcastEnabled bool
	SelfPingHost     string
	Cooldown         time.Duration
	LogLevel         string
	QRTerminal       bool
}

// Flags holds command line flag values
type Flags struct {
	genaiKey         *string
	genaiBaseURL     *string
	genaiModel       *string
	genaiTimeout     *time.Duration
	genaiTemperature *float64
	genaiMaxTokens   *int
	preamble         *string
	timezone         *string
	port             *int
	authDir          *string
	dbDSN            *string
	broadcastJID     *string
	broadcastCron    *string
	broadcastEnabled *bool
	selfPingHost     *string
	cooldown         *time.Duration
	logLevel         *string
	qrTerminal       *bool
}

// initializeLogger sets up structured logging on stdout.
func initializeLogger() {
	logLevel.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// parseLogLevel maps LOG_LEVEL values to slog levels; unknown values mean debug.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		GenAIKey:         util.GetEnv("GEMINI_API_KEY", os.Getenv("OPENAI_API_KEY")),
		GenAIBaseURL:     util.GetEnv("GENAI_BASE_URL", genai.DefaultBaseURL),
		GenAIModel:       util.GetEnv("GENAI_MODEL", genai.DefaultModel),
		GenAITimeout:     util.ParseDurationEnv("GENAI_TIMEOUT", genai.DefaultTimeout),
		GenAITemperature: util.ParseFloatEnv("GENAI_TEMPERATURE", genai.DefaultTemperature),
		GenAIMaxTokens:   util.ParseIntEnv("GENAI_MAX_TOKENS", genai.DefaultMaxTokens),
		Preamble:         util.GetEnv("BOT_PREAMBLE", bot.DefaultPreamble),
		Timezone:         os.Getenv("BOT_TIMEZONE"),
		Port:             util.ParseIntEnv("PORT", api.DefaultPort),
		AuthDir:          util.GetEnv("AUTH_DIR", whatsapp.DefaultAuthDir),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		BroadcastJID:     util.GetEnv("BROADCAST_JID", bot.DefaultBroadcastJID),
		BroadcastCron:    util.GetEnv("BROADCAST_CRON", bot.DefaultBroadcastCron),
		BroadcastEnabled: util.ParseBoolEnv("BROADCAST_ENABLED", true),
		SelfPingHost:     os.Getenv("KOYEB_APP_NAME"),
		Cooldown:         util.ParseDurationEnv("COOLDOWN", store.DefaultCooldown),
		LogLevel:         util.GetEnv("LOG_LEVEL", "debug"),
		QRTerminal:       util.ParseBoolEnv("QR_TERMINAL", true),
	}

	slog.Debug("environment variables loaded",
		"GENAI_KEY_SET", config.GenAIKey != "",
		"GENAI_BASE_URL", config.GenAIBaseURL,
		"GENAI_MODEL", config.GenAIModel,
		"GENAI_TIMEOUT", config.GenAITimeout,
		"GENAI_TEMPERATURE", config.GenAITemperature,
		"GENAI_MAX_TOKENS", config.GenAIMaxTokens,
		"BOT_PREAMBLE_SET", config.Preamble != bot.DefaultPreamble,
		"BOT_TIMEZONE", config.Timezone,
		"PORT", config.Port,
		"AUTH_DIR", config.AuthDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"BROADCAST_JID", config.BroadcastJID,
		"BROADCAST_CRON", config.BroadcastCron,
		"BROADCAST_ENABLED", config.BroadcastEnabled,
		"KOYEB_APP_NAME", config.SelfPingHost,
		"COOLDOWN", config.Cooldown,
		"LOG_LEVEL", config.LogLevel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		genaiKey:         flag.String("genai-api-key", config.GenAIKey, "completion API key (overrides $GEMINI_API_KEY / $OPENAI_API_KEY)"),
		genaiBaseURL:     flag.String("genai-base-url", config.GenAIBaseURL, "OpenAI-compatible base URL (overrides $GENAI_BASE_URL)"),
		genaiModel:       flag.String("genai-model", config.GenAIModel, "completion model (overrides $GENAI_MODEL)"),
		genaiTimeout:     flag.Duration("genai-timeout", config.GenAITimeout, "timeout of one completion request (overrides $GENAI_TIMEOUT)"),
		genaiTemperature: flag.Float64("genai-temperature", config.GenAITemperature, "sampling temperature, 0 means the default (overrides $GENAI_TEMPERATURE)"),
		genaiMaxTokens:   flag.Int("genai-max-tokens", config.GenAIMaxTokens, "maximum tokens per reply (overrides $GENAI_MAX_TOKENS)"),
		preamble:         flag.String("preamble", config.Preamble, "system instruction sent with every completion (overrides $BOT_PREAMBLE)"),
		timezone:         flag.String("timezone", config.Timezone, "IANA zone for scheduled jobs, empty means local time (overrides $BOT_TIMEZONE)"),
		port:             flag.Int("port", config.Port, "HTTP port for /qr and status (overrides $PORT)"),
		authDir:          flag.String("auth-dir", config.AuthDir, "WhatsApp session directory (overrides $AUTH_DIR)"),
		dbDSN:            flag.String("db-dsn", config.WhatsAppDSN, "WhatsApp session store DSN, SQLite or PostgreSQL (overrides $WHATSAPP_DB_DSN)"),
		broadcastJID:     flag.String("broadcast-jid", config.BroadcastJID, "group receiving the daily broadcast (overrides $BROADCAST_JID)"),
		broadcastCron:    flag.String("broadcast-cron", config.BroadcastCron, "cron expression of the daily broadcast (overrides $BROADCAST_CRON)"),
		broadcastEnabled: flag.Bool("broadcast", config.BroadcastEnabled, "enable the daily broadcast (overrides $BROADCAST_ENABLED)"),
		selfPingHost:     flag.String("self-ping-host", config.SelfPingHost, "public host pinged every 10 minutes; empty disables (overrides $KOYEB_APP_NAME)"),
		cooldown:         flag.Duration("cooldown", config.Cooldown, "minimum spacing between replies to one chat (overrides $COOLDOWN)"),
		logLevel:         flag.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)"),
		qrTerminal:       flag.Bool("qr-terminal", config.QRTerminal, "draw pairing QR codes in the terminal (overrides $QR_TERMINAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"genaiKeySet", *flags.genaiKey != "",
		"genaiModel", *flags.genaiModel,
		"genaiTimeout", *flags.genaiTimeout,
		"genaiTemperature", *flags.genaiTemperature,
		"genaiMaxTokens", *flags.genaiMaxTokens,
		"timezone", *flags.timezone,
		"port", *flags.port,
		"authDir", *flags.authDir,
		"dbDSN_set", *flags.dbDSN != "",
		"broadcastJID", *flags.broadcastJID,
		"broadcastCron", *flags.broadcastCron,
		"broadcast", *flags.broadcastEnabled,
		"selfPingHost", *flags.selfPingHost,
		"cooldown", *flags.cooldown,
		"qrTerminal", *flags.qrTerminal)

	return flags
}

// validateFlags rejects configurations that would only fail later.
func validateFlags(flags Flags) error {
	if *flags.genaiKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY or -genai-api-key", genai.ErrMissingAPIKey)
	}
	if *flags.broadcastEnabled {
		if err := scheduler.ValidateExpr(*flags.broadcastCron); err != nil {
			return err
		}
		if _, err := whatsapp.ParseAddress(*flags.broadcastJID); err != nil {
			return fmt.Errorf("invalid broadcast JID %q: %w", *flags.broadcastJID, err)
		}
	}
	if *flags.cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative: %s", *flags.cooldown)
	}
	if *flags.genaiTimeout < 0 || *flags.genaiMaxTokens < 0 {
		return fmt.Errorf("genai timeout and max tokens must not be negative")
	}
	if t := *flags.genaiTemperature; t < 0 || t > 2 {
		return fmt.Errorf("genai temperature must be between 0 and 2: %v", t)
	}
	if _, err := buildSchedulerOptions(flags); err != nil {
		return err
	}
	return nil
}

// run wires every module and blocks until ctx ends or the session is logged out.
func run(ctx context.Context, flags Flags) error {
	if err := validateFlags(flags); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(*flags.authDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
	if err != nil {
		return err
	}
	svc := messaging.NewWhatsAppService(waClient)
	defer svc.Stop()

	gen, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}
	dedup, err := store.NewDedupFilter()
	if err != nil {
		return err
	}

	schedOpts, err := buildSchedulerOptions(flags)
	if err != nil {
		return err
	}
	sched := scheduler.NewScheduler(schedOpts...)
	defer sched.Stop()

	slot := api.NewPairingSlot()
	lifecycle := bot.NewLifecycle(svc, slot, buildLifecycleOptions(flags, svc, sched, sched.Location())...)

	server := api.NewServer(slot, buildAPIOptions(flags, lifecycle)...)
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Shutdown(context.Background())

	if host := *flags.selfPingHost; host != "" {
		if err := bot.NewSelfPinger(host).Start(ctx, sched, bot.DefaultSelfPingInterval); err != nil {
			return err
		}
	} else {
		slog.Info("Self-ping disabled: KOYEB_APP_NAME not set")
	}

	dispatcher := bot.NewDispatcher(svc, gen, store.NewHistoryStore(), store.NewCooldownStore(), dedup,
		buildDispatcherOptions(flags)...)
	slog.Debug("Modules wired", "model", gen.Model(), "scheduled_jobs", sched.Len())
	return bot.New(svc, dispatcher, lifecycle).Run(ctx)
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithAuthDir(*flags.authDir)}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	if *flags.qrTerminal {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(os.Stdout))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.genaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.genaiKey))
	}
	if *flags.genaiBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.genaiBaseURL))
	}
	if *flags.genaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.genaiModel))
	}
	genaiOpts = append(genaiOpts,
		genai.WithTimeout(*flags.genaiTimeout),
		genai.WithTemperature(*flags.genaiTemperature),
		genai.WithMaxTokens(*flags.genaiMaxTokens))
	return genaiOpts
}

// buildSchedulerOptions resolves the configured time zone. Empty means local time.
func buildSchedulerOptions(flags Flags) ([]scheduler.Option, error) {
	if *flags.timezone == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(*flags.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", *flags.timezone, err)
	}
	return []scheduler.Option{scheduler.WithLocation(loc)}, nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, lifecycle *bot.Lifecycle) []api.Option {
	return []api.Option{
		api.WithPort(*flags.port),
		api.WithConnectedFunc(lifecycle.Connected),
	}
}

// buildDispatcherOptions constructs message dispatcher options
func buildDispatcherOptions(flags Flags) []bot.DispatcherOption {
	opts := []bot.DispatcherOption{
		bot.WithCooldown(*flags.cooldown),
		bot.WithIgnoredJID(*flags.broadcastJID),
	}
	if *flags.preamble != "" {
		opts = append(opts, bot.WithPreamble(*flags.preamble))
	}
	return opts
}

// buildLifecycleOptions hooks the daily broadcast onto the first open when enabled.
func buildLifecycleOptions(flags Flags, sender whatsapp.Sender, sched bot.JobScheduler, loc *time.Location) []bot.LifecycleOption {
	if !*flags.broadcastEnabled {
		slog.Info("Daily broadcast disabled")
		return nil
	}
	broadcaster := bot.NewBroadcaster(sender, sched,
		bot.WithBroadcastTarget(*flags.broadcastJID),
		bot.WithBroadcastCron(*flags.broadcastCron),
		bot.WithBroadcastLocation(loc))
	return []bot.LifecycleOption{bot.WithOnOpen(broadcaster.Start)}
}
