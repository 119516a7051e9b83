package main

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/BTreeMap/OutlineBot/internal/api"
	"github.com/BTreeMap/OutlineBot/internal/bot"
	"github.com/BTreeMap/OutlineBot/internal/genai"
	"github.com/BTreeMap/OutlineBot/internal/scheduler"
	"github.com/BTreeMap/OutlineBot/internal/store"
	"github.com/BTreeMap/OutlineBot/internal/whatsapp"
)

var configEnvVars = []string{
	"GEMINI_API_KEY", "OPENAI_API_KEY", "GENAI_BASE_URL", "GENAI_MODEL", "PORT", "AUTH_DIR",
	"WHATSAPP_DB_DSN", "BROADCAST_JID", "BROADCAST_CRON", "BROADCAST_ENABLED", "KOYEB_APP_NAME",
	"COOLDOWN", "LOG_LEVEL", "QR_TERMINAL", "GENAI_TIMEOUT", "GENAI_TEMPERATURE", "GENAI_MAX_TOKENS",
	"BOT_PREAMBLE", "BOT_TIMEZONE",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
}

func flagsFromConfig(c Config) Flags {
	return Flags{
		genaiKey:         &c.GenAIKey,
		genaiBaseURL:     &c.GenAIBaseURL,
		genaiModel:       &c.GenAIModel,
		genaiTimeout:     &c.GenAITimeout,
		genaiTemperature: &c.GenAITemperature,
		genaiMaxTokens:   &c.GenAIMaxTokens,
		preamble:         &c.Preamble,
		timezone:         &c.Timezone,
		port:             &c.Port,
		authDir:          &c.AuthDir,
		dbDSN:            &c.WhatsAppDSN,
		broadcastJID:     &c.BroadcastJID,
		broadcastCron:    &c.BroadcastCron,
		broadcastEnabled: &c.BroadcastEnabled,
		selfPingHost:     &c.SelfPingHost,
		cooldown:         &c.Cooldown,
		logLevel:         &c.LogLevel,
		qrTerminal:       &c.QRTerminal,
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	config := loadEnvironmentConfig()

	if config.Port != api.DefaultPort {
		t.Errorf("Expected default port %d, got %d", api.DefaultPort, config.Port)
	}
	if config.AuthDir != whatsapp.DefaultAuthDir {
		t.Errorf("Expected default auth dir %q, got %q", whatsapp.DefaultAuthDir, config.AuthDir)
	}
	if config.GenAIModel != genai.DefaultModel || config.GenAIBaseURL != genai.DefaultBaseURL {
		t.Errorf("unexpected genai defaults: %q %q", config.GenAIModel, config.GenAIBaseURL)
	}
	if config.BroadcastJID != bot.DefaultBroadcastJID || config.BroadcastCron != bot.DefaultBroadcastCron || !config.BroadcastEnabled {
		t.Errorf("unexpected broadcast defaults: %+v", config)
	}
	if config.Cooldown != store.DefaultCooldown {
		t.Errorf("Expected default cooldown %v, got %v", store.DefaultCooldown, config.Cooldown)
	}
	if config.SelfPingHost != "" || config.WhatsAppDSN != "" || config.GenAIKey != "" {
		t.Errorf("expected empty optional values, got %+v", config)
	}
	if !config.QRTerminal {
		t.Error("terminal QR should default to on")
	}
	if config.GenAITimeout != genai.DefaultTimeout || config.GenAITemperature != genai.DefaultTemperature ||
		config.GenAIMaxTokens != genai.DefaultMaxTokens {
		t.Errorf("unexpected genai tuning defaults: %+v", config)
	}
	if config.Preamble != bot.DefaultPreamble || config.Timezone != "" {
		t.Errorf("unexpected preamble/timezone defaults: %+v", config)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("PORT", "8080")
	t.Setenv("AUTH_DIR", "/data/auth")
	t.Setenv("WHATSAPP_DB_DSN", "postgres://u:p@db/wa")
	t.Setenv("BROADCAST_ENABLED", "off")
	t.Setenv("KOYEB_APP_NAME", "outline-bot.koyeb.app")
	t.Setenv("COOLDOWN", "10s")
	t.Setenv("QR_TERMINAL", "no")
	t.Setenv("GENAI_TIMEOUT", "90s")
	t.Setenv("GENAI_MAX_TOKENS", "256")
	t.Setenv("BOT_TIMEZONE", "America/Mexico_City")

	config := loadEnvironmentConfig()

	if config.GenAIKey != "gem-key" || config.Port != 8080 || config.AuthDir != "/data/auth" {
		t.Errorf("overrides not applied: %+v", config)
	}
	if config.WhatsAppDSN != "postgres://u:p@db/wa" || config.BroadcastEnabled || config.QRTerminal {
		t.Errorf("overrides not applied: %+v", config)
	}
	if config.SelfPingHost != "outline-bot.koyeb.app" || config.Cooldown != 10*time.Second {
		t.Errorf("overrides not applied: %+v", config)
	}
	if config.GenAITimeout != 90*time.Second || config.GenAIMaxTokens != 256 || config.Timezone != "America/Mexico_City" {
		t.Errorf("overrides not applied: %+v", config)
	}
}

func TestLoadEnvironmentConfigOpenAIKeyFallback(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OPENAI_API_KEY", "openai-key")

	if got := loadEnvironmentConfig().GenAIKey; got != "openai-key" {
		t.Errorf("expected OPENAI_API_KEY fallback, got %q", got)
	}

	t.Setenv("GEMINI_API_KEY", "gem-key")
	if got := loadEnvironmentConfig().GenAIKey; got != "gem-key" {
		t.Errorf("GEMINI_API_KEY should win, got %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"debug", slog.LevelDebug},
		{"verbose", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateFlags(t *testing.T) {
	clearConfigEnv(t)
	base := loadEnvironmentConfig()
	base.GenAIKey = "key"

	if err := validateFlags(flagsFromConfig(base)); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	noKey := base
	noKey.GenAIKey = ""
	if err := validateFlags(flagsFromConfig(noKey)); !errors.Is(err, genai.ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}

	badCron := base
	badCron.BroadcastCron = "every morning"
	if err := validateFlags(flagsFromConfig(badCron)); err == nil {
		t.Error("expected invalid cron to be rejected")
	}

	badCron.BroadcastEnabled = false
	if err := validateFlags(flagsFromConfig(badCron)); err != nil {
		t.Errorf("cron must not be validated when broadcast is disabled: %v", err)
	}

	negative := base
	negative.Cooldown = -time.Second
	if err := validateFlags(flagsFromConfig(negative)); err == nil {
		t.Error("expected negative cooldown to be rejected")
	}

	hot := base
	hot.GenAITemperature = 3
	if err := validateFlags(flagsFromConfig(hot)); err == nil {
		t.Error("expected out of range temperature to be rejected")
	}

	badZone := base
	badZone.Timezone = "Mars/Olympus_Mons"
	if err := validateFlags(flagsFromConfig(badZone)); err == nil {
		t.Error("expected unknown timezone to be rejected")
	}
}

func TestBuildWhatsAppOptions(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()

	if got := len(buildWhatsAppOptions(flagsFromConfig(config))); got != 2 {
		t.Errorf("expected auth dir and QR output options, got %d", got)
	}

	config.WhatsAppDSN = "postgres://u:p@db/wa"
	config.QRTerminal = false
	var opts whatsapp.Opts
	for _, opt := range buildWhatsAppOptions(flagsFromConfig(config)) {
		opt(&opts)
	}
	if opts.DBDSN != "postgres://u:p@db/wa" || opts.QROutput != nil || opts.AuthDir != whatsapp.DefaultAuthDir {
		t.Errorf("unexpected whatsapp options %+v", opts)
	}
}

func TestBuildGenAIOptions(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()
	config.GenAIKey = "key"
	config.GenAIModel = "gemini-2.5-pro"

	var opts genai.Opts
	for _, opt := range buildGenAIOptions(flagsFromConfig(config)) {
		opt(&opts)
	}
	if opts.APIKey != "key" || opts.Model != "gemini-2.5-pro" || opts.BaseURL != genai.DefaultBaseURL {
		t.Errorf("unexpected genai options %+v", opts)
	}
	if opts.Timeout != genai.DefaultTimeout || opts.Temperature != genai.DefaultTemperature || opts.MaxTokens != genai.DefaultMaxTokens {
		t.Errorf("tuning options not passed through: %+v", opts)
	}

	config.GenAITimeout = 15 * time.Second
	opts = genai.Opts{}
	for _, opt := range buildGenAIOptions(flagsFromConfig(config)) {
		opt(&opts)
	}
	if opts.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", opts.Timeout)
	}
}

func TestBuildSchedulerOptions(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()

	opts, err := buildSchedulerOptions(flagsFromConfig(config))
	if err != nil || len(opts) != 0 {
		t.Fatalf("empty timezone: opts=%d err=%v", len(opts), err)
	}

	config.Timezone = "UTC"
	opts, err = buildSchedulerOptions(flagsFromConfig(config))
	if err != nil {
		t.Fatalf("buildSchedulerOptions: %v", err)
	}
	sched := scheduler.NewScheduler(opts...)
	defer sched.Stop()
	if sched.Location().String() != "UTC" {
		t.Errorf("Location() = %v, want UTC", sched.Location())
	}
}

func TestBuildLifecycleOptions(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()
	sender := whatsapp.NewMockClient()

	if got := len(buildLifecycleOptions(flagsFromConfig(config), sender, nil, time.UTC)); got != 1 {
		t.Errorf("expected broadcast hook, got %d options", got)
	}
	config.BroadcastEnabled = false
	if got := len(buildLifecycleOptions(flagsFromConfig(config), sender, nil, time.UTC)); got != 0 {
		t.Errorf("expected no hook when disabled, got %d options", got)
	}
}

func TestBuildDispatcherAndAPIOptions(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()
	flags := flagsFromConfig(config)

	var d bot.DispatcherOpts
	for _, opt := range buildDispatcherOptions(flags) {
		opt(&d)
	}
	if d.Cooldown != store.DefaultCooldown || d.BroadcastJID != bot.DefaultBroadcastJID || d.Preamble != bot.DefaultPreamble {
		t.Errorf("unexpected dispatcher options %+v", d)
	}

	custom := config
	custom.Preamble = "Responde en inglés."
	d = bot.DispatcherOpts{}
	for _, opt := range buildDispatcherOptions(flagsFromConfig(custom)) {
		opt(&d)
	}
	if d.Preamble != "Responde en inglés." {
		t.Errorf("Preamble = %q", d.Preamble)
	}

	var a api.Opts
	for _, opt := range buildAPIOptions(flags, bot.NewLifecycle(nil, api.NewPairingSlot())) {
		opt(&a)
	}
	if a.Port != api.DefaultPort || a.Connected == nil {
		t.Errorf("unexpected api options %+v", a)
	}
}
