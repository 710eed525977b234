package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`

	CacheFile       string `env:"CACHE_FILE" envDefault:"cache.json"`
	DatabaseFile    string `env:"DATABASE_FILE" envDefault:"releasewatch.sqlite"`
	HistoryTTLHours int    `env:"HISTORY_TTL_HOURS" envDefault:"336"`

	Transport        string  `env:"TRANSPORT" envDefault:"discord"`
	SendTimeoutSecs  int     `env:"SEND_TIMEOUT_SECS" envDefault:"30"`
	FetchTimeoutSecs int     `env:"FETCH_TIMEOUT_SECS" envDefault:"30"`
	SendRatePerSec   float64 `env:"SEND_RATE_PER_SEC" envDefault:"1"`
	SendBurst        int     `env:"SEND_BURST" envDefault:"5"`

	PollSeconds           int  `env:"POLL_SECONDS" envDefault:"300"`
	CurseforgePollSeconds *int `env:"CURSEFORGE_POLL_SECONDS"`
	StartupDelaySecs      int  `env:"STARTUP_DELAY_SECS" envDefault:"2"`
	CurseforgeDirectLink  bool `env:"CURSEFORGE_DIRECT_LINK" envDefault:"false"`

	ModtaleProjectsJSON    string `env:"MODTALE_PROJECTS_JSON"`
	CurseforgeProjectsJSON string `env:"CURSEFORGE_PROJECTS_JSON"`

	ModtaleBaseURL    string `env:"MODTALE_BASE_URL" envDefault:"https://api.modtale.net/"`
	CFWidgetBaseURL   string `env:"CFWIDGET_BASE_URL" envDefault:"https://api.cfwidget.com/"`
	CurseforgeSiteURL string `env:"CURSEFORGE_SITE_URL" envDefault:"https://www.curseforge.com/hytale/mods/"`

	Discord struct {
		WebhookURL string `env:"DISCORD_WEBHOOK_URL"`
	}
	Telegram struct {
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
		ChatID   int64  `env:"TELEGRAM_CHAT_ID"`
		APIURL   string `env:"TELEGRAM_API_URL"`
	}
	Mailgun struct {
		Domain     string `env:"MAILGUN_DOMAIN"`
		APIKey     string `env:"MAILGUN_API_KEY"`
		SenderFrom string `env:"MAILGUN_SENDER_FROM"`
		Recipient  string `env:"MAILGUN_RECIPIENT"`
		APIBase    string `env:"MAILGUN_API_BASE"`
	}

	log     *zap.Logger
	creds   map[string]string
	streams []models.StreamConfig
}

// ConfigError is returned for configuration that prevents startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func NewConfig(log *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Sugar().Warnw("Failed to read .env file", "err", err)
	}

	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		return nil, &ConfigError{Field: "env", Reason: err.Error()}
	}
	if err := cfg.load(); err != nil {
		return nil, err
	}

	log.Sugar().Infow("Configuration loaded",
		"transport", cfg.Transport,
		"modtale_projects", len(cfg.StreamsOf(models.SourceModtale)),
		"curseforge_projects", len(cfg.StreamsOf(models.SourceCurseforge)),
	)
	return cfg, nil
}

// load validates the parsed fields and derives streams and credentials.
func (cfg *Config) load() error {
	if cfg.CurseforgePollSeconds == nil {
		cfg.CurseforgePollSeconds = &cfg.PollSeconds
	}
	if cfg.PollSeconds <= 0 {
		return &ConfigError{"POLL_SECONDS", "must be positive"}
	}
	if *cfg.CurseforgePollSeconds <= 0 {
		return &ConfigError{"CURSEFORGE_POLL_SECONDS", "must be positive"}
	}
	if err := cfg.validateTransport(); err != nil {
		return err
	}

	modtale, err := parseModtaleProjects(cfg.ModtaleProjectsJSON)
	if err != nil {
		return err
	}
	curseforge, err := parseCurseforgeProjects(cfg.CurseforgeProjectsJSON)
	if err != nil {
		return err
	}
	cfg.streams = append(modtale, curseforge...)

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env == "production" {
			return &ConfigError{"BASIC_AUTH_CREDS", err.Error()}
		}
		if cfg.log != nil && cfg.BasicAuthCreds != "" {
			cfg.log.Sugar().Infof("%s (auth is disabled outside production)", err)
		}
		creds = nil
	}
	cfg.creds = creds
	return nil
}

func (cfg *Config) validateTransport() error {
	switch cfg.Transport {
	case "discord":
		if cfg.Discord.WebhookURL == "" {
			return &ConfigError{"DISCORD_WEBHOOK_URL", "required for discord transport"}
		}
	case "telegram":
		if cfg.Telegram.BotToken == "" {
			return &ConfigError{"TELEGRAM_BOT_TOKEN", "required for telegram transport"}
		}
		if cfg.Telegram.ChatID == 0 {
			return &ConfigError{"TELEGRAM_CHAT_ID", "required for telegram transport"}
		}
	case "email":
		if cfg.Mailgun.Domain == "" || cfg.Mailgun.APIKey == "" {
			return &ConfigError{"MAILGUN_DOMAIN", "domain and api key are required for email transport"}
		}
		if cfg.Mailgun.Recipient == "" {
			return &ConfigError{"MAILGUN_RECIPIENT", "required for email transport"}
		}
	default:
		return &ConfigError{"TRANSPORT", fmt.Sprintf("unknown transport %q", cfg.Transport)}
	}
	return nil
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

// Streams returns every configured stream in configuration order.
func (cfg *Config) Streams() []models.StreamConfig {
	return cfg.streams
}

func (cfg *Config) StreamsOf(kind models.SourceKind) []models.StreamConfig {
	var out []models.StreamConfig
	for _, s := range cfg.streams {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (cfg *Config) PollInterval(kind models.SourceKind) time.Duration {
	if kind == models.SourceCurseforge && cfg.CurseforgePollSeconds != nil {
		return time.Duration(*cfg.CurseforgePollSeconds) * time.Second
	}
	return time.Duration(cfg.PollSeconds) * time.Second
}

func (cfg *Config) SendTimeout() time.Duration {
	return time.Duration(cfg.SendTimeoutSecs) * time.Second
}

func (cfg *Config) FetchTimeout() time.Duration {
	return time.Duration(cfg.FetchTimeoutSecs) * time.Second
}

func (cfg *Config) HistoryTTL() time.Duration {
	return time.Duration(cfg.HistoryTTLHours) * time.Hour
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}

func parseJSONArray(name, raw string) ([]map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, &ConfigError{name, "must be valid JSON: " + err.Error()}
	}
	arr, ok := decoded.([]any)
	if !ok {
		return nil, &ConfigError{name, "must be a JSON array"}
	}

	out := make([]map[string]any, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, &ConfigError{fmt.Sprintf("%s[%d]", name, i), "must be an object"}
		}
		out[i] = obj
	}
	return out, nil
}

// stringField returns the first non-empty value among keys. Numbers are
// accepted only when integral.
func stringField(obj map[string]any, keys ...string) (string, error) {
	for _, k := range keys {
		var s string
		switch v := obj[k].(type) {
		case string:
			s = v
		case float64:
			if v != math.Trunc(v) {
				return "", fmt.Errorf("%s must be an integer or string, got %v", k, v)
			}
			s = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", nil
}

func parseModtaleProjects(raw string) ([]models.StreamConfig, error) {
	const name = "MODTALE_PROJECTS_JSON"
	objs, err := parseJSONArray(name, raw)
	if err != nil {
		return nil, err
	}

	out := make([]models.StreamConfig, 0, len(objs))
	for i, obj := range objs {
		field := fmt.Sprintf("%s[%d]", name, i)
		uuid, err := stringField(obj, "project_uuid", "uuid")
		if err != nil {
			return nil, &ConfigError{field, err.Error()}
		}
		if uuid == "" {
			return nil, &ConfigError{field, "missing project_uuid"}
		}
		token, err := stringField(obj, "api_token")
		if err != nil {
			return nil, &ConfigError{field, err.Error()}
		}
		out = append(out, models.StreamConfig{
			Stream:   models.Stream{Kind: models.SourceModtale, Key: uuid},
			APIToken: token,
		})
	}
	return out, nil
}

func parseCurseforgeProjects(raw string) ([]models.StreamConfig, error) {
	const name = "CURSEFORGE_PROJECTS_JSON"
	objs, err := parseJSONArray(name, raw)
	if err != nil {
		return nil, err
	}

	out := make([]models.StreamConfig, 0, len(objs))
	for i, obj := range objs {
		field := fmt.Sprintf("%s[%d]", name, i)
		id, err := stringField(obj, "project_id")
		if err != nil {
			return nil, &ConfigError{field, err.Error()}
		}
		if id == "" {
			return nil, &ConfigError{field, "missing project_id"}
		}
		slug, err := stringField(obj, "project_slug")
		if err != nil {
			return nil, &ConfigError{field, err.Error()}
		}
		if slug == "" {
			return nil, &ConfigError{field, "missing project_slug"}
		}
		out = append(out, models.StreamConfig{
			Stream: models.Stream{Kind: models.SourceCurseforge, Key: id},
			Slug:   slug,
		})
	}
	return out, nil
}
