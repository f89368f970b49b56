package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Scan struct {
		Schedule           string        `yaml:"schedule"`
		Workers            int           `yaml:"workers"`
		Deadline           time.Duration `yaml:"deadline"`
		ActiveLookbackDays int           `yaml:"active_lookback_days"`
		SilenceHorizonDays int           `yaml:"silence_horizon_days"`
		Timezone           string        `yaml:"timezone"`
		ReminderSchedule   string        `yaml:"reminder_schedule"`
	} `yaml:"scan"`
	Generation struct {
		APIKey    string        `yaml:"api_key"`
		Model     string        `yaml:"model"`
		Timeout   time.Duration `yaml:"timeout"`
		MaxTokens int           `yaml:"max_tokens"`
	} `yaml:"generation"`
	Email struct {
		Region   string `yaml:"region"`
		From     string `yaml:"from"`
		FromName string `yaml:"from_name"`
	} `yaml:"email"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
}

// Load собирает конфигурацию: .env → YAML (CONFIG_PATH) → переменные окружения → значения по умолчанию
func Load() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Telegram.Token, "TG_TOKEN")
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Database.Path, "DB_PATH")
	setString(&cfg.Log.Mode, "LOG_MODE")
	setString(&cfg.Scan.Schedule, "SCAN_SCHEDULE")
	setString(&cfg.Scan.Timezone, "TIMEZONE")
	setString(&cfg.Scan.ReminderSchedule, "REMINDER_SCHEDULE")
	setString(&cfg.Generation.APIKey, "GEMINI_API_KEY")
	setString(&cfg.Generation.Model, "GEMINI_MODEL")
	setString(&cfg.Email.Region, "SES_REGION")
	setString(&cfg.Email.From, "SES_FROM_EMAIL")
	setString(&cfg.Email.FromName, "SES_FROM_NAME")
	setString(&cfg.Redis.URL, "REDIS_URL")

	ints := map[string]*int{
		"SCAN_WORKERS":          &cfg.Scan.Workers,
		"ACTIVE_LOOKBACK_DAYS":  &cfg.Scan.ActiveLookbackDays,
		"SILENCE_HORIZON_DAYS":  &cfg.Scan.SilenceHorizonDays,
		"GENERATION_MAX_TOKENS": &cfg.Generation.MaxTokens,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("неверный %s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"SCAN_DEADLINE":      &cfg.Scan.Deadline,
		"GENERATION_TIMEOUT": &cfg.Generation.Timeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("неверный %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Server.Port, "8080")
	setDefault(&cfg.Database.Path, "/data/pillars-watch.db")
	setDefault(&cfg.Log.Mode, "dev")
	setDefault(&cfg.Scan.Schedule, "@every 6h")
	setDefault(&cfg.Scan.Timezone, "Europe/Moscow")
	// Вечернее напоминание об отметке, по местному времени
	setDefault(&cfg.Scan.ReminderSchedule, "0 21 * * *")
	setDefault(&cfg.Generation.Model, "gemini-2.5-flash")
	setDefault(&cfg.Email.Region, "eu-west-1")

	if cfg.Scan.Workers <= 0 {
		cfg.Scan.Workers = 4
	}
	if cfg.Scan.Deadline <= 0 {
		cfg.Scan.Deadline = 20 * time.Minute
	}
	if cfg.Scan.ActiveLookbackDays <= 0 {
		cfg.Scan.ActiveLookbackDays = 7
	}
	if cfg.Scan.SilenceHorizonDays <= 0 {
		cfg.Scan.SilenceHorizonDays = 30
	}
	if cfg.Generation.Timeout <= 0 {
		cfg.Generation.Timeout = 15 * time.Second
	}
	if cfg.Generation.MaxTokens <= 0 {
		cfg.Generation.MaxTokens = 400
	}
}

// Validate проверяет значения, без которых сканер работать не может.
// Токен Telegram проверяется отдельно в RequireTelegram: для разового /scan он не нужен.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Scan.Timezone); err != nil {
		return fmt.Errorf("неверный TIMEZONE %q: %w", c.Scan.Timezone, err)
	}
	if c.Scan.SilenceHorizonDays < c.Scan.ActiveLookbackDays {
		return errors.New("SILENCE_HORIZON_DAYS не может быть меньше ACTIVE_LOOKBACK_DAYS")
	}
	return nil
}

func (c *Config) RequireTelegram() error {
	if c.Telegram.Token == "" {
		return errors.New("TG_TOKEN не установлен. Установите переменную окружения или создайте .env файл")
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scan.Timezone)
	if err != nil {
		// Fallback: UTC+3
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDefault(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}
