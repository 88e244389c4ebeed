package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
		// Публичный адрес сервиса, используется в callback-ссылках
		BaseURL string `mapstructure:"base_url"`
		// Прокси, которым доверяем X-Real-Ip/X-Forwarded-For (IP или CIDR)
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"name"`
	} `mapstructure:"db"`
	JWT struct {
		SecretKey string `mapstructure:"secret_key"`
		ExpiresIn int    `mapstructure:"expires_in"` // в часах
	} `mapstructure:"jwt"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
		To       string `mapstructure:"to"`
	} `mapstructure:"smtp"`
	Payments struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
		// Ключи API кошельков: wallet id -> admin key
		WalletKeys map[string]string `mapstructure:"wallet_keys"`
	} `mapstructure:"payments"`
	Scan struct {
		// Добавлять поля LNURL-withdraw в ответ сканирования
		WithdrawResponse bool `mapstructure:"withdraw_response"`
		// Запросов в минуту с одного IP, 0 - без ограничения
		RateLimit int `mapstructure:"rate_limit"`
	} `mapstructure:"scan"`
	Admin struct {
		PasswordHash string `mapstructure:"password_hash"` // bcrypt
	} `mapstructure:"admin"`
	LogLevel string `mapstructure:"log_level"`
}

// DSN возвращает строку подключения для gorm
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.DBName,
	)
}

// MigrateURL возвращает URL базы данных для golang-migrate
func (c *Config) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User,
		c.DB.Password,
		c.DB.Host,
		c.DB.Port,
		c.DB.DBName,
	)
}

func setDefaults(v *viper.Viper) {
	// Настройки сервера
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.trusted_proxies", []string{})

	// Настройки базы данных
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "nfcauth")

	// Настройки JWT
	v.SetDefault("jwt.secret_key", "your-secret-key-here")
	v.SetDefault("jwt.expires_in", 24)

	// Настройки SMTP (пустой host отключает уведомления)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.to", "")

	// Платежный сервис
	v.SetDefault("payments.url", "http://localhost:5000")
	v.SetDefault("payments.timeout", 30*time.Second)
	v.SetDefault("payments.wallet_keys", map[string]string{})

	v.SetDefault("scan.withdraw_response", false)
	v.SetDefault("scan.rate_limit", 60)

	v.SetDefault("admin.password_hash", "")
	v.SetDefault("log_level", "info")
}

// NewConfig создает новый экземпляр конфигурации.
// Порядок: значения по умолчанию, файл из CONFIG_FILE, переменные окружения.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	if cfg.Server.Port <= 0 {
		return nil, fmt.Errorf("неверный порт сервера: %d", cfg.Server.Port)
	}
	if cfg.DB.Port <= 0 {
		return nil, fmt.Errorf("неверный порт базы данных: %d", cfg.DB.Port)
	}
	if cfg.JWT.SecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if cfg.Payments.WalletKeys == nil {
		cfg.Payments.WalletKeys = map[string]string{}
	}

	return cfg, nil
}
