package configs

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHECKOUT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
		Migrate         bool          `koanf:"migrate"`
	} `koanf:"mysql"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Cache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"cache"`

	Kafka struct {
		Enabled     bool          `koanf:"enabled"`
		Brokers     []string      `koanf:"brokers"`
		TopicEvents string        `koanf:"topic_events"`
		GroupID     string        `koanf:"group_id"`
		RelayEvery  time.Duration `koanf:"relay_every"`

		// HandlerAttempts bounds retries of one status event before it is
		// skipped; HandlerBackoff is the first wait, doubled per retry.
		HandlerAttempts int           `koanf:"handler_attempts"`
		HandlerBackoff  time.Duration `koanf:"handler_backoff"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string `koanf:"jwt_secret"`
		Issuer    string `koanf:"issuer"`
		Audience  string `koanf:"audience"`
		AdminRole string `koanf:"admin_role"`
	} `koanf:"security"`

	Mpesa struct {
		Environment        string   `koanf:"environment"`
		ConsumerKey        string   `koanf:"consumer_key"`
		ConsumerSecret     string   `koanf:"consumer_secret"`
		Shortcode          string   `koanf:"shortcode"`
		Passkey            string   `koanf:"passkey"`
		CallbackURL        string   `koanf:"callback_url"`
		CallbackToken      string   `koanf:"callback_token"`
		CallbackAllowCIDRs []string `koanf:"callback_allow_cidrs"`
		BaseURL            string   `koanf:"base_url"`
	} `koanf:"mpesa"`

	Reaper struct {
		MaxAge   time.Duration `koanf:"max_age"`
		Every    time.Duration `koanf:"every"`
		LeaseTTL time.Duration `koanf:"lease_ttl"`
	} `koanf:"reaper"`

	Poller struct {
		Interval    time.Duration `koanf:"interval"`
		MaxAttempts int           `koanf:"max_attempts"`
	} `koanf:"poller"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix CHECKOUT_, nested with __)
	// e.g. CHECKOUT_MYSQL__DSN, CHECKOUT_MPESA__CONSUMER_SECRET
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ReplaceAll(s, "__", ".")
	return strings.ToLower(s)
}

// Validate fails fast on anything the service cannot run without. Secrets
// have no defaults.
func (c Config) Validate() error {
	var errs []error
	req := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s required", name))
		}
	}
	req("app.http_addr", c.App.HTTPAddr)
	req("mysql.dsn", c.MySQL.DSN)
	req("redis.addr", c.Redis.Addr)
	req("security.jwt_secret", c.Security.JWTSecret)
	req("mpesa.consumer_key", c.Mpesa.ConsumerKey)
	req("mpesa.consumer_secret", c.Mpesa.ConsumerSecret)
	req("mpesa.shortcode", c.Mpesa.Shortcode)
	req("mpesa.passkey", c.Mpesa.Passkey)
	req("mpesa.callback_url", c.Mpesa.CallbackURL)

	if e := c.Mpesa.Environment; e != "sandbox" && e != "production" {
		errs = append(errs, fmt.Errorf("mpesa.environment must be sandbox or production, got %q", e))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers required when kafka.enabled"))
		}
		req("kafka.topic_events", c.Kafka.TopicEvents)
		req("kafka.group_id", c.Kafka.GroupID)
	}
	for _, cidr := range c.Mpesa.CallbackAllowCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("mpesa.callback_allow_cidrs: %w", err))
		}
	}
	return errors.Join(errs...)
}
