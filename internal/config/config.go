// Package config loads service settings from the environment and an optional
// YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Version   string    `yaml:"version" env:"IEPP_VERSION" env-default:"dev"`
	Commit    string    `yaml:"commit" env:"IEPP_COMMIT" env-default:"none"`
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Database  Database  `yaml:"database"`
	Auth      Auth      `yaml:"auth"`
	Provision Provision `yaml:"provision"`
	Log       Log       `yaml:"log"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"IEPP_HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"IEPP_HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"IEPP_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IEPP_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"IEPP_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"IEPP_HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"IEPP_RATE_LIMIT_RPS" env-default:"20"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"IEPP_RATE_LIMIT_BURST" env-default:"40"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"IEPP_CORS_ORIGINS" env-separator:","`
}

type GRPC struct {
	// Addr empty disables the gRPC health server.
	Addr          string        `yaml:"addr" env:"IEPP_GRPC_ADDR" env-default:":9090"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"IEPP_GRPC_PROBE_INTERVAL" env-default:"5s"`
}

// Database settings. An empty DSN selects the in-memory stores.
type Database struct {
	DSN             string        `yaml:"dsn" env:"IEPP_PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"IEPP_PG_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"IEPP_PG_MAX_IDLE_CONNS" env-default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"IEPP_PG_CONN_MAX_LIFETIME" env-default:"15m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"IEPP_PG_CONN_MAX_IDLE_TIME" env-default:"5m"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"IEPP_PG_MIGRATE_ON_START" env-default:"false"`
}

type Auth struct {
	Issuer     string        `yaml:"issuer" env:"IEPP_JWT_ISSUER" env-default:"iepp"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"IEPP_JWT_TTL" env-default:"1h"`
	HMACSecret string        `yaml:"hmac_secret" env:"IEPP_JWT_SECRET"`
	RSAKeyFile string        `yaml:"rsa_key_file" env:"IEPP_JWT_KEY_FILE"`
	KeyID      string        `yaml:"key_id" env:"IEPP_JWT_KEY_ID" env-default:"iepp-1"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"IEPP_BCRYPT_COST" env-default:"10"`
}

type Provision struct {
	SurfaceDuplicates   bool          `yaml:"surface_duplicates" env:"IEPP_PROVISION_SURFACE_DUPLICATES" env-default:"false"`
	CompensationTimeout time.Duration `yaml:"compensation_timeout" env:"IEPP_PROVISION_COMPENSATION_TIMEOUT" env-default:"10s"`
}

type Log struct {
	Level  string `yaml:"level" env:"IEPP_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"IEPP_LOG_FORMAT" env-default:"json"`
}

const minSecretLength = 16

// Load reads path (when set) and the environment, environment winning, and
// validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Validate rejects missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.GRPC.Addr != "" && c.GRPC.ProbeInterval <= 0 {
		errs = append(errs, errors.New("grpc.probe_interval must be positive"))
	}
	switch {
	case c.Auth.HMACSecret == "" && c.Auth.RSAKeyFile == "":
		errs = append(errs, errors.New("one of auth.hmac_secret or auth.rsa_key_file is required"))
	case c.Auth.HMACSecret != "" && c.Auth.RSAKeyFile != "":
		errs = append(errs, errors.New("auth.hmac_secret and auth.rsa_key_file are mutually exclusive"))
	case c.Auth.HMACSecret != "" && len(c.Auth.HMACSecret) < minSecretLength:
		errs = append(errs, fmt.Errorf("auth.hmac_secret must be at least %d bytes", minSecretLength))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Provision.CompensationTimeout <= 0 {
		errs = append(errs, errors.New("provision.compensation_timeout must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}

// InMemory reports whether no database is configured.
func (c Config) InMemory() bool {
	return strings.TrimSpace(c.Database.DSN) == ""
}
