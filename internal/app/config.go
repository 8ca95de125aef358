package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	mdrdb "github.com/yungbote/clinical-mdr/internal/data/db"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/platform/envutil"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageNeo4j    = "neo4j"
)

type Config struct {
	LogMode     string
	HTTPAddr    string
	MetricsAddr string
	ServiceName string
	CORSOrigins []string

	StorageDriver string
	Postgres      mdrdb.PostgresConfig
	SQLitePath    string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	LockTimeout time.Duration
	LockTTL     time.Duration

	Libraries     []domainagg.Library
	GateOverrides []domainagg.GateOverride
}

// FileConfig is the optional yaml document named by MDR_CONFIG_FILE.
type FileConfig struct {
	Libraries     []domainagg.Library      `yaml:"libraries"`
	GateOverrides []domainagg.GateOverride `yaml:"gate_overrides"`
}

func defaultLibraries() []domainagg.Library {
	return []domainagg.Library{
		{Name: "Sponsor", IsEditable: true},
		{Name: "CDISC", IsEditable: false},
	}
}

func LoadConfig() (Config, error) {
	cfg := Config{
		LogMode:       envutil.String("LOG_MODE", "development"),
		HTTPAddr:      envutil.String("HTTP_ADDR", ":8080"),
		MetricsAddr:   envutil.String("METRICS_ADDR", ""),
		ServiceName:   envutil.String("OTEL_SERVICE_NAME", "clinical-mdr"),
		CORSOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		StorageDriver: strings.ToLower(envutil.String("STORAGE_DRIVER", StorageMemory)),
		Postgres: mdrdb.PostgresConfig{
			Host:     envutil.String("POSTGRES_HOST", "localhost"),
			Port:     envutil.String("POSTGRES_PORT", "5432"),
			User:     envutil.String("POSTGRES_USER", "postgres"),
			Password: envutil.String("POSTGRES_PASSWORD", ""),
			Name:     envutil.String("POSTGRES_NAME", "mdr"),
			SSLMode:  envutil.String("POSTGRES_SSLMODE", "disable"),
		},
		SQLitePath:    envutil.String("SQLITE_PATH", "mdr.db"),
		Neo4jURI:      envutil.String("NEO4J_URI", ""),
		Neo4jUser:     envutil.String("NEO4J_USER", "neo4j"),
		Neo4jPassword: envutil.String("NEO4J_PASSWORD", ""),
		Neo4jDatabase: envutil.String("NEO4J_DATABASE", ""),
		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		RedisChannel:  envutil.String("REDIS_CHANNEL", "mdr.lifecycle"),
		LockTimeout:   envutil.Millis("LOCK_TIMEOUT_MS", 5*time.Second),
		LockTTL:       envutil.Millis("LOCK_TTL_MS", 30*time.Second),
		Libraries:     defaultLibraries(),
	}

	if path := strings.TrimSpace(os.Getenv("MDR_CONFIG_FILE")); path != "" {
		fc, err := ReadFileConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg.apply(fc)
	}

	switch cfg.StorageDriver {
	case StorageMemory, StoragePostgres, StorageSQLite, StorageNeo4j:
	default:
		return Config{}, &StorageBootstrapError{
			Code:   StorageBootstrapErrorInvalidDriver,
			Driver: cfg.StorageDriver,
			Cause:  fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver),
		}
	}
	return cfg, nil
}

func ReadFileConfig(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for i, lib := range fc.Libraries {
		if strings.TrimSpace(lib.Name) == "" {
			return FileConfig{}, fmt.Errorf("config file %s: library %d has no name", path, i)
		}
	}
	return fc, nil
}

// apply replaces the default libraries when the file lists any; overrides are appended.
func (c *Config) apply(fc FileConfig) {
	if len(fc.Libraries) > 0 {
		c.Libraries = fc.Libraries
	}
	c.GateOverrides = append(c.GateOverrides, fc.GateOverrides...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
