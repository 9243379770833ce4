package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Engine types.
const (
	EngineMemory   = "memory"
	EngineBolt     = "bolt"
	EnginePostgres = "postgres"
	EngineDynamoDB = "dynamodb"
	EngineS3       = "s3"
)

// Config is the configuration of the storectl composition root.
//
// It is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Engine     string         `yaml:"engine"`
	NamePrefix string         `yaml:"name_prefix"`
	Bolt       BoltConfig     `yaml:"bolt"`
	Postgres   PostgresConfig `yaml:"postgres"`
	DynamoDB   DynamoDBConfig `yaml:"dynamodb"`
	S3         S3Config       `yaml:"s3"`
}

// BoltConfig contains settings for the BoltDB engine.
type BoltConfig struct {
	Dir string `yaml:"dir"`
}

// PostgresConfig contains settings for the PostgreSQL engine.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// DynamoDBConfig contains settings for the DynamoDB engine.
type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// S3Config contains settings for the S3 engine.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Load loads configuration from the YAML file at path, then applies
// environment variable overrides.
//
// If path is empty only the defaults and environment variables are used.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Engine: EngineBolt,
		Bolt: BoltConfig{
			Dir: "./data",
		},
		DynamoDB: DynamoDBConfig{
			Table: "storekit",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern
// STOREKIT_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"STOREKIT_ENGINE", &cfg.Engine},
		{"STOREKIT_NAME_PREFIX", &cfg.NamePrefix},
		{"STOREKIT_BOLT_DIR", &cfg.Bolt.Dir},
		{"STOREKIT_POSTGRES_DSN", &cfg.Postgres.DSN},
		{"STOREKIT_DYNAMODB_TABLE", &cfg.DynamoDB.Table},
		{"STOREKIT_DYNAMODB_REGION", &cfg.DynamoDB.Region},
		{"STOREKIT_DYNAMODB_ENDPOINT", &cfg.DynamoDB.Endpoint},
		{"STOREKIT_S3_BUCKET", &cfg.S3.Bucket},
		{"STOREKIT_S3_REGION", &cfg.S3.Region},
		{"STOREKIT_S3_ENDPOINT", &cfg.S3.Endpoint},
	}

	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Engine {
	case EngineMemory:
	case EngineBolt:
		if c.Bolt.Dir == "" {
			errs = append(errs, "bolt.dir is required")
		}
	case EnginePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, "postgres.dsn is required")
		}
	case EngineDynamoDB:
		if c.DynamoDB.Table == "" {
			errs = append(errs, "dynamodb.table is required")
		}
	case EngineS3:
		if c.S3.Bucket == "" {
			errs = append(errs, "s3.bucket is required")
		}
	default:
		errs = append(
			errs,
			fmt.Sprintf(
				"engine must be one of %s, %s, %s, %s or %s, not %q",
				EngineMemory,
				EngineBolt,
				EnginePostgres,
				EngineDynamoDB,
				EngineS3,
				c.Engine,
			),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
