// Package config loads the YAML run configuration: the target database, the
// manifest source, and the optional metadata cache.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig describes the target database connection.
type DatabaseConfig struct {
	Type         string `yaml:"type"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"sslmode"`
	URI          string `yaml:"uri"`
	Path         string `yaml:"path"`
	AuthDatabase string `yaml:"auth_database"`
}

// ManifestSourceConfig describes where manifests are fetched from.
type ManifestSourceConfig struct {
	Type     string `yaml:"type"`
	Dir      string `yaml:"dir"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// CacheConfig describes the optional Redis cache for manifest metadata. The
// ttl field uses time.ParseDuration form, e.g. "5m" or "90s".
type CacheConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type cacheConfigFile struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"`
}

func (c *CacheConfig) UnmarshalYAML(node *yaml.Node) error {
	var file cacheConfigFile
	if err := node.Decode(&file); err != nil {
		return err
	}
	c.Enabled = file.Enabled
	c.Addr = file.Addr
	c.Password = file.Password
	c.DB = file.DB
	c.TTL = 0
	if file.TTL != "" {
		ttl, err := time.ParseDuration(file.TTL)
		if err != nil {
			return fmt.Errorf("failed to parse cache ttl: %w", err)
		}
		c.TTL = ttl
	}
	return nil
}

func (c CacheConfig) MarshalYAML() (any, error) {
	file := cacheConfigFile{
		Enabled:  c.Enabled,
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.TTL > 0 {
		file.TTL = c.TTL.String()
	}
	return file, nil
}

type Config struct {
	Database   DatabaseConfig       `yaml:"database"`
	Manifests  ManifestSourceConfig `yaml:"manifests"`
	Cache      CacheConfig          `yaml:"cache"`
	SchemaFile string               `yaml:"schema_file"`
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.Database.Type = normalizeDatabaseType(config.Database.Type)
	config.Manifests.Type = normalizeSourceType(config.Manifests.Type)

	switch config.Database.Type {
	case "postgres":
		if config.Database.SSLMode == "" {
			config.Database.SSLMode = "disable"
		}
		if config.Database.Port == 0 {
			config.Database.Port = 5432
		}
	case "mysql":
		if config.Database.Port == 0 {
			config.Database.Port = 3306
		}
	case "mongo":
		if config.Database.Port == 0 {
			config.Database.Port = 27017
		}
	}

	return &config, nil
}

// GetConnectionString builds the lib/pq keyword DSN for a postgres target.
func (c *Config) GetConnectionString() string {
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return ""
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.Username,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetMongoURI builds a mongodb:// URI for a document target, preferring the
// explicit uri field when set.
func (c *Config) GetMongoURI() string {
	if c.Database.URI != "" {
		return c.Database.URI
	}

	host := c.Database.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Database.Port
	if port == 0 {
		port = 27017
	}

	var credentials string
	if c.Database.Username != "" {
		credentials = url.QueryEscape(c.Database.Username)
		if c.Database.Password != "" {
			credentials = fmt.Sprintf("%s:%s", credentials, url.QueryEscape(c.Database.Password))
		}
		credentials += "@"
	}

	targetDatabase := strings.TrimSpace(c.Database.Database)
	if targetDatabase != "" {
		targetDatabase = "/" + targetDatabase
	}

	uri := fmt.Sprintf("mongodb://%s%s:%d%s", credentials, host, port, targetDatabase)

	if c.Database.AuthDatabase != "" {
		uri = fmt.Sprintf("%s?authSource=%s", uri, url.QueryEscape(c.Database.AuthDatabase))
	}

	return uri
}

func normalizeDatabaseType(dbType string) string {
	dbType = strings.ToLower(strings.TrimSpace(dbType))
	if dbType == "" {
		return "postgres"
	}

	switch dbType {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mongo", "mongodb", "document":
		return "mongo"
	default:
		return dbType
	}
}

func normalizeSourceType(sourceType string) string {
	sourceType = strings.ToLower(strings.TrimSpace(sourceType))
	if sourceType == "" {
		return "csv"
	}

	switch sourceType {
	case "mongo", "mongodb":
		return "mongo"
	default:
		return sourceType
	}
}
