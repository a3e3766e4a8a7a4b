/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

// Config is the complete migrator configuration
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Schema    SchemaConfig    `mapstructure:"schema"`
	Migration MigrationConfig `mapstructure:"migration"`
	Relay     RelayConfig     `mapstructure:"relay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Colors bool   `mapstructure:"colors"`
}

type SchemaConfig struct {
	// Registry is the target registry
	Registry RegistryConfig `mapstructure:"registry"`
	Subject  SubjectConfig  `mapstructure:"subject"`
	Topics   []TopicMapping `mapstructure:"topics"`
	Source   SourceConfig   `mapstructure:"source"`
}

type SubjectConfig struct {
	Strategy string `mapstructure:"strategy"`
}

// TopicMapping maps a topic to a directory of *.avsc files
type TopicMapping struct {
	Name      string `mapstructure:"name"`
	Directory string `mapstructure:"directory"`
	// Kind is either `value` (default) or `key`
	Kind string `mapstructure:"kind"`
}

// RegistryConfig holds the connection settings of a schema registry
type RegistryConfig struct {
	URL          string        `mapstructure:"url"`
	Group        string        `mapstructure:"group"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max-retries"`
	RetryWait    time.Duration `mapstructure:"retry-wait"`
	RetryMaxWait time.Duration `mapstructure:"retry-max-wait"`
	Basic        BasicConfig   `mapstructure:"basic"`
	Bearer       BearerConfig  `mapstructure:"bearer"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

type BasicConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type BearerConfig struct {
	Token             string `mapstructure:"token"`
	IssuerEndpointURL string `mapstructure:"issuer-endpoint-url"`
	ClientID          string `mapstructure:"client-id"`
	ClientSecret      string `mapstructure:"client-secret"`
	Scope             string `mapstructure:"scope"`
	LogicalCluster    string `mapstructure:"logical-cluster"`
	IdentityPoolID    string `mapstructure:"identity-pool-id"`
}

type TLSConfig struct {
	CaLocation         string `mapstructure:"ca-location"`
	CertLocation       string `mapstructure:"cert-location"`
	KeyLocation        string `mapstructure:"key-location"`
	InsecureSkipVerify bool   `mapstructure:"insecure-skip-verify"`
}

// SourceConfig configures the registry and storage topic sources
type SourceConfig struct {
	Registry      RegistryConfig `mapstructure:"registry"`
	SubjectFilter string         `mapstructure:"subject-filter"`
	Storage       StorageConfig  `mapstructure:"storage"`
}

type StorageConfig struct {
	Brokers     string        `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	IdleTimeout time.Duration `mapstructure:"idle-timeout"`
}

type MigrationConfig struct {
	DryRun            bool          `mapstructure:"dry-run"`
	FailOnError       bool          `mapstructure:"fail-on-error"`
	CopyCompatibility bool          `mapstructure:"copy-compatibility"`
	WatchInterval     time.Duration `mapstructure:"watch-interval"`
	IDMap             string        `mapstructure:"id-map"`
	Workers           int           `mapstructure:"workers"`
}

type RelayConfig struct {
	Brokers       string            `mapstructure:"brokers"`
	TargetBrokers string            `mapstructure:"target-brokers"`
	Group         string            `mapstructure:"group"`
	Topics        []RelayTopic      `mapstructure:"topics"`
	Validate      bool              `mapstructure:"validate"`
	Headers       map[string]string `mapstructure:"headers"`
}

// RelayTopic maps a source topic to a target topic, an empty target keeps the source name
type RelayTopic struct {
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`
}

var registryDefaults = map[string]interface{}{
	`url`:                        ``,
	`group`:                      ``,
	`timeout`:                    `30s`,
	`max-retries`:                3,
	`retry-wait`:                 `100ms`,
	`retry-max-wait`:             `5s`,
	`basic.username`:             ``,
	`basic.password`:             ``,
	`bearer.token`:               ``,
	`bearer.issuer-endpoint-url`: ``,
	`bearer.client-id`:           ``,
	`bearer.client-secret`:       ``,
	`bearer.scope`:               ``,
	`bearer.logical-cluster`:     ``,
	`bearer.identity-pool-id`:    ``,
	`tls.ca-location`:            ``,
	`tls.cert-location`:          ``,
	`tls.key-location`:           ``,
	`tls.insecure-skip-verify`:   false,
}

var defaults = map[string]interface{}{
	`log.level`:                          `INFO`,
	`log.colors`:                         true,
	`schema.subject.strategy`:            StrategyTopicRecordName,
	`schema.source.subject-filter`:       ``,
	`schema.source.storage.brokers`:      ``,
	`schema.source.storage.topic`:        `_schemas`,
	`schema.source.storage.idle-timeout`: `10s`,
	`migration.dry-run`:                  false,
	`migration.fail-on-error`:            false,
	`migration.copy-compatibility`:       true,
	`migration.watch-interval`:           `0s`,
	`migration.id-map`:                   ``,
	`migration.workers`:                  4,
	`relay.brokers`:                      ``,
	`relay.target-brokers`:               ``,
	`relay.group`:                        `schema-migrator-relay`,
	`relay.validate`:                     false,
}

// NewViper returns a viper instance with the migrator defaults and environment bindings.
// Environment variables use the upper-cased key with `.` and `-` replaced by `_`,
// e.g. SCHEMA_REGISTRY_BEARER_CLIENT_SECRET
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for k, val := range registryDefaults {
		v.SetDefault(`schema.registry.`+k, val)
		v.SetDefault(`schema.source.registry.`+k, val)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`, `-`, `_`))
	v.AutomaticEnv()

	return v
}

// LoadConfig reads the YAML file at path (optional) and the environment into a Config
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	if path != `` {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot read config %s`, path))
		}
	}

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.WithPrevious(err, `cannot decode config`)
	}

	return conf, nil
}

// Validate checks the settings shared by every command
func (c *Config) Validate() error {
	if err := c.Schema.Registry.Validate(`schema.registry`); err != nil {
		return err
	}

	if c.Schema.Source.SubjectFilter != `` {
		if _, err := regexp.Compile(c.Schema.Source.SubjectFilter); err != nil {
			return errors.WithPrevious(err, `invalid schema.source.subject-filter`)
		}
	}

	if c.Migration.Workers < 1 {
		return errors.New(`migration.workers must be positive`)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// Validate checks a registry configuration, prefix names the config section in errors
func (c RegistryConfig) Validate(prefix string) error {
	if c.URL == `` {
		return errors.New(fmt.Sprintf(`%s.url is required`, prefix))
	}

	bearer := c.Bearer.Token != `` || c.Bearer.IssuerEndpointURL != ``
	if c.Basic.Username != `` && bearer {
		return errors.New(fmt.Sprintf(`only one of %s.basic or %s.bearer may be configured`, prefix, prefix))
	}

	if c.Bearer.Token != `` && c.Bearer.IssuerEndpointURL != `` {
		return errors.New(fmt.Sprintf(`only one of %s.bearer.token or %s.bearer.issuer-endpoint-url may be configured`, prefix, prefix))
	}

	if c.Bearer.IssuerEndpointURL != `` && (c.Bearer.ClientID == `` || c.Bearer.ClientSecret == ``) {
		return errors.New(fmt.Sprintf(`%s.bearer.client-id and %s.bearer.client-secret are required with an issuer endpoint`, prefix, prefix))
	}

	if c.TLS.CertLocation != `` && c.TLS.KeyLocation == `` {
		return errors.New(fmt.Sprintf(`%s.tls.key-location needs to be provided with %s.tls.cert-location`, prefix, prefix))
	}

	return nil
}

// ParseLevel maps a level name to a log.Level
func ParseLevel(level string) (log.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case `TRACE`:
		return log.TRACE, nil
	case `DEBUG`:
		return log.DEBUG, nil
	case `INFO`, ``:
		return log.INFO, nil
	case `WARN`, `WARNING`:
		return log.WARN, nil
	case `ERROR`:
		return log.ERROR, nil
	case `FATAL`:
		return log.FATAL, nil
	}

	return log.INFO, errors.New(fmt.Sprintf(`unknown log level %s`, level))
}

// NewLogger builds the root logger from the LogConfig
func NewLogger(conf LogConfig) (log.Logger, error) {
	level, err := ParseLevel(conf.Level)
	if err != nil {
		return nil, err
	}

	return log.NewLog().Log(log.WithLevel(level), log.WithColors(conf.Colors)), nil
}
