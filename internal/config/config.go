package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/willibrandon/eventimport/internal/importer"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the root configuration structure. Params keys are
// case-insensitive in the file and reach templates lowercased, so templates
// must reference them as :lowercase. LockPath is the run lock that keeps runs
// from overlapping.
type Config struct {
	Target           TargetConfig       `mapstructure:"target"`
	Source           SourceConfig       `mapstructure:"source"`
	Schemas          []string           `mapstructure:"schemas"`
	TablespaceRemaps []RemapConfig      `mapstructure:"tablespace_remaps"`
	Filters          map[string]string  `mapstructure:"filters"`
	Tables           []TableConfig      `mapstructure:"tables"`
	PreRun           []string           `mapstructure:"pre_run"`
	PostRun          []string           `mapstructure:"post_run"`
	Params           map[string]string  `mapstructure:"params"`
	DropSchemas      bool               `mapstructure:"drop_schemas"`
	Provisioning     ProvisioningConfig `mapstructure:"provisioning"`
	Copy             CopyConfig         `mapstructure:"copy"`
	EventLookup      EventLookupConfig  `mapstructure:"event_lookup"`
	History          HistoryConfig      `mapstructure:"history"`
	Log              LogConfig          `mapstructure:"log"`
	LockPath         string             `mapstructure:"lock_path"`
}

// TargetConfig holds the connection to the target database.
type TargetConfig struct {
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Service         string            `mapstructure:"service"`
	User            string            `mapstructure:"user"`
	PasswordCommand string            `mapstructure:"password_command"`
	ConnectTimeout  time.Duration     `mapstructure:"connect_timeout"`
	ConnectRetries  int               `mapstructure:"connect_retries"`
	Options         map[string]string `mapstructure:"options"`
}

// SourceConfig names the database link on the target that reaches the source.
type SourceConfig struct {
	Link string `mapstructure:"link"`
}

// RemapConfig moves objects between tablespaces during the metadata import.
type RemapConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// TableConfig is one table to copy. Filter names an entry of the filters
// section; Where is an inline filter. At most one of them is set.
type TableConfig struct {
	Schema string `mapstructure:"schema"`
	Table  string `mapstructure:"table"`
	Filter string `mapstructure:"filter"`
	Where  string `mapstructure:"where"`
}

// ProvisioningConfig tunes the metadata import job.
type ProvisioningConfig struct {
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	FlashbackMetadata bool          `mapstructure:"flashback_metadata"`
}

// CopyConfig tunes the table copy.
type CopyConfig struct {
	ParallelWorkers int  `mapstructure:"parallel_workers"`
	CheckOrder      bool `mapstructure:"check_order"`
}

// EventLookupConfig translates event product codes given on the command line
// into event ids. The query takes the code as its only bind and may use
// :sourcedb_current.
type EventLookupConfig struct {
	Query string `mapstructure:"query"`
	Param string `mapstructure:"param"`
}

// HistoryConfig controls the local run history database.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig controls the log file.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

// DefaultEventLookupQuery reads the event id for one product code from the
// live source.
const DefaultEventLookupQuery = "select to_char(eventid) from jade.event@:sourcedb_current where eventproductcode = :1"

// Load loads configuration from the default locations.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific path.
// If configPath is empty, it searches default locations.
func LoadFromPath(configPath string) (*Config, error) {
	v := viper.New()

	v.AutomaticEnv()
	v.SetEnvPrefix("EVENTIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("eventimport")
		v.SetConfigType("yaml")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "eventimport"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "eventimport"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return configFromViper(v)
}

// configFromViper extracts the config from a viper instance.
func configFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.History.Path = expandPath(cfg.History.Path)
	cfg.Log.Path = expandPath(cfg.Log.Path)
	cfg.LockPath = expandPath(cfg.LockPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults sets default configuration values.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("target.host", "localhost")
	v.SetDefault("target.port", 1521)
	v.SetDefault("target.service", "FREEPDB1")
	v.SetDefault("target.user", "jadebackup")
	v.SetDefault("target.connect_timeout", "10s")
	v.SetDefault("target.connect_retries", 3)

	v.SetDefault("source.link", "JADE_PROD")
	v.SetDefault("drop_schemas", false)

	v.SetDefault("provisioning.job_timeout", "4h")
	v.SetDefault("provisioning.poll_interval", "5s")
	v.SetDefault("provisioning.flashback_metadata", false)

	v.SetDefault("copy.parallel_workers", 1)
	v.SetDefault("copy.check_order", false)

	v.SetDefault("event_lookup.query", DefaultEventLookupQuery)
	v.SetDefault("event_lookup.param", "eventid")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", defaultDataPath("history.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", defaultDataPath("eventimport.log"))

	v.SetDefault("lock_path", defaultDataPath("run.pid"))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Target.Host == "" {
		return fmt.Errorf("%w: target.host cannot be empty", ErrInvalidConfig)
	}
	if c.Target.Port < 1 || c.Target.Port > 65535 {
		return fmt.Errorf("%w: target.port must be between 1 and 65535, got %d", ErrInvalidConfig, c.Target.Port)
	}
	if c.Target.Service == "" {
		return fmt.Errorf("%w: target.service cannot be empty", ErrInvalidConfig)
	}
	if c.Target.User == "" {
		return fmt.Errorf("%w: target.user cannot be empty", ErrInvalidConfig)
	}
	if c.Target.ConnectRetries < 0 || c.Target.ConnectRetries > 10 {
		return fmt.Errorf("%w: target.connect_retries must be between 0 and 10, got %d", ErrInvalidConfig, c.Target.ConnectRetries)
	}
	if c.Source.Link == "" {
		return fmt.Errorf("%w: source.link cannot be empty", ErrInvalidConfig)
	}

	if c.Provisioning.JobTimeout < 0 {
		return fmt.Errorf("%w: provisioning.job_timeout cannot be negative", ErrInvalidConfig)
	}
	if c.Provisioning.PollInterval < 100*time.Millisecond || c.Provisioning.PollInterval > 5*time.Minute {
		return fmt.Errorf("%w: provisioning.poll_interval must be between 100ms and 5m, got %v", ErrInvalidConfig, c.Provisioning.PollInterval)
	}
	if c.Copy.ParallelWorkers < 1 || c.Copy.ParallelWorkers > 16 {
		return fmt.Errorf("%w: copy.parallel_workers must be between 1 and 16, got %d", ErrInvalidConfig, c.Copy.ParallelWorkers)
	}

	for i, r := range c.TablespaceRemaps {
		if r.From == "" || r.To == "" {
			return fmt.Errorf("%w: tablespace_remaps[%d] needs both from and to", ErrInvalidConfig, i)
		}
	}

	for i, t := range c.Tables {
		if t.Schema == "" || t.Table == "" {
			return fmt.Errorf("%w: tables[%d] needs schema and table", ErrInvalidConfig, i)
		}
		if t.Filter != "" && t.Where != "" {
			return fmt.Errorf("%w: tables[%d] (%s.%s) sets both filter and where", ErrInvalidConfig, i, t.Schema, t.Table)
		}
		if t.Filter != "" {
			if _, ok := c.Filters[strings.ToLower(t.Filter)]; !ok {
				return fmt.Errorf("%w: tables[%d] (%s.%s) uses unknown filter %q", ErrInvalidConfig, i, t.Schema, t.Table, t.Filter)
			}
		}
	}

	if c.LockPath == "" {
		return fmt.Errorf("%w: lock_path cannot be empty", ErrInvalidConfig)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("%w: history.path cannot be empty when history is enabled", ErrInvalidConfig)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	validLevel := false
	for _, level := range validLevels {
		if strings.EqualFold(c.Log.Level, level) {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("%w: log.level must be one of: %v, got %s", ErrInvalidConfig, validLevels, c.Log.Level)
	}

	return nil
}

// Plan builds the import plan described by the configuration. Extra params,
// such as event ids resolved from the command line, override configured ones.
func (c *Config) Plan(extra map[string]string) (*importer.Plan, error) {
	plan := importer.NewPlan().ImportFrom(c.Source.Link).SetDropSchemas(c.DropSchemas)

	for _, s := range c.Schemas {
		plan.ImportSchema(strings.ToUpper(s))
	}
	for _, r := range c.TablespaceRemaps {
		plan.RemapTablespace(strings.ToUpper(r.From), strings.ToUpper(r.To))
	}
	for name, value := range c.Params {
		plan.FilterParam(name, value)
	}
	for name, value := range extra {
		plan.FilterParam(name, value)
	}
	for _, t := range c.Tables {
		filter := t.Where
		if t.Filter != "" {
			filter = c.Filters[strings.ToLower(t.Filter)]
		}
		if err := plan.ImportTable(strings.ToUpper(t.Schema), strings.ToUpper(t.Table), strings.TrimSpace(filter)); err != nil {
			return nil, err
		}
	}
	for _, sql := range c.PreRun {
		plan.AddPreRun(sql)
	}
	for _, sql := range c.PostRun {
		plan.AddPostRun(sql)
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// defaultDataPath returns a path under the user's state directory.
func defaultDataPath(name string) string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "eventimport", name)
	}
	return name
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
