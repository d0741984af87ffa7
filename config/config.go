// Package config provides configuration management for vpn-pool.
// Settings come from a YAML file and may be overridden by VPNPOOL_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-pool/common"
)

// Config represents the application configuration.
type Config struct {
	// ProfilesDir is scanned once at startup for profile files.
	ProfilesDir string `yaml:"profiles_dir" envconfig:"PROFILES_DIR"`
	// ProfileExt selects which directory entries are profiles.
	ProfileExt string `yaml:"profile_ext" envconfig:"PROFILE_EXT"`
	// AuthFile is the credentials file name inside ProfilesDir.
	AuthFile string `yaml:"auth_file" envconfig:"AUTH_FILE"`
	// Credentials selects the credentials source: "file" or "keyring".
	Credentials string `yaml:"credentials" envconfig:"CREDENTIALS"`
	// KeyringAccount names the keyring entry holding username and password.
	KeyringAccount string `yaml:"keyring_account,omitempty" envconfig:"KEYRING_ACCOUNT"`

	// Binary is the VPN client executable.
	Binary string `yaml:"binary" envconfig:"BINARY"`
	// Elevation is prefixed to the client command line, e.g. ["sudo"].
	Elevation []string `yaml:"elevation" envconfig:"ELEVATION"`
	// ClientLog receives the client's output, truncated on every attempt.
	ClientLog string `yaml:"client_log" envconfig:"CLIENT_LOG"`
	// Detector selects how an established tunnel is recognised: "log" or "management".
	Detector string `yaml:"detector" envconfig:"DETECTOR"`
	// ManagementAddr is the host:port of the client's management interface.
	ManagementAddr string `yaml:"management_addr,omitempty" envconfig:"MANAGEMENT_ADDR"`

	SettleDelay     time.Duration `yaml:"settle_delay" envconfig:"SETTLE_DELAY"`
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	MonitorInterval time.Duration `yaml:"monitor_interval" envconfig:"MONITOR_INTERVAL"`
	// ConnectTimeout bounds one connect attempt; zero waits indefinitely.
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	TerminateGrace time.Duration `yaml:"terminate_grace" envconfig:"TERMINATE_GRACE"`

	// LogLevel is one of debug, info, warn, error, critical.
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogDir    string `yaml:"log_dir,omitempty" envconfig:"LOG_DIR"`
	LogToFile bool   `yaml:"log_to_file" envconfig:"LOG_TO_FILE"`

	// HistoryDB is the sqlite event history; empty disables history.
	HistoryDB string `yaml:"history_db" envconfig:"HISTORY_DB"`
	// Notifications enables desktop notifications over D-Bus.
	Notifications bool `yaml:"notifications" envconfig:"NOTIFICATIONS"`
	// Listen is the control API address used by "serve".
	Listen string `yaml:"listen" envconfig:"LISTEN"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	historyDB := ""
	if dataDir, err := common.GetDataDir(); err == nil {
		historyDB = filepath.Join(dataDir, common.HistoryFileName)
	}

	return &Config{
		ProfilesDir:     common.DefaultProfilesDir,
		ProfileExt:      common.DefaultProfileExt,
		AuthFile:        common.DefaultAuthFileName,
		Credentials:     common.CredentialsFile,
		Binary:          common.DefaultBinary,
		Elevation:       []string{common.DefaultElevation},
		ClientLog:       common.DefaultClientLog,
		Detector:        common.DetectorLog,
		ManagementAddr:  common.DefaultManagementAddr,
		SettleDelay:     common.SettleDelay,
		PollInterval:    common.PollInterval,
		MonitorInterval: common.MonitorInterval,
		ConnectTimeout:  common.ConnectionTimeout,
		TerminateGrace:  common.TerminateGrace,
		LogLevel:        "info",
		LogToFile:       true,
		HistoryDB:       historyDB,
		Listen:          "127.0.0.1:7580",
	}
}

// DefaultPath returns the default configuration file location.
func DefaultPath() (string, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, common.ConfigFileName), nil
}

// Load reads the configuration file at path, applies environment
// overrides and validates the result. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.readFile(common.ExpandHome(path)); err != nil {
			return nil, common.WrapError(err, common.ErrConfigLoad.Error())
		}
	}

	if err := envconfig.Process(common.EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", common.ErrConfigLoad, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	if err := decoder.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("error parsing configuration: %w", err)
	}
	return nil
}

// validate verifies that configuration values are usable.
func (c *Config) validate() error {
	c.ProfilesDir = common.ExpandHome(c.ProfilesDir)
	c.LogDir = common.ExpandHome(c.LogDir)
	c.HistoryDB = common.ExpandHome(c.HistoryDB)

	if c.ProfilesDir == "" {
		return errors.New("profiles_dir is required")
	}
	if c.ProfileExt == "" {
		c.ProfileExt = common.DefaultProfileExt
	}
	if !strings.HasPrefix(c.ProfileExt, ".") {
		c.ProfileExt = "." + c.ProfileExt
	}
	if c.Binary == "" {
		return errors.New("binary is required")
	}

	switch c.Credentials {
	case common.CredentialsFile:
		if c.AuthFile == "" {
			return errors.New("auth_file is required for file credentials")
		}
	case common.CredentialsKeyring:
		if c.KeyringAccount == "" {
			return errors.New("keyring_account is required for keyring credentials")
		}
	default:
		return fmt.Errorf("unknown credentials source %q", c.Credentials)
	}

	switch c.Detector {
	case common.DetectorLog:
	case common.DetectorManagement:
		if c.ManagementAddr == "" {
			return errors.New("management_addr is required for the management detector")
		}
	default:
		return fmt.Errorf("unknown detector %q", c.Detector)
	}

	if c.SettleDelay < 0 || c.ConnectTimeout < 0 || c.TerminateGrace < 0 {
		return errors.New("durations must not be negative")
	}
	if c.PollInterval <= 0 || c.MonitorInterval <= 0 {
		return errors.New("poll_interval and monitor_interval must be positive")
	}

	if _, err := common.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	path = common.ExpandHome(path)
	if err := common.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// AuthPath returns the credentials file path used by the file source.
func (c *Config) AuthPath() string {
	return filepath.Join(c.ProfilesDir, c.AuthFile)
}
