// Package config loads the friends configuration from a TOML file, the
// environment and command line flags.
package config

import (
	"bytes"
	_ "embed" // used to embed the default application config file.
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

//go:embed friends.toml
var defaultConfigFile []byte

const appName = "friends"

type Config struct {
	File string

	Username  string
	Anonymous bool

	SwarmListen string
	Peers       []string
	MaxPeers    int

	DBDriver string
	DBDSN    string

	ViewListen      string
	AllowedOrigins  []string
	RefreshInterval time.Duration

	Notifications bool

	IdentityFile string
}

// Load reads file into v, writing the embedded default config there first if
// it does not exist. Environment variables prefixed with FRIENDS_ override the
// file, and a .env file in the working directory is honored.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file == "" {
		return nil, errors.New("no config file given")
	}
	// A missing .env is fine
	_ = godotenv.Load()

	v.SetConfigType("toml")
	v.SetEnvPrefix(appName)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(file)

	if _, err := os.Stat(file); err != nil {
		log.Printf("config file not found (%s)", file)
		if err := v.ReadConfig(bytes.NewBuffer(defaultConfigFile)); err != nil {
			return nil, fmt.Errorf("error reading default config: %w", err)
		}
		log.Printf("writing new config file (%s)", file)
		if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
			return nil, fmt.Errorf("error creating config dir: %w", err)
		}
		if err := os.WriteFile(file, defaultConfigFile, 0o600); err != nil {
			return nil, fmt.Errorf("error writing default config: %w", err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := &Config{
		File:            file,
		Username:        strings.TrimSpace(v.GetString("user.name")),
		Anonymous:       v.GetBool("user.anonymous"),
		SwarmListen:     v.GetString("swarm.listen"),
		Peers:           v.GetStringSlice("swarm.peers"),
		MaxPeers:        v.GetInt("swarm.max-peers"),
		DBDriver:        v.GetString("database.driver"),
		DBDSN:           v.GetString("database.dsn"),
		ViewListen:      v.GetString("view.listen"),
		AllowedOrigins:  v.GetStringSlice("view.allowed-origins"),
		RefreshInterval: v.GetDuration("view.refresh-interval"),
		Notifications:   v.GetBool("notifications.enabled"),
	}

	switch cfg.DBDriver {
	case "sqlite3", "sqlite":
		if cfg.DBDSN == "" {
			path, err := xdg.DataFile(filepath.Join(appName, "friends.db"))
			if err != nil {
				return nil, fmt.Errorf("error locating database: %w", err)
			}
			cfg.DBDSN = path
		}
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, errors.New("database.dsn is required for postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}

	path, err := xdg.DataFile(filepath.Join(appName, "identity"))
	if err != nil {
		return nil, fmt.Errorf("error locating identity: %w", err)
	}
	cfg.IdentityFile = path
	return cfg, nil
}

// DisplayName is the name messages are sent under.
func (c *Config) DisplayName(shortID string) string {
	if c.Username == "" || c.Anonymous {
		return "Anonymous (" + shortID + ")"
	}
	return c.Username
}

// Signed reports whether outgoing messages carry the local signature.
func (c *Config) Signed() bool {
	return c.Username != "" && !c.Anonymous
}

// DefaultFile returns friends.toml in the user's config directory, using
// ~/.config on macOS unless XDG_CONFIG_HOME is set.
func DefaultFile() string {
	configHome := xdg.ConfigHome
	if runtime.GOOS == "darwin" && os.Getenv("XDG_CONFIG_HOME") == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, appName, appName+".toml")
}

// PersistUsername rewrites user.name in the config file, keeping every other
// setting.
func PersistUsername(file, username string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	if config == nil {
		config = make(map[string]any)
	}
	user, ok := config["user"].(map[string]any)
	if !ok {
		user = make(map[string]any)
		config["user"] = user
	}
	user["name"] = username

	data, err = toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling error: %w", err)
	}
	return os.WriteFile(file, data, 0o600)
}
