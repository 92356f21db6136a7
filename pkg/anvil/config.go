package anvil

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"

	"github.com/anvilhost/anvil/pkg/gamedata"
)

// DefaultConfig is a default Config.
var DefaultConfig = Config{
	Debug:                  false,
	FollowServerGuidelines: true,
	GameDataDir:            "resources/gamedata",
	PermissionsFile:        "configs/permissions.yml",
	WatchPermissions:       true,
	CommandTracker: CommandTracker{
		Timeout:        5 * time.Second,
		PollInterval:   200 * time.Millisecond,
		MaxOutputLines: 100,
	},
}

// Config is the root configuration of the host.
type Config struct {
	// Debug enables verbose logging.
	Debug bool `json:"debug" yaml:"debug"`
	// FollowServerGuidelines denies writes to schema fields the game's
	// server guidelines forbid.
	FollowServerGuidelines bool `json:"followServerGuidelines" yaml:"followServerGuidelines"`
	// GameDataDir holds signatures.jsonc, offsets.jsonc and patches.jsonc.
	GameDataDir string `json:"gameDataDir" yaml:"gameDataDir"`
	// Platform overrides the platform game data entries are picked for.
	Platform gamedata.Platform `json:"platform,omitempty" yaml:"platform,omitempty"`
	// PermissionsFile is the permission groups and players file.
	PermissionsFile string `json:"permissionsFile" yaml:"permissionsFile"`
	// WatchPermissions reloads PermissionsFile when it changes.
	WatchPermissions bool `json:"watchPermissions" yaml:"watchPermissions"`
	// See CommandTracker struct.
	CommandTracker CommandTracker `json:"commandTracker" yaml:"commandTracker"`
	// See Errors struct.
	Errors Errors `json:"errors" yaml:"errors"`
}

// CommandTracker configures capturing console command output.
type CommandTracker struct {
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	PollInterval   time.Duration `json:"pollInterval" yaml:"pollInterval"`
	MaxOutputLines int           `json:"maxOutputLines" yaml:"maxOutputLines"`
}

// Errors configures what happens to errors no caller can handle, like
// a failing hook chain rebuild or a panicking plugin callback.
type Errors struct {
	// Fatal panics instead of logging.
	Fatal bool `json:"fatal" yaml:"fatal"`
}

// LoadConfig reads the config file set on v, if any, on top of
// DefaultConfig. A missing config file is not an error.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}
	cfg := DefaultConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return &cfg, nil
}

// Validate validates a Config.
func (c *Config) Validate() (warns []error, errs []error) {
	e := func(m string, args ...any) { errs = append(errs, fmt.Errorf(m, args...)) }
	w := func(m string, args ...any) { warns = append(warns, fmt.Errorf(m, args...)) }
	if c == nil {
		e("config must not be nil")
		return
	}

	if c.GameDataDir == "" {
		w("No gameDataDir set, only native game data is available")
	}
	switch c.Platform {
	case "", gamedata.Windows, gamedata.Linux:
	default:
		e("Unknown platform %q, must be %q or %q", c.Platform, gamedata.Windows, gamedata.Linux)
	}
	if c.PermissionsFile == "" && c.WatchPermissions {
		w("watchPermissions is enabled but no permissionsFile is set")
	}
	if !c.FollowServerGuidelines {
		w("followServerGuidelines is disabled, plugins may write fields the game's guidelines forbid")
	}

	t := c.CommandTracker
	if t.Timeout <= 0 {
		e("commandTracker.timeout must be positive, got %s", t.Timeout)
	}
	if t.PollInterval <= 0 {
		e("commandTracker.pollInterval must be positive, got %s", t.PollInterval)
	} else if t.Timeout > 0 && t.PollInterval > t.Timeout {
		w("commandTracker.pollInterval %s is longer than the timeout %s", t.PollInterval, t.Timeout)
	}
	if t.MaxOutputLines <= 0 {
		e("commandTracker.maxOutputLines must be positive, got %d", t.MaxOutputLines)
	}
	return
}
