package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/anvilhost/anvil/pkg/internal/reload"
)

// Config is the content of the permissions file.
//
//	permissionGroups:
//	  __default: [chat.*]
//	  admin: [moderator, admin.*]
//	  moderator: [kick]
//	players:
//	  "76561198000000001": [admin]
type Config struct {
	// PermissionGroups maps a group name to its members. Members are
	// permissions or names of other groups.
	PermissionGroups map[string][]string `mapstructure:"permissionGroups" yaml:"permissionGroups" json:"permissionGroups"`
	// Players maps a SteamID64 to the player's grants.
	Players map[string][]string `mapstructure:"players" yaml:"players" json:"players"`
}

// LoadConfig reads a Config from v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error loading permissions config: %w", err)
	}
	return &cfg, nil
}

// ReadConfig reads the permissions file at path. The format is picked
// from the file extension.
func ReadConfig(path string) (*Config, error) {
	// Group and permission names contain dots.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading permissions file %q: %w", path, err)
	}
	return LoadConfig(v)
}

// LoadFile loads the permissions file at path into m.
func (m *Manager) LoadFile(path string) error {
	cfg, err := ReadConfig(path)
	if err != nil {
		return err
	}
	return m.Load(cfg)
}

// Watch reloads m whenever the permissions file at path changes until
// ctx is canceled. A file that fails to load leaves the previous grants
// in place. Every successfully read file is also announced as a
// reload.ConfigUpdateEvent.
func (m *Manager) Watch(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("no permissions file to watch")
	}
	return reload.Watch(ctx, path, func() error {
		cfg, err := ReadConfig(path)
		if err != nil {
			return err
		}
		if err = m.Load(cfg); err != nil {
			return err
		}
		reload.FireConfigUpdate(m.event, path, cfg)
		m.log.Info("Permission config reloaded", "path", path)
		return nil
	})
}
