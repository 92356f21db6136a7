// Package anvil assembles the plugin host: schema access, hooks,
// memory, game data, permissions and commands on top of a native
// runtime.
package anvil

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-logr/logr"
	"github.com/robinbraemer/event"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/anvilhost/anvil/pkg/command"
	"github.com/anvilhost/anvil/pkg/gamedata"
	"github.com/anvilhost/anvil/pkg/hook"
	"github.com/anvilhost/anvil/pkg/internal/reload"
	"github.com/anvilhost/anvil/pkg/memory"
	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/permission"
	"github.com/anvilhost/anvil/pkg/runtime/process"
	"github.com/anvilhost/anvil/pkg/schema"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// Options are Host options.
type Options struct {
	// Config requires a valid host configuration.
	Config *Config
	// ConfigFile, if set, is watched and reapplied on change.
	ConfigFile string
	// Runtime is the game side of the host.
	Runtime native.Runtime
	// Event is the event manager. Defaults to a new manager.
	Event event.Manager
	// Logger is the logger used for the host and its components.
	Logger logr.Logger
}

// Host owns every subsystem plugins use.
type Host struct {
	cfg        *Config
	configFile string
	log        logr.Logger
	event      event.Manager
	errs       *errs.Handler

	schema      *schema.Accessor
	hooks       *hook.Manager
	memory      *memory.Service
	gameData    *gamedata.Catalog
	permissions *permission.Manager
	commands    *command.Manager
	tracker     *command.Tracker
}

// New returns a new Host. The given Options require a validated Config.
func New(opts Options) (h *Host, err error) {
	if opts.Config == nil {
		return nil, errs.ErrMissingConfig
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("%w: missing native runtime", errs.ErrArgument)
	}
	if opts.Event == nil {
		opts.Event = event.New()
	}
	c := opts.Config
	log := opts.Logger
	rt := opts.Runtime

	h = &Host{
		cfg:        c,
		configFile: opts.ConfigFile,
		log:        log,
		event:      opts.Event,
		errs:       errs.NewHandler(log.WithName("errors"), c.Errors.Fatal),
		commands:   &command.Manager{},
	}

	resolver := schema.NewResolver(rt, c.FollowServerGuidelines, log.WithName("schema"))
	h.schema = schema.NewAccessor(resolver, rt)

	h.hooks, err = hook.New(hook.Options{
		Engine: rt,
		Binder: rt,
		Errors: h.errs,
		Event:  h.event,
		Logger: log.WithName("hooks"),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating hook manager: %w", err)
	}

	h.memory, err = memory.New(memory.Options{
		Hooks:   h.hooks,
		Binder:  rt,
		Scanner: rt,
		Logger:  log.WithName("memory"),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating memory service: %w", err)
	}

	h.gameData, err = gamedata.Load(gamedata.Options{
		Dir:       c.GameDataDir,
		Platform:  c.Platform,
		Scanner:   rt,
		Protector: rt,
		Fallback:  rt,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("error loading game data: %w", err)
	}

	h.permissions = permission.New(permission.Options{Event: h.event, Logger: log})
	if c.PermissionsFile != "" {
		if err = h.permissions.LoadFile(c.PermissionsFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("error loading permissions: %w", err)
			}
			log.Info("No permissions file found, only temporary grants apply", "path", c.PermissionsFile)
		}
	}

	h.tracker = command.NewTracker(command.TrackerOptions{
		Execute:        rt.ExecuteCommand,
		Timeout:        c.CommandTracker.Timeout,
		PollInterval:   c.CommandTracker.PollInterval,
		MaxOutputLines: c.CommandTracker.MaxOutputLines,
		Errors:         h.errs,
		Event:          h.event,
		Logger:         log,
	})

	return h, nil
}

// Config returns the config the Host currently runs with.
func (h *Host) Config() *Config { return h.cfg }

// Event returns the event manager.
func (h *Host) Event() event.Manager { return h.event }

// Errors returns the handler for errors no caller can handle.
func (h *Host) Errors() *errs.Handler { return h.errs }

// Schema returns the schema field accessor.
func (h *Host) Schema() *schema.Accessor { return h.schema }

// Hooks returns the hook manager.
func (h *Host) Hooks() *hook.Manager { return h.hooks }

// Memory returns the memory service.
func (h *Host) Memory() *memory.Service { return h.memory }

// GameData returns the game data catalog.
func (h *Host) GameData() *gamedata.Catalog { return h.gameData }

// Permissions returns the permission manager.
func (h *Host) Permissions() *permission.Manager { return h.permissions }

// Command returns the command manager.
func (h *Host) Command() *command.Manager { return h.commands }

// Tracker returns the console command tracker.
func (h *Host) Tracker() *command.Tracker { return h.tracker }

// Start runs the background processes of the Host until ctx is
// canceled, then releases every hook. It blocks.
func (h *Host) Start(ctx context.Context) error {
	ctx = logr.NewContext(ctx, h.log)
	coll := process.New(process.Options{Logger: h.log.WithName("process")},
		process.RunnableFunc(h.tracker.Run))

	if h.cfg.WatchPermissions && h.cfg.PermissionsFile != "" {
		_ = coll.Add(watching(func(ctx context.Context) error {
			return h.permissions.Watch(ctx, h.cfg.PermissionsFile)
		}))
	}
	if h.configFile != "" {
		unsubscribe := reload.Subscribe(h.event, h.onConfigUpdate)
		defer unsubscribe()
		_ = coll.Add(watching(func(ctx context.Context) error {
			return reload.WatchConfig(ctx, h.event, h.configFile, readConfig)
		}))
	}

	h.log.Info("Host started", "guidelines", h.cfg.FollowServerGuidelines,
		"platform", h.gameData.Platform())
	err := coll.Start(ctx)
	return multierr.Append(err, h.Close())
}

// watching turns a func that starts a watcher into a Runnable that
// lasts until ctx is canceled.
func watching(start func(ctx context.Context) error) process.Runnable {
	return process.RunnableFunc(func(ctx context.Context) error {
		if err := start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
}

func readConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	return LoadConfig(v)
}

// onConfigUpdate applies the settings that can change at runtime.
func (h *Host) onConfigUpdate(e *reload.ConfigUpdateEvent[Config]) {
	if e.Path != h.configFile {
		return
	}
	warns, errList := e.Config.Validate()
	for _, w := range warns {
		h.log.Info("Config validation warn", "warn", w.Error())
	}
	if len(errList) != 0 {
		h.log.Error(errors.Join(errList...), "Ignoring invalid config update")
		return
	}
	if e.Config.FollowServerGuidelines != h.cfg.FollowServerGuidelines {
		h.log.Info("followServerGuidelines changes apply after restart")
	}
	h.errs.SetFatal(e.Config.Errors.Fatal)
}

// Close releases every hook and drops outstanding console commands.
func (h *Host) Close() error {
	h.tracker.Close()
	err := h.memory.Close()
	return multierr.Append(err, h.hooks.Close())
}
