// Package reload watches configuration files and announces new configs
// on the event bus.
package reload

import (
	"github.com/robinbraemer/event"
)

// ConfigUpdateEvent is fired when a config of type T was reloaded.
type ConfigUpdateEvent[T any] struct {
	// Config is the new config.
	Config *T
	// Path is the file the config was read from.
	Path string
}

var _ event.Event = (*ConfigUpdateEvent[any])(nil)

// Subscribe subscribes handler to updates of configs of type T.
func Subscribe[T any](mgr event.Manager, handler func(*ConfigUpdateEvent[T])) func() {
	return event.Subscribe(mgr, 0, handler)
}

// FireConfigUpdate fires a ConfigUpdateEvent for config.
func FireConfigUpdate[T any](mgr event.Manager, path string, config *T) {
	mgr.Fire(&ConfigUpdateEvent[T]{Config: config, Path: path})
}
