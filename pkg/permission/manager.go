// Package permission decides whether a player holds a permission.
//
// Grants come from the permissions config, from temporary grants added
// at runtime and from the DefaultGroup. A granted entry that names a
// group also grants every member of that group, recursively.
package permission

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"github.com/robinbraemer/event"
	g "github.com/zyedidia/generic"
	"github.com/zyedidia/generic/multimap"
	"go.uber.org/atomic"

	permutil "github.com/anvilhost/anvil/pkg/util/permission"
)

// Options configure a Manager.
type Options struct {
	Event  event.Manager
	Logger logr.Logger
}

// Manager answers permission queries. Queries are memoized until the
// next mutation.
type Manager struct {
	event event.Manager
	log   logr.Logger

	mu        sync.Mutex
	players   map[uint64][]string
	groups    map[string][]string
	tempGrant multimap.MultiMap[uint64, string]
	tempGroup multimap.MultiMap[string, string]

	// cache maps cacheKey to bool. Mutations swap in an empty map.
	cache atomic.Pointer[sync.Map]
}

type cacheKey struct {
	player uint64
	perm   string
}

// New returns a Manager without any grants.
func New(opts Options) *Manager {
	if opts.Event == nil {
		opts.Event = event.Nop
	}
	m := &Manager{
		event:     opts.Event,
		log:       opts.Logger.WithName("permission"),
		players:   map[uint64][]string{},
		groups:    map[string][]string{},
		tempGrant: multimap.NewMapSet[uint64, string](g.Less[string]),
		tempGroup: multimap.NewMapSet[string, string](g.Less[string]),
	}
	m.cache.Store(new(sync.Map))
	return m
}

// HasPermission reports whether player holds perm.
func (m *Manager) HasPermission(player uint64, perm string) bool {
	key := cacheKey{player: player, perm: perm}
	if v, ok := m.cache.Load().Load(key); ok {
		return v.(bool)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.evaluate(player, perm)
	m.memoize(key, v)
	return v
}

// evaluate must be called with m.mu held.
func (m *Manager) evaluate(player uint64, perm string) bool {
	grants := m.grants(player)
	if len(grants) == 0 {
		return false
	}
	for _, grant := range grants {
		if Match(grant, perm) {
			return true
		}
	}
	for _, grant := range grants {
		if m.nested(grant, perm, map[string]struct{}{}) {
			return true
		}
	}
	return false
}

func (m *Manager) grants(player uint64) []string {
	grants := append([]string(nil), m.players[player]...)
	grants = append(grants, m.tempGrant.Get(player)...)
	return append(grants, m.members(groupKey(DefaultGroup))...)
}

// nested walks the group named root. visited guards against groups
// that contain themselves.
func (m *Manager) nested(root, perm string, visited map[string]struct{}) bool {
	key := groupKey(root)
	if _, ok := visited[key]; ok {
		m.log.V(1).Info("Permission group loop detected", "group", root)
		return false
	}
	visited[key] = struct{}{}

	if Match(root, perm) {
		return true
	}
	for _, member := range m.members(key) {
		if m.nested(member, perm, visited) {
			return true
		}
	}
	return false
}

func (m *Manager) members(group string) []string {
	members := m.groups[group]
	if temp := m.tempGroup.Get(group); len(temp) != 0 {
		members = append(append([]string(nil), members...), temp...)
	}
	return members
}

// memoize must be called with m.mu held.
func (m *Manager) memoize(key cacheKey, v bool) {
	m.cache.Load().Store(key, v)
}

// invalidate must be called with m.mu held.
func (m *Manager) invalidate() {
	m.cache.Store(new(sync.Map))
}

// AddPermission grants perm to player until removed or the process exits.
func (m *Manager) AddPermission(player uint64, perm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempGrant.Put(player, perm)
	m.invalidate()
}

// RemovePermission removes a grant added with AddPermission.
func (m *Manager) RemovePermission(player uint64, perm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempGrant.Remove(player, perm)
	m.invalidate()
}

// ClearPermissions removes every grant added to player with AddPermission.
func (m *Manager) ClearPermissions(player uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempGrant.RemoveAll(player)
	m.invalidate()
}

// AddSubPermission adds sub to the members of group.
func (m *Manager) AddSubPermission(group, sub string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempGroup.Put(groupKey(group), sub)
	m.invalidate()
}

// RemoveSubPermission removes a member added with AddSubPermission.
func (m *Manager) RemoveSubPermission(group, sub string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempGroup.Remove(groupKey(group), sub)
	m.invalidate()
}

// Load replaces the configured grants with cfg. Temporary grants are
// kept. On error nothing changes.
func (m *Manager) Load(cfg *Config) error {
	players := make(map[uint64][]string, len(cfg.Players))
	for id, grants := range cfg.Players {
		player, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid player id %q: %w", id, err)
		}
		players[player] = append(players[player], grants...)
	}
	groups := make(map[string][]string, len(cfg.PermissionGroups))
	for name, members := range cfg.PermissionGroups {
		key := groupKey(name)
		groups[key] = append(groups[key], members...)
	}

	m.mu.Lock()
	m.players = players
	m.groups = groups
	m.invalidate()
	m.mu.Unlock()

	m.event.Fire(&ReloadedEvent{Players: len(players), Groups: len(groups)})
	return nil
}

// Subject returns player as a permission subject.
func (m *Manager) Subject(player uint64) permutil.Subject {
	return &subject{m: m, player: player}
}

type subject struct {
	m      *Manager
	player uint64
}

func (s *subject) HasPermission(perm string) bool {
	return s.m.HasPermission(s.player, perm)
}

func (s *subject) PermissionValue(perm string) permutil.TriState {
	if s.HasPermission(perm) {
		return permutil.True
	}
	return permutil.Undefined
}

// ReloadedEvent is fired after Load replaced the configured grants.
type ReloadedEvent struct {
	Players int
	Groups  int
}
