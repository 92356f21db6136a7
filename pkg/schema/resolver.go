// Package schema gives typed access to fields of native game objects
// whose offsets come from the game's schema system.
package schema

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// Resolver maps schema field hashes to byte offsets.
//
// Resolved offsets are cached for the lifetime of the process. While
// the server follows the hosting guidelines, deny-listed fields fail
// with errs.ErrPolicyViolation before anything is looked up.
type Resolver struct {
	table            native.SchemaTable
	followGuidelines bool
	log              logr.Logger

	mu      sync.RWMutex
	offsets map[uint64]uintptr
	group   singleflight.Group
}

// NewResolver returns a Resolver backed by table. followGuidelines is
// fixed for the lifetime of the Resolver.
func NewResolver(table native.SchemaTable, followGuidelines bool, log logr.Logger) *Resolver {
	return &Resolver{
		table:            table,
		followGuidelines: followGuidelines,
		log:              log,
		offsets:          map[uint64]uintptr{},
	}
}

// FollowsGuidelines reports whether deny-listed fields are blocked.
func (r *Resolver) FollowsGuidelines() bool { return r.followGuidelines }

func (r *Resolver) check(hash uint64) error {
	if !r.followGuidelines {
		return nil
	}
	if name, denied := Denied(hash); denied {
		r.log.V(1).Info("blocked access to schema field", "field", name, "hash", fmt.Sprintf("0x%016X", hash))
		return fmt.Errorf("%w: cannot get or set 0x%016X while followServerGuidelines is enabled, disable the option to use this field",
			errs.ErrPolicyViolation, hash)
	}
	return nil
}

// Offset returns the byte offset of the field identified by hash.
func (r *Resolver) Offset(hash uint64) (uintptr, error) {
	if err := r.check(hash); err != nil {
		return 0, err
	}

	r.mu.RLock()
	off, ok := r.offsets[hash]
	r.mu.RUnlock()
	if ok {
		return off, nil
	}

	v, err, _ := r.group.Do(strconv.FormatUint(hash, 16), func() (any, error) {
		raw, ok := r.table.SchemaOffset(hash)
		if !ok || raw < 0 {
			return nil, fmt.Errorf("%w: schema field 0x%016X not found", errs.ErrResolution, hash)
		}
		off := uintptr(raw)

		r.mu.Lock()
		defer r.mu.Unlock()
		if cached, ok := r.offsets[hash]; ok {
			return cached, nil
		}
		r.offsets[hash] = off
		return off, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uintptr), nil
}

// MarkChanged notifies the game that the field identified by hash
// changed on the object at h, so it is networked to clients.
func (r *Resolver) MarkChanged(h native.Handle, hash uint64) error {
	if err := r.check(hash); err != nil {
		return err
	}
	r.table.SetStateChanged(h, hash)
	return nil
}
