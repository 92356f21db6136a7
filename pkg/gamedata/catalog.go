package gamedata

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// Options configure Load.
type Options struct {
	// Dir holds the game data files.
	Dir string
	// Platform defaults to CurrentPlatform.
	Platform Platform
	// Scanner resolves signatures while loading.
	Scanner native.Scanner
	// Protector makes patched code writable.
	Protector native.Protector
	// Fallback, if set, answers lookups missing from the loaded tables.
	Fallback native.GameData
	Logger   logr.Logger
}

// Catalog serves named signatures, offsets and patches.
// Loaded tables are read-only after Load and take precedence over
// the fallback.
type Catalog struct {
	platform  Platform
	protector native.Protector
	fallback  native.GameData
	log       logr.Logger

	signatures map[string]uintptr
	offsets    map[string]int
	patches    map[string]Patch

	patchMu sync.Mutex
	applied map[string]appliedPatch
}

// Load reads the game data in opts.Dir and resolves its signatures.
// Broken or unresolvable entries are logged and skipped.
func Load(opts Options) (*Catalog, error) {
	if opts.Scanner == nil || opts.Protector == nil {
		return nil, fmt.Errorf("%w: game data needs a scanner and a protector", errs.ErrArgument)
	}
	if opts.Platform == "" {
		opts.Platform = CurrentPlatform()
	}
	c := &Catalog{
		platform:   opts.Platform,
		protector:  opts.Protector,
		fallback:   opts.Fallback,
		log:        opts.Logger.WithName("gamedata"),
		signatures: map[string]uintptr{},
		offsets:    map[string]int{},
		patches:    map[string]Patch{},
		applied:    map[string]appliedPatch{},
	}

	set, err := ReadDir(opts.Dir)
	for _, e := range multierr.Errors(err) {
		c.log.Error(e, "Skipping game data entry", "dir", opts.Dir)
	}

	for _, name := range Names(set.Signatures) {
		sig := set.Signatures[name]
		addr := opts.Scanner.AddressBySignature(sig.Lib, sig.For(c.platform))
		if addr == 0 {
			c.log.Error(errs.ErrResolution, "Failed to load signature", "name", name, "lib", sig.Lib)
			continue
		}
		c.signatures[name] = addr
	}
	for name, off := range set.Offsets {
		c.offsets[name] = off.For(c.platform)
	}
	for name, p := range set.Patches {
		c.patches[name] = p
	}

	c.log.Info("Loaded game data", "platform", c.platform,
		"signatures", len(c.signatures), "offsets", len(c.offsets), "patches", len(c.patches))
	return c, nil
}

// Platform returns the platform entries were selected for.
func (c *Catalog) Platform() Platform { return c.platform }

// HasSignature reports whether Signature would find name.
func (c *Catalog) HasSignature(name string) bool {
	if _, ok := c.signatures[name]; ok {
		return true
	}
	return c.fallback != nil && c.fallback.HasSignature(name)
}

// Signature returns the address of the named signature.
func (c *Catalog) Signature(name string) (uintptr, bool) {
	if addr, ok := c.signatures[name]; ok {
		return addr, true
	}
	if c.fallback == nil {
		return 0, false
	}
	addr := c.fallback.Signature(name)
	return addr, addr != 0
}

// HasOffset reports whether Offset would find name.
func (c *Catalog) HasOffset(name string) bool {
	if _, ok := c.offsets[name]; ok {
		return true
	}
	return c.fallback != nil && c.fallback.HasOffset(name)
}

// Offset returns the named offset. Native offsets of zero count as
// missing.
func (c *Catalog) Offset(name string) (int, bool) {
	if off, ok := c.offsets[name]; ok {
		return off, true
	}
	if c.fallback == nil {
		return 0, false
	}
	off := c.fallback.Offset(name)
	return off, off != 0
}

// HasPatch reports whether ApplyPatch knows name.
func (c *Catalog) HasPatch(name string) bool {
	if _, ok := c.patches[name]; ok {
		return true
	}
	return c.fallback != nil && c.fallback.HasPatch(name)
}

func (c *Catalog) patch(name string) (Patch, bool) {
	p, ok := c.patches[name]
	return p, ok
}
