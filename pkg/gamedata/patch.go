package gamedata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// wildcardByte replaces "?" tokens in patch strings.
const wildcardByte = 0x2A

// ParseBytes parses a space separated hex byte string like "90 90 EB".
func ParseBytes(s string) ([]byte, error) {
	fields := strings.Fields(s)
	b := make([]byte, 0, len(fields))
	for _, f := range fields {
		if f == "?" || f == "??" {
			b = append(b, wildcardByte)
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q", f)
		}
		b = append(b, byte(v))
	}
	return b, nil
}

// ApplyPatch writes the named patch. Patches from the loaded tables
// are written by the Catalog, saving the bytes they replace; others
// are applied by the native side.
func (c *Catalog) ApplyPatch(name string) error {
	p, ok := c.patch(name)
	if !ok {
		if c.fallback == nil || !c.fallback.HasPatch(name) {
			return fmt.Errorf("%w: patch %q", errs.ErrResolution, name)
		}
		return c.fallback.ApplyPatch(name)
	}

	addr, ok := c.Signature(p.Signature)
	if !ok {
		return fmt.Errorf("%w: cannot apply patch %q, signature %q not found",
			errs.ErrResolution, name, p.Signature)
	}
	b, err := ParseBytes(p.For(c.platform))
	if err != nil {
		return fmt.Errorf("%w: patch %q: %w", errs.ErrArgument, name, err)
	}
	if len(b) == 0 {
		return nil
	}

	c.patchMu.Lock()
	defer c.patchMu.Unlock()
	if err = c.protector.MakeWritable(addr, len(b)); err != nil {
		return fmt.Errorf("patch %q: %w", name, err)
	}
	if _, applied := c.applied[name]; !applied {
		c.applied[name] = appliedPatch{addr: addr, orig: native.Bytes(addr, len(b))}
	}
	native.WriteBytes(addr, b)
	c.log.V(1).Info("applied patch", "name", name, "address", native.Handle(addr), "size", len(b))
	return nil
}

// RevertPatch restores the bytes replaced by ApplyPatch.
func (c *Catalog) RevertPatch(name string) error {
	if _, ok := c.patch(name); !ok {
		if c.fallback == nil || !c.fallback.HasPatch(name) {
			return fmt.Errorf("%w: patch %q", errs.ErrResolution, name)
		}
		return c.fallback.RevertPatch(name)
	}

	c.patchMu.Lock()
	defer c.patchMu.Unlock()
	ap, ok := c.applied[name]
	if !ok {
		return fmt.Errorf("%w: patch %q is not applied", errs.ErrArgument, name)
	}
	if err := c.protector.MakeWritable(ap.addr, len(ap.orig)); err != nil {
		return fmt.Errorf("patch %q: %w", name, err)
	}
	native.WriteBytes(ap.addr, ap.orig)
	delete(c.applied, name)
	c.log.V(1).Info("reverted patch", "name", name)
	return nil
}

// Applied reports whether the loaded patch name is currently written.
func (c *Catalog) Applied(name string) bool {
	c.patchMu.Lock()
	defer c.patchMu.Unlock()
	_, ok := c.applied[name]
	return ok
}

type appliedPatch struct {
	addr uintptr
	orig []byte
}
