// Package gamedata loads the per-platform signature, offset and patch
// tables shipped next to the host and serves lookups from them, falling
// back to the game data kept by the native side.
package gamedata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/tailscale/hujson"
	"go.uber.org/multierr"
)

// File names inside a game data directory.
const (
	SignaturesFile = "signatures.jsonc"
	OffsetsFile    = "offsets.jsonc"
	PatchesFile    = "patches.jsonc"
)

// Platform selects which value of an entry is used.
type Platform string

const (
	Windows Platform = "windows"
	Linux   Platform = "linux"
)

// CurrentPlatform returns the platform the host runs on.
func CurrentPlatform() Platform {
	if runtime.GOOS == "windows" {
		return Windows
	}
	return Linux
}

// Signature is a byte pattern searched in a game library.
type Signature struct {
	Lib     string `json:"lib"`
	Windows string `json:"windows"`
	Linux   string `json:"linux"`
}

// For returns the pattern for p.
func (s Signature) For(p Platform) string {
	if p == Windows {
		return s.Windows
	}
	return s.Linux
}

// Offset is a platform dependent integer.
type Offset struct {
	Windows int `json:"windows"`
	Linux   int `json:"linux"`
}

// For returns the offset for p.
func (o Offset) For(p Platform) int {
	if p == Windows {
		return o.Windows
	}
	return o.Linux
}

// Patch overwrites the bytes at a named signature.
type Patch struct {
	Signature string `json:"signature"`
	Windows   string `json:"windows"`
	Linux     string `json:"linux"`
}

// For returns the hex byte string for p.
func (p Patch) For(pl Platform) string {
	if pl == Windows {
		return p.Windows
	}
	return p.Linux
}

// Set is the parsed content of a game data directory.
type Set struct {
	Signatures map[string]Signature
	Offsets    map[string]Offset
	Patches    map[string]Patch
}

// Names returns the sorted keys of m.
func Names[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadDir parses the game data files in dir. Missing files are skipped.
// Entries that fail to parse are left out of the Set and reported in the
// returned error, combined with go.uber.org/multierr, so a non-nil error
// still comes with every entry that could be read.
func ReadDir(dir string) (*Set, error) {
	set := &Set{}
	var err error
	set.Signatures, err = readEntries[Signature](filepath.Join(dir, SignaturesFile), validSignature, err)
	set.Offsets, err = readEntries[Offset](filepath.Join(dir, OffsetsFile), nil, err)
	set.Patches, err = readEntries[Patch](filepath.Join(dir, PatchesFile), validPatch, err)
	return set, err
}

func validSignature(s Signature) error {
	if s.Lib == "" {
		return errors.New("missing lib")
	}
	return nil
}

func validPatch(p Patch) error {
	if p.Signature == "" {
		return errors.New("missing signature")
	}
	if _, err := ParseBytes(p.Windows); err != nil {
		return fmt.Errorf("windows: %w", err)
	}
	if _, err := ParseBytes(p.Linux); err != nil {
		return fmt.Errorf("linux: %w", err)
	}
	return nil
}

func readEntries[T any](path string, validate func(T) error, errs error) (map[string]T, error) {
	entries := map[string]T{}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entries, errs
		}
		return entries, multierr.Append(errs, err)
	}
	b, err = hujson.Standardize(b)
	if err != nil {
		return entries, multierr.Append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	var raw map[string]json.RawMessage
	if err = json.Unmarshal(b, &raw); err != nil {
		return entries, multierr.Append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	for _, name := range Names(raw) {
		var v T
		err = json.Unmarshal(raw[name], &v)
		if err == nil && validate != nil {
			err = validate(v)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: entry %q: %w", filepath.Base(path), name, err))
			continue
		}
		entries[name] = v
	}
	return entries, errs
}
