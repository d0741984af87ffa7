// Package vpn provides VPN connection management functionality.
// This file contains the ProfilePool, the registry of discovered
// connection profiles and their binding state.
package vpn

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yllada/vpn-pool/common"
)

// Profile is a VPN client configuration discovered in the profiles directory.
type Profile struct {
	// ID is the profile's file name, e.g. "a.ovpn".
	ID string `json:"id" yaml:"id"`
	// Path is the absolute or configured path to the profile file.
	Path string `json:"path" yaml:"path"`
	// Bound is true while the profile is in use or being connected.
	Bound bool `json:"bound" yaml:"bound"`
	// LastUsed is the time of the profile's last bind or unbind.
	LastUsed time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// ProfilePool holds the immutable set of discovered profiles together
// with their mutable binding state. It is safe for concurrent use.
type ProfilePool struct {
	mu       sync.Mutex
	dir      string
	profiles map[string]*Profile
	now      func() time.Time
	pick     func(n int) int
}

// NewProfilePool lists dir once and registers every regular entry whose
// name ends in ext. An empty directory yields a valid, empty pool.
func NewProfilePool(dir, ext string) (*ProfilePool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles in %s: %w", dir, err)
	}

	pool := newPool(dir)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		pool.profiles[entry.Name()] = &Profile{
			ID:   entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
		}
	}

	common.LogInfo("Discovered %d profile(s) in %s", len(pool.profiles), dir)
	return pool, nil
}

// NewProfilePoolFromIDs builds a pool from known identifiers without
// touching the filesystem. Paths are joined onto dir.
func NewProfilePoolFromIDs(dir string, ids ...string) *ProfilePool {
	pool := newPool(dir)
	for _, id := range ids {
		pool.profiles[id] = &Profile{ID: id, Path: filepath.Join(dir, id)}
	}
	return pool
}

func newPool(dir string) *ProfilePool {
	return &ProfilePool{
		dir:      dir,
		profiles: make(map[string]*Profile),
		now:      time.Now,
		pick:     rand.IntN,
	}
}

// Dir returns the directory the pool was discovered from.
func (p *ProfilePool) Dir() string {
	return p.dir
}

// List returns a snapshot of every profile, sorted by ID.
func (p *ProfilePool) List() []Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Profile, 0, len(p.profiles))
	for _, profile := range p.profiles {
		out = append(out, *profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of discovered profiles.
func (p *ProfilePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.profiles)
}

// Get returns a copy of the profile with the given ID.
func (p *ProfilePool) Get(id string) (Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	profile, ok := p.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	return *profile, nil
}

// Contains reports whether id was discovered.
func (p *ProfilePool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.profiles[id]
	return ok
}

// MarkBound flags the profile as in use and refreshes LastUsed.
func (p *ProfilePool) MarkBound(id string) error {
	return p.setBound(id, true)
}

// MarkUnbound releases the profile and refreshes LastUsed.
func (p *ProfilePool) MarkUnbound(id string) error {
	return p.setBound(id, false)
}

func (p *ProfilePool) setBound(id string, bound bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	profile, ok := p.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	profile.Bound = bound
	profile.LastUsed = p.now()
	return nil
}

// PickUnbound selects uniformly at random among profiles that are not bound.
func (p *ProfilePool) PickUnbound() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]string, 0, len(p.profiles))
	for id, profile := range p.profiles {
		if !profile.Bound {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		if len(p.profiles) == 0 {
			return "", fmt.Errorf("%w: no profiles discovered", ErrNoAvailableProfile)
		}
		return "", fmt.Errorf("%w: all %d profiles are bound", ErrNoAvailableProfile, len(p.profiles))
	}

	// Map iteration order is random but not uniform; sort before drawing.
	sort.Strings(candidates)
	return candidates[p.pick(len(candidates))], nil
}

// BoundCount returns how many profiles are currently bound.
func (p *ProfilePool) BoundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, profile := range p.profiles {
		if profile.Bound {
			n++
		}
	}
	return n
}
