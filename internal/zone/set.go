// SPDX-License-Identifier: MIT
package zone

import (
	"slices"
	"sync"
	"sync/atomic"

	apperrors "circlights/internal/errors"
)

// Resolved is a zone with its LED range for the snapshot's strip length.
type Resolved struct {
	Zone
	StartLED int `json:"start_led"`
	EndLED   int `json:"end_led"`
}

// Snapshot is an immutable view of the zone list. A render cycle holds one
// snapshot for its whole duration so it never observes a partial edit.
type Snapshot struct {
	Version  uint64
	LEDCount int
	Zones    []Resolved
}

// Find returns the resolved zone called name.
func (s *Snapshot) Find(name string) (Resolved, bool) {
	for _, z := range s.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return Resolved{}, false
}

// Set is the live, ordered zone list. Writers serialize on a mutex and
// publish a new snapshot; readers load the current snapshot without locking.
type Set struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewSet validates zones and resolves them against ledCount.
func NewSet(ledCount int, zones []Zone) (*Set, error) {
	s := &Set{}
	norm := make([]Zone, len(zones))
	for i, z := range zones {
		z.Normalize()
		norm[i] = z
	}
	if err := validateAll(norm); err != nil {
		return nil, err
	}
	s.current.Store(resolve(0, ledCount, norm))
	return s, nil
}

// Snapshot returns the current immutable zone view.
func (s *Set) Snapshot() *Snapshot {
	return s.current.Load()
}

// Zones returns a copy of the configured zones in list order.
func (s *Set) Zones() []Zone {
	snap := s.Snapshot()
	out := make([]Zone, len(snap.Zones))
	for i, r := range snap.Zones {
		out[i] = r.Zone
	}
	return out
}

// SetLEDCount re-resolves every zone for a new strip length.
func (s *Set) SetLEDCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current.Load()
	if cur.LEDCount == n {
		return
	}
	s.current.Store(resolve(cur.Version+1, n, zonesOf(cur)))
}

// EditOp enumerates the edits collaborators may request.
type EditOp string

const (
	OpAdd            EditOp = "add"
	OpUpdate         EditOp = "update"
	OpDelete         EditOp = "delete"
	OpEnable         EditOp = "enable"
	OpToggle         EditOp = "toggle"
	OpSetSensitivity EditOp = "sensitivity"
	OpSetEffect      EditOp = "effect"
	OpReplace        EditOp = "replace"
)

// Edit is one zone mutation request.
type Edit struct {
	Op          EditOp     `json:"op"`
	Name        string     `json:"name,omitempty"`
	Zone        *Zone      `json:"zone,omitempty"`
	Zones       []Zone     `json:"zones,omitempty"`
	Enabled     bool       `json:"enabled,omitempty"`
	Sensitivity float64    `json:"sensitivity,omitempty"`
	Effect      EffectType `json:"effect,omitempty"`
}

// Apply performs e atomically. On error the previous zone list is kept.
func (s *Set) Apply(e Edit) error {
	switch e.Op {
	case OpAdd:
		if e.Zone == nil {
			return apperrors.New(apperrors.KindConfigurationInvalid, "zone.add", "zone is required")
		}
		return s.Add(*e.Zone)
	case OpUpdate:
		if e.Zone == nil {
			return apperrors.New(apperrors.KindConfigurationInvalid, "zone.update", "zone is required")
		}
		return s.Update(*e.Zone)
	case OpDelete:
		return s.Delete(e.Name)
	case OpEnable:
		return s.SetEnabled(e.Name, e.Enabled)
	case OpToggle:
		_, err := s.Toggle(e.Name)
		return err
	case OpSetSensitivity:
		return s.SetSensitivity(e.Name, e.Sensitivity)
	case OpSetEffect:
		return s.SetEffect(e.Name, e.Effect)
	case OpReplace:
		return s.Replace(e.Zones)
	}
	return apperrors.Newf(apperrors.KindConfigurationInvalid, "zone.apply", "unknown edit op %q", e.Op)
}

// Add appends z to the end of the list. Names must be unique.
func (s *Set) Add(z Zone) error {
	z.Normalize()
	return s.mutate(func(zs []Zone) ([]Zone, error) {
		if slices.ContainsFunc(zs, func(o Zone) bool { return o.Name == z.Name }) {
			return nil, apperrors.Newf(apperrors.KindConfigurationInvalid, "zone.add", "zone %q already exists", z.Name)
		}
		return append(zs, z), nil
	})
}

// Update replaces the zone with the same name, keeping its list position.
func (s *Set) Update(z Zone) error {
	z.Normalize()
	return s.edit("zone.update", z.Name, func(cur *Zone) error {
		*cur = z
		return nil
	})
}

// Delete removes the named zone.
func (s *Set) Delete(name string) error {
	return s.mutate(func(zs []Zone) ([]Zone, error) {
		i := slices.IndexFunc(zs, func(o Zone) bool { return o.Name == name })
		if i < 0 {
			return nil, notFound("zone.delete", name)
		}
		return slices.Delete(zs, i, i+1), nil
	})
}

func (s *Set) SetEnabled(name string, enabled bool) error {
	return s.edit("zone.enable", name, func(z *Zone) error {
		z.Enabled = enabled
		return nil
	})
}

// Toggle flips the enabled flag and reports the new value.
func (s *Set) Toggle(name string) (bool, error) {
	var now bool
	err := s.edit("zone.toggle", name, func(z *Zone) error {
		z.Enabled = !z.Enabled
		now = z.Enabled
		return nil
	})
	return now, err
}

func (s *Set) SetSensitivity(name string, v float64) error {
	return s.edit("zone.sensitivity", name, func(z *Zone) error {
		z.Sensitivity = v
		return nil
	})
}

func (s *Set) SetEffect(name string, effect EffectType) error {
	return s.edit("zone.effect", name, func(z *Zone) error {
		e, err := ParseEffectType(string(effect))
		if err != nil {
			return err
		}
		z.EffectType = e
		return nil
	})
}

// Replace swaps the whole list, as when a preset is loaded.
func (s *Set) Replace(zones []Zone) error {
	return s.mutate(func([]Zone) ([]Zone, error) {
		out := make([]Zone, len(zones))
		for i, z := range zones {
			z.Normalize()
			out[i] = z
		}
		return out, nil
	})
}

func (s *Set) edit(op, name string, fn func(*Zone) error) error {
	return s.mutate(func(zs []Zone) ([]Zone, error) {
		i := slices.IndexFunc(zs, func(o Zone) bool { return o.Name == name })
		if i < 0 {
			return nil, notFound(op, name)
		}
		if err := fn(&zs[i]); err != nil {
			return nil, err
		}
		return zs, nil
	})
}

// mutate hands fn a private copy of the list and publishes the result only
// if every zone validates.
func (s *Set) mutate(fn func([]Zone) ([]Zone, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next, err := fn(zonesOf(cur))
	if err != nil {
		return err
	}
	if err := validateAll(next); err != nil {
		return err
	}
	s.current.Store(resolve(cur.Version+1, cur.LEDCount, next))
	return nil
}

func validateAll(zs []Zone) error {
	seen := make(map[string]struct{}, len(zs))
	for _, z := range zs {
		if err := z.Validate(); err != nil {
			return err
		}
		if _, dup := seen[z.Name]; dup {
			return apperrors.Newf(apperrors.KindConfigurationInvalid, "zone.validate", "duplicate zone name %q", z.Name)
		}
		seen[z.Name] = struct{}{}
	}
	return nil
}

func resolve(version uint64, ledCount int, zs []Zone) *Snapshot {
	snap := &Snapshot{Version: version, LEDCount: ledCount, Zones: make([]Resolved, len(zs))}
	for i, z := range zs {
		start, end := z.Range(ledCount)
		snap.Zones[i] = Resolved{Zone: z, StartLED: start, EndLED: end}
	}
	return snap
}

func zonesOf(s *Snapshot) []Zone {
	out := make([]Zone, len(s.Zones))
	for i, r := range s.Zones {
		out[i] = r.Zone
	}
	return out
}

func notFound(op, name string) error {
	return apperrors.Newf(apperrors.KindNotFound, op, "zone %q not found", name)
}
