// SPDX-License-Identifier: MIT
package render

import (
	"time"

	"circlights/internal/analysis"
	"circlights/internal/color"
	"circlights/internal/effect"
	applog "circlights/internal/log"
	"circlights/internal/zone"
)

// ZoneOutput is one zone's rendered colors for telemetry.
type ZoneOutput struct {
	Name     string      `json:"name"`
	Enabled  bool        `json:"enabled"`
	StartLED int         `json:"start_led"`
	EndLED   int         `json:"end_led"`
	Effect   string      `json:"effect"`
	Colors   []color.RGB `json:"colors,omitempty"`
}

type zoneState struct {
	effect effect.Effect
	params zone.Params
	buf    []color.RGB
}

// Renderer owns per-zone effect state across cycles. It is used by the
// render task only.
type Renderer struct {
	states  map[string]*zoneState
	outputs []ZoneOutput
	layers  []Layer
	newFn   func(zone.EffectType, zone.Params) (effect.Effect, error)
}

func NewRenderer() *Renderer {
	return &Renderer{
		states: make(map[string]*zoneState),
		newFn:  effect.New,
	}
}

// Cycle is the input of one render cycle.
type Cycle struct {
	Zones      *zone.Snapshot
	Features   analysis.Features
	Beat       bool
	Dt         time.Duration
	Brightness uint8
}

// Render evaluates every enabled zone of the snapshot and composites the
// result. Zones are rendered independently; overlap is resolved by list
// order in Compose.
func (r *Renderer) Render(c Cycle) Frame {
	snap := c.Zones
	feats := zone.Features{RMS: c.Features.RMS, Bass: c.Features.Bass, Mids: c.Features.Mids, Highs: c.Features.Highs}

	r.prune(snap)
	r.layers = r.layers[:0]
	r.outputs = r.outputs[:0]

	for _, z := range snap.Zones {
		out := ZoneOutput{
			Name:     z.Name,
			Enabled:  z.Enabled,
			StartLED: z.StartLED,
			EndLED:   z.EndLED,
			Effect:   string(z.EffectType),
		}
		if z.Enabled {
			st := r.state(z.Zone)
			if st != nil {
				n := z.EndLED - z.StartLED
				if cap(st.buf) < n {
					st.buf = make([]color.RGB, n)
				}
				st.buf = st.buf[:n]
				st.effect.Render(effect.Input{
					Value:    z.Select(feats),
					Beat:     c.Beat,
					TempoBPM: c.Features.TempoBPM,
					Dt:       c.Dt,
				}, st.buf)
				r.layers = append(r.layers, Layer{Start: z.StartLED, Colors: st.buf})
				out.Colors = st.buf
			}
		}
		r.outputs = append(r.outputs, out)
	}
	return Compose(snap.LEDCount, r.layers, c.Brightness)
}

// Outputs returns a deep copy of the last cycle's per-zone colors.
func (r *Renderer) Outputs() []ZoneOutput {
	out := make([]ZoneOutput, len(r.outputs))
	for i, o := range r.outputs {
		out[i] = o
		if o.Colors != nil {
			out[i].Colors = append([]color.RGB(nil), o.Colors...)
		}
	}
	return out
}

// state returns the zone's effect, creating a fresh one when the zone is
// new or its effect type or parameters changed.
func (r *Renderer) state(z zone.Zone) *zoneState {
	st, ok := r.states[z.Name]
	if ok && st.effect.Type() == z.EffectType && paramsEqual(st.params, z.Params) {
		return st
	}
	e, err := r.newFn(z.EffectType, z.Params)
	if err != nil {
		applog.Errorf("Render: zone %q: %v", z.Name, err)
		delete(r.states, z.Name)
		return nil
	}
	st = &zoneState{effect: e, params: z.Params}
	r.states[z.Name] = st
	return st
}

// prune drops the state of zones that no longer exist.
func (r *Renderer) prune(snap *zone.Snapshot) {
	if len(r.states) <= len(snap.Zones) {
		alive := 0
		for _, z := range snap.Zones {
			if _, ok := r.states[z.Name]; ok {
				alive++
			}
		}
		if alive == len(r.states) {
			return
		}
	}
	for name := range r.states {
		if _, ok := snap.Find(name); !ok {
			delete(r.states, name)
		}
	}
}

// Reset drops all effect state.
func (r *Renderer) Reset() {
	clear(r.states)
}

func paramsEqual(a, b zone.Params) bool {
	if !colorPtrEqual(a.Color, b.Color) || !colorPtrEqual(a.Color2, b.Color2) {
		return false
	}
	a.Color, a.Color2, b.Color, b.Color2 = nil, nil, nil, nil
	return a == b
}

func colorPtrEqual(a, b *color.RGB) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
