package ddm

import (
	"fmt"
	"strings"
)

// Tracer receives diagnostic callbacks from the forward pass. The mass slice
// passed to Step is reused by the engine after the call returns; an
// implementation that keeps it must copy it.
type Tracer interface {
	Step(t int, mass []float64, up, down float64)
	Done(p *Propagation)
}

// NopTracer discards everything.
type NopTracer struct{}

func (NopTracer) Step(int, []float64, float64, float64) {}
func (NopTracer) Done(*Propagation)                     {}

// LogTracer writes one line per step and a summary line per trial through a
// printf-style function such as monitoring.Logf.
type LogTracer struct {
	Logf func(format string, v ...interface{})
	// Steps enables the per-step lines, which are verbose.
	Steps bool
}

func (lt LogTracer) Step(t int, mass []float64, up, down float64) {
	if !lt.Steps || lt.Logf == nil {
		return
	}
	lt.Logf("[ddm] t=%d up=%.6g down=%.6g mass=%s", t, up, down, formatMass(mass))
}

func (lt LogTracer) Done(p *Propagation) {
	if lt.Logf == nil {
		return
	}
	lt.Logf("[ddm] done: steps=%d transition=%d terminal up=%.6g down=%.6g",
		p.MaxTime, p.TransitionTime, p.TerminalUp(), p.TerminalDown())
}

func formatMass(mass []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, m := range mass {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.4g", m)
	}
	b.WriteByte(']')
	return b.String()
}

// RecordingTracer keeps a copy of every step. It is meant for tests and
// offline inspection; it is not safe for concurrent use.
type RecordingTracer struct {
	Masses [][]float64
	Up     []float64
	Down   []float64
	Times  []int
}

func (r *RecordingTracer) Step(t int, mass []float64, up, down float64) {
	m := make([]float64, len(mass))
	copy(m, mass)
	r.Masses = append(r.Masses, m)
	r.Up = append(r.Up, up)
	r.Down = append(r.Down, down)
	r.Times = append(r.Times, t)
}

func (r *RecordingTracer) Done(*Propagation) {}
