// SPDX-License-Identifier: MIT
package notes

import (
	"cmp"
	"math"
	"slices"

	"colorchord/internal/config"
)

const (
	// AmplitudeFloor is the amplitude below which an unmatched note is removed.
	AmplitudeFloor = 0.001
	// minDecay bounds how slowly an unmatched note fades, so a zero amp_iir
	// cannot keep a dead note alive forever.
	minDecay = 0.05
)

// Note is one tracked pitch. Position is a bin-space coordinate in [0, bins);
// PitchClass is Position/bins in [0, 1).
type Note struct {
	ID           uint64
	Active       bool
	Position     float64
	PitchClass   float64
	Sigma        float64
	Amplitude    float64 // Primary smoothed amplitude.
	Amplitude2   float64 // Secondary, slower smoothed amplitude.
	AmplitudeOut float64 // Amplitude after note_out_chop, what consumers display.
	Age          int     // Frames this identity has been matched.
}

type slot struct {
	note    Note
	live    bool
	matched bool
}

type pair struct {
	dist     float64
	note     int // slot index
	incoming int // distribution index
}

// Tracker follows notes across frames. Notes live in a fixed arena of
// bins/2 slots; freed slots are reused in LIFO order. Not safe for concurrent
// use.
type Tracker struct {
	bins   int
	slots  []slot
	free   []int
	pairs  []pair
	nextID uint64
}

// NewTracker returns a tracker for a folded spectrum of bins bins.
func NewTracker(bins int) *Tracker {
	t := &Tracker{}
	t.resize(bins)
	return t
}

func (t *Tracker) resize(bins int) {
	t.bins = bins
	t.slots = make([]slot, max(1, bins/2))
	t.free = t.free[:0]
	for i := len(t.slots) - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
}

// Bins returns the spectrum width the tracker currently works in.
func (t *Tracker) Bins() int { return t.bins }

// Capacity returns the number of note slots.
func (t *Tracker) Capacity() int { return len(t.slots) }

// Len returns the number of live notes.
func (t *Tracker) Len() int { return len(t.slots) - len(t.free) }

// Reset drops every note. IDs keep increasing.
func (t *Tracker) Reset() {
	t.resize(t.bins)
}

// Notes appends every live note to dst[:0] in slot order.
func (t *Tracker) Notes(dst []Note) []Note {
	dst = dst[:0]
	for i := range t.slots {
		if t.slots[i].live {
			dst = append(dst, t.slots[i].note)
		}
	}
	return dst
}

func (t *Tracker) alloc() (int, bool) {
	if len(t.free) == 0 {
		return 0, false
	}
	i := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	return i, true
}

func (t *Tracker) release(i int) {
	t.slots[i] = slot{}
	t.free = append(t.free, i)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func (t *Tracker) distance(a, b float64) float64 {
	return math.Abs(signedOffset(a, b, t.bins))
}

// Update advances the tracker by one frame. Candidates claimed by an existing
// note get Taken set. A change of p.FrequencyBins resets the tracker since
// positions are not comparable across bin counts.
func (t *Tracker) Update(candidates []Distribution, p config.Params) {
	if p.FrequencyBins != t.bins {
		t.resize(p.FrequencyBins)
	}
	if t.bins <= 0 {
		return
	}

	for i := range candidates {
		candidates[i].Taken = false
	}
	for i := range t.slots {
		t.slots[i].matched = false
	}

	t.match(candidates, p)
	t.create(candidates, p)
	t.combine(p)
	t.decay(p)
}

// match pairs notes and candidates globally, closest first, each side used at
// most once. Ties fall to the lower slot, then the lower candidate index.
func (t *Tracker) match(candidates []Distribution, p config.Params) {
	t.pairs = t.pairs[:0]
	for si := range t.slots {
		if !t.slots[si].live {
			continue
		}
		for ci := range candidates {
			d := t.distance(t.slots[si].note.Position, candidates[ci].Mean)
			if d <= p.NoteJumpability {
				t.pairs = append(t.pairs, pair{dist: d, note: si, incoming: ci})
			}
		}
	}
	slices.SortFunc(t.pairs, func(a, b pair) int {
		return cmp.Or(
			cmp.Compare(a.dist, b.dist),
			cmp.Compare(a.note, b.note),
			cmp.Compare(a.incoming, b.incoming),
		)
	})

	freqIIR := clamp01(p.NoteAttachFreqIIR)
	ampIIR := clamp01(p.NoteAttachAmpIIR)
	for _, pr := range t.pairs {
		s := &t.slots[pr.note]
		c := &candidates[pr.incoming]
		if s.matched || c.Taken {
			continue
		}
		s.matched = true
		c.Taken = true

		n := &s.note
		n.Position = wrap(n.Position+signedOffset(c.Mean, n.Position, t.bins)*freqIIR, t.bins)
		n.Sigma = n.Sigma*(1-freqIIR) + c.Sigma*freqIIR
		n.Amplitude = n.Amplitude*(1-ampIIR) + c.Amplitude*ampIIR
		n.Age++
	}
}

// create turns significant unclaimed candidates into new notes. When the arena
// is full the weakest unmatched note gives way to a stronger candidate.
func (t *Tracker) create(candidates []Distribution, p config.Params) {
	for ci := range candidates {
		c := &candidates[ci]
		if c.Taken || c.Amplitude <= p.NoteMinimumNewDistValue {
			continue
		}
		si, ok := t.alloc()
		if !ok {
			weakest := -1
			for i := range t.slots {
				s := &t.slots[i]
				if s.live && !s.matched && (weakest < 0 || s.note.Amplitude < t.slots[weakest].note.Amplitude) {
					weakest = i
				}
			}
			if weakest < 0 || t.slots[weakest].note.Amplitude >= c.Amplitude {
				continue
			}
			t.release(weakest)
			si, _ = t.alloc()
		}

		t.nextID++
		t.slots[si] = slot{
			live:    true,
			matched: true,
			note: Note{
				ID:         t.nextID,
				Position:   wrap(c.Mean, t.bins),
				Sigma:      c.Sigma,
				Amplitude:  c.Amplitude,
				Amplitude2: c.Amplitude,
			},
		}
	}
}

// survives reports whether a outranks b when the two merge: the older note
// wins, then the louder, then the lower ID.
func survives(a, b *Note) bool {
	if a.Age != b.Age {
		return a.Age > b.Age
	}
	if a.Amplitude != b.Amplitude {
		return a.Amplitude > b.Amplitude
	}
	return a.ID < b.ID
}

// combine merges notes closer than note_combine_distance, closest pair first,
// until no such pair is left. The result does not depend on slot order.
func (t *Tracker) combine(p config.Params) {
	for {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := range t.slots {
			if !t.slots[i].live {
				continue
			}
			for j := i + 1; j < len(t.slots); j++ {
				if !t.slots[j].live {
					continue
				}
				d := t.distance(t.slots[i].note.Position, t.slots[j].note.Position)
				if d <= p.NoteCombineDistance && d < best {
					best, bi, bj = d, i, j
				}
			}
		}
		if bi < 0 {
			return
		}

		keep, drop := &t.slots[bi], &t.slots[bj]
		if !survives(&keep.note, &drop.note) {
			keep, drop = drop, keep
		}
		k, o := &keep.note, &drop.note

		w := 0.5
		if total := k.Amplitude + o.Amplitude; total > 0 {
			w = o.Amplitude / total
		}
		k.Position = wrap(k.Position+signedOffset(o.Position, k.Position, t.bins)*w, t.bins)
		k.Amplitude = math.Max(k.Amplitude, o.Amplitude)
		k.Amplitude2 = math.Max(k.Amplitude2, o.Amplitude2)
		k.AmplitudeOut = math.Max(k.AmplitudeOut, o.AmplitudeOut)
		keep.matched = keep.matched || drop.matched

		if drop == &t.slots[bi] {
			t.release(bi)
		} else {
			t.release(bj)
		}
	}
}

// decay fades unmatched notes, updates the secondary amplitude, removes dead
// notes and derives the output amplitude.
func (t *Tracker) decay(p config.Params) {
	fade := 1 - math.Max(minDecay, clamp01(p.NoteAttachAmpIIR))
	amp2IIR := clamp01(p.NoteAttachAmpIIR2)
	chop := p.NoteOutChop

	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		n := &s.note
		if !s.matched {
			n.Amplitude *= fade
		}
		n.Amplitude2 = n.Amplitude2*(1-amp2IIR) + n.Amplitude*amp2IIR

		if !s.matched && n.Amplitude < AmplitudeFloor {
			t.release(i)
			continue
		}

		target := math.Max(0, n.Amplitude-chop)
		prev := n.AmplitudeOut
		if target > 0 && prev > 0 && math.Abs(target-prev) < chop*prev {
			target = prev
		}
		n.AmplitudeOut = target
		n.Active = target > 0
		n.PitchClass = n.Position / float64(t.bins)
	}
}
