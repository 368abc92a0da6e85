// SPDX-License-Identifier: MIT
package notes

import (
	"math"
	"testing"

	"colorchord/internal/config"
)

func trackerParams() config.Params {
	return config.DefaultParams()
}

func dist(amp, mean float64) Distribution {
	return Distribution{Amplitude: amp, Mean: mean, Sigma: 1.4}
}

func TestTrackerSustainedTone(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()

	var id uint64
	for frame := range 20 {
		tr.Update([]Distribution{dist(0.8, 6)}, p)
		notes := tr.Notes(nil)
		if len(notes) != 1 {
			t.Fatalf("frame %d: %d notes, want 1", frame, len(notes))
		}
		n := notes[0]
		if frame == 0 {
			id = n.ID
		}
		if n.ID != id {
			t.Fatalf("frame %d: identity changed from %d to %d", frame, id, n.ID)
		}
		if n.Age != frame {
			t.Errorf("frame %d: age = %d, want %d", frame, n.Age, frame)
		}
		if !n.Active {
			t.Errorf("frame %d: note inactive", frame)
		}
		if math.Abs(n.PitchClass-0.25) > 1e-9 {
			t.Errorf("frame %d: pitch class = %f, want 0.25", frame, n.PitchClass)
		}
	}

	// Tone stops: the note must go dark and then disappear.
	inactiveBy := -1
	for frame := range 200 {
		tr.Update(nil, p)
		notes := tr.Notes(nil)
		if inactiveBy < 0 && (len(notes) == 0 || !notes[0].Active) {
			inactiveBy = frame
		}
		if len(notes) == 0 {
			break
		}
	}
	if inactiveBy < 0 || inactiveBy > 20 {
		t.Errorf("note still active %d frames after the tone stopped", inactiveBy)
	}
	if tr.Len() != 0 {
		t.Errorf("%d notes left after long silence", tr.Len())
	}
}

func TestTrackerAttachSmoothsPosition(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()

	tr.Update([]Distribution{dist(0.5, 5)}, p)
	cands := []Distribution{dist(0.5, 5.4)}
	tr.Update(cands, p)

	if !cands[0].Taken {
		t.Error("candidate not marked taken")
	}
	n := tr.Notes(nil)[0]
	want := 5 + 0.4*p.NoteAttachFreqIIR
	if math.Abs(n.Position-want) > 1e-9 {
		t.Errorf("position = %f, want %f", n.Position, want)
	}
	if n.Age != 1 {
		t.Errorf("age = %d, want 1", n.Age)
	}
}

func TestTrackerAttachWrapsAround(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()

	tr.Update([]Distribution{dist(0.5, 23.8)}, p)
	tr.Update([]Distribution{dist(0.5, 0.1)}, p)

	notes := tr.Notes(nil)
	if len(notes) != 1 {
		t.Fatalf("%d notes, want 1", len(notes))
	}
	want := 23.8 + 0.3*p.NoteAttachFreqIIR
	if math.Abs(notes[0].Position-want) > 1e-9 {
		t.Errorf("position = %f, want %f", notes[0].Position, want)
	}
}

func TestTrackerJumpabilityLimit(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()

	tr.Update([]Distribution{dist(0.5, 5)}, p)
	first := tr.Notes(nil)[0].ID

	// Too far to jump: a new note appears and the old one decays.
	tr.Update([]Distribution{dist(0.5, 8)}, p)
	notes := tr.Notes(nil)
	if len(notes) != 2 {
		t.Fatalf("%d notes, want 2", len(notes))
	}
	for _, n := range notes {
		if n.ID == first {
			if n.Age != 0 || n.Amplitude >= 0.5 {
				t.Errorf("old note should be decaying: %+v", n)
			}
		} else if n.Age != 0 || n.Position != 8 {
			t.Errorf("new note = %+v", n)
		}
	}
}

func TestTrackerClosestMatchWins(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()
	p.NoteCombineDistance = 0

	tr.Update([]Distribution{dist(0.5, 5), dist(0.5, 5.8)}, p)
	notes := tr.Notes(nil)
	if len(notes) != 2 {
		t.Fatalf("%d notes, want 2", len(notes))
	}

	// A single candidate at 5.45 is within reach of both; the note at 5.8 is closer.
	tr.Update([]Distribution{dist(0.5, 5.45)}, p)
	for _, n := range tr.Notes(nil) {
		matched := n.Age == 1
		closer := math.Abs(n.Position-5.8) < 0.2
		if matched != closer {
			t.Errorf("note %+v: matched=%v but closer=%v", n, matched, closer)
		}
	}
}

func TestTrackerCombinesNearbyNotes(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()

	tr.Update([]Distribution{dist(0.4, 5), dist(0.8, 5.3)}, p)

	notes := tr.Notes(nil)
	if len(notes) != 1 {
		t.Fatalf("%d notes, want 1 after combining", len(notes))
	}
	n := notes[0]
	if n.Amplitude != 0.8 {
		t.Errorf("amplitude = %f, want max 0.8", n.Amplitude)
	}
	want := 5 + 0.3*0.8/1.2
	if math.Abs(n.Position-want) > 1e-9 {
		t.Errorf("position = %f, want weighted %f", n.Position, want)
	}
	if tr.Capacity()-tr.Len() != testBins/2-1 {
		t.Errorf("absorbed slot not released")
	}
}

func TestTrackerCombineKeepsOlderIdentity(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()

	for range 5 {
		tr.Update([]Distribution{dist(0.3, 5)}, p)
	}
	old := tr.Notes(nil)[0]

	// A louder newcomer lands next to the established note.
	p.NoteJumpability = 0.1
	tr.Update([]Distribution{dist(0.3, 5), dist(0.9, 5.4)}, p)

	notes := tr.Notes(nil)
	if len(notes) != 1 {
		t.Fatalf("%d notes, want 1", len(notes))
	}
	if notes[0].ID != old.ID {
		t.Errorf("surviving ID = %d, want older %d", notes[0].ID, old.ID)
	}
	if notes[0].Age != old.Age+1 {
		t.Errorf("age = %d, want %d", notes[0].Age, old.Age+1)
	}
}

func TestTrackerCombineIsOrderIndependent(t *testing.T) {
	a := []Distribution{dist(0.4, 5), dist(0.7, 5.3), dist(0.5, 14)}
	b := []Distribution{dist(0.5, 14), dist(0.7, 5.3), dist(0.4, 5)}

	ta, tb := NewTracker(testBins), NewTracker(testBins)
	ta.Update(a, trackerParams())
	tb.Update(b, trackerParams())

	na, nb := ta.Notes(nil), tb.Notes(nil)
	if len(na) != len(nb) {
		t.Fatalf("note counts differ: %d vs %d", len(na), len(nb))
	}
	find := func(ns []Note, pos float64) *Note {
		for i := range ns {
			if math.Abs(ns[i].Position-pos) < 0.5 {
				return &ns[i]
			}
		}
		return nil
	}
	for _, n := range na {
		m := find(nb, n.Position)
		if m == nil || math.Abs(m.Position-n.Position) > 1e-12 || m.Amplitude != n.Amplitude {
			t.Errorf("note %+v has no twin in %+v", n, nb)
		}
	}
}

func TestTrackerSilenceNeverCreates(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()

	tr.Update([]Distribution{dist(0.9, 3), dist(0.6, 12)}, p)
	ids := map[uint64]bool{}
	for _, n := range tr.Notes(nil) {
		ids[n.ID] = true
	}

	prev := map[uint64]float64{}
	for frame := range 100 {
		tr.Update(nil, p)
		for _, n := range tr.Notes(nil) {
			if !ids[n.ID] {
				t.Fatalf("frame %d: new note %d created from silence", frame, n.ID)
			}
			if last, ok := prev[n.ID]; ok && n.Amplitude > last {
				t.Errorf("frame %d: amplitude rose from %f to %f", frame, last, n.Amplitude)
			}
			prev[n.ID] = n.Amplitude
		}
	}
	if tr.Len() != 0 {
		t.Errorf("%d notes survive 100 silent frames", tr.Len())
	}
}

func TestTrackerEmptyInputs(t *testing.T) {
	tr := NewTracker(testBins)
	tr.Update(nil, trackerParams())
	tr.Update([]Distribution{}, trackerParams())
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTrackerBelowThresholdNotCreated(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()
	tr.Update([]Distribution{dist(p.NoteMinimumNewDistValue/2, 7)}, p)
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTrackerOutChop(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()
	p.NoteOutChop = 0.1

	tr.Update([]Distribution{dist(0.05, 7)}, p)
	n := tr.Notes(nil)[0]
	if n.Active || n.AmplitudeOut != 0 {
		t.Errorf("quiet note should be chopped: %+v", n)
	}

	tr.Reset()
	tr.Update([]Distribution{dist(0.6, 7)}, p)
	first := tr.Notes(nil)[0].AmplitudeOut
	if math.Abs(first-0.5) > 1e-9 {
		t.Errorf("AmplitudeOut = %f, want 0.5", first)
	}

	// A small wobble is held rather than passed through.
	tr.Update([]Distribution{dist(0.62, 7)}, p)
	if got := tr.Notes(nil)[0].AmplitudeOut; got != first {
		t.Errorf("AmplitudeOut = %f, want held %f", got, first)
	}
}

func TestTrackerResizesOnBinChange(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()
	tr.Update([]Distribution{dist(0.5, 7)}, p)

	p.FrequencyBins = 12
	tr.Update(nil, p)
	if tr.Bins() != 12 || tr.Capacity() != 6 || tr.Len() != 0 {
		t.Errorf("bins=%d cap=%d len=%d after resize", tr.Bins(), tr.Capacity(), tr.Len())
	}
}

func TestTrackerFullArenaEvictsWeakest(t *testing.T) {
	tr := NewTracker(12) // 6 slots
	p := trackerParams()
	p.FrequencyBins = 12
	p.NoteCombineDistance = 0

	var cands []Distribution
	for i := range 6 {
		cands = append(cands, dist(0.1+0.1*float64(i), float64(2*i)))
	}
	tr.Update(cands, p)
	if tr.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", tr.Len())
	}

	// Only the strongest note keeps its candidate; a loud newcomer replaces the weakest.
	tr.Update([]Distribution{dist(0.6, 10), dist(0.9, 1)}, p)
	var sawNew, sawWeakest bool
	for _, n := range tr.Notes(nil) {
		if n.Position == 1 {
			sawNew = true
		}
		if n.Position == 0 {
			sawWeakest = true
		}
	}
	if !sawNew || sawWeakest {
		t.Errorf("eviction failed: new=%v weakest=%v", sawNew, sawWeakest)
	}
}

func TestTrackerHotPath(t *testing.T) {
	tr := NewTracker(testBins)
	p := trackerParams()
	cands := []Distribution{dist(0.8, 3), dist(0.5, 11), dist(0.3, 19)}
	dst := make([]Note, 0, tr.Capacity())

	tr.Update(cands, p)
	allocs := testing.AllocsPerRun(50, func() {
		tr.Update(cands, p)
		dst = tr.Notes(dst)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in tracker hot path, got %.1f", allocs)
	}
}

func BenchmarkTrackerUpdate(b *testing.B) {
	tr := NewTracker(testBins)
	p := trackerParams()
	cands := []Distribution{dist(0.8, 3), dist(0.5, 11), dist(0.3, 19), dist(0.2, 7.5)}

	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		tr.Update(cands, p)
	}
}
