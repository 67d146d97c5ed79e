package candidate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rand/chatbattery/internal/formula"
)

func TestStore_Transitions(t *testing.T) {
	t.Run("absent formula is unknown", func(t *testing.T) {
		s := NewStore()
		assert.Equal(t, Unknown, s.Get("NaMnO2"))
		assert.True(t, s.Get("NaMnO2").Novel())
	})

	t.Run("mark novel only moves unknown", func(t *testing.T) {
		s := NewStore()
		s.MarkNovel("NaMnO2")
		assert.Equal(t, NovelUnvalidated, s.Get("NaMnO2"))

		s.MarkValidity("NaMnO2", true)
		s.MarkNovel("NaMnO2")
		assert.Equal(t, Valid, s.Get("NaMnO2"))
	})

	t.Run("validity recorded for novel formula", func(t *testing.T) {
		s := NewStore()
		s.MarkNovel("NaMnO2")
		s.MarkValidity("NaMnO2", false)
		assert.Equal(t, Invalid, s.Get("NaMnO2"))

		s.MarkValidity("NaMnO2", true)
		assert.Equal(t, Valid, s.Get("NaMnO2"))
	})

	t.Run("not novel wins over validity", func(t *testing.T) {
		s := NewStore()
		s.MarkNotNovel("NaMnO2")
		s.MarkValidity("NaMnO2", true)
		assert.Equal(t, NotNovel, s.Get("NaMnO2"))
		s.MarkValidity("NaMnO2", false)
		assert.Equal(t, NotNovel, s.Get("NaMnO2"))
		assert.False(t, s.Get("NaMnO2").Novel())
	})
}

func TestStore_Partition(t *testing.T) {
	s := NewStore()
	s.MarkNotNovel("A1B")
	s.MarkValidity("C2D", false)
	s.MarkValidity("E3F", true)
	s.MarkNotNovel("G4H")
	s.MarkNovel("I5J")

	notNovel, invalid, valid := s.Partition([]formula.Formula{"G4H", "E3F", "C2D", "A1B", "I5J", "K6L"})
	assert.Equal(t, []formula.Formula{"G4H", "A1B"}, notNovel)
	assert.Equal(t, []formula.Formula{"C2D"}, invalid)
	assert.Equal(t, []formula.Formula{"E3F"}, valid)
}

func TestStore_Repairs(t *testing.T) {
	s := NewStore()

	_, ok := s.Repair("NaMnO2")
	assert.False(t, ok)

	s.SetRepair("NaMnO2", "NaCoO2")
	r, ok := s.Repair("NaMnO2")
	require.True(t, ok)
	assert.Equal(t, formula.Formula("NaCoO2"), r)

	s.SetRepair("NaMnO2", "NaFePO4")
	r, _ = s.Repair("NaMnO2")
	assert.Equal(t, formula.Formula("NaFePO4"), r)

	s.ClearRepair("NaMnO2")
	_, ok = s.Repair("NaMnO2")
	assert.False(t, ok)
}

func TestStore_Reset(t *testing.T) {
	s := NewStore()
	s.MarkNotNovel("NaMnO2")
	s.SetRepair("NaCoO2", "NaFePO4")
	require.Equal(t, 1, s.Len())

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, Unknown, s.Get("NaMnO2"))
	_, ok := s.Repair("NaCoO2")
	assert.False(t, ok)
}

func TestStore_ConcurrentWrites(t *testing.T) {
	s := NewStore()
	formulas := []formula.Formula{"A1B", "C2D", "E3F", "G4H", "I5J", "K6L", "M7N", "O8P"}

	var wg sync.WaitGroup
	for i, f := range formulas {
		wg.Add(1)
		go func(i int, f formula.Formula) {
			defer wg.Done()
			s.MarkNovel(f)
			s.MarkValidity(f, i%2 == 0)
			if i%2 == 1 {
				s.SetRepair(f, "NaMnO2")
			}
		}(i, f)
	}
	wg.Wait()

	for i, f := range formulas {
		if i%2 == 0 {
			assert.Equal(t, Valid, s.Get(f))
		} else {
			assert.Equal(t, Invalid, s.Get(f))
			_, ok := s.Repair(f)
			assert.True(t, ok)
		}
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "not novel", NotNovel.String())
	assert.Equal(t, "valid", Valid.String())
	assert.Equal(t, "unknown", Status(42).String())
}

// TestProperty_NotNovelIsSticky verifies that no sequence of validity marks
// can move a formula out of NotNovel.
func TestProperty_NotNovelIsSticky(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore()
		f := formula.Formula("NaMnO2")

		before := rapid.SliceOf(rapid.Bool()).Draw(t, "before")
		for _, ok := range before {
			s.MarkValidity(f, ok)
		}
		s.MarkNotNovel(f)

		after := rapid.SliceOf(rapid.Bool()).Draw(t, "after")
		for _, ok := range after {
			s.MarkValidity(f, ok)
			s.MarkNovel(f)
		}

		if got := s.Get(f); got != NotNovel {
			t.Fatalf("status = %v, want not novel", got)
		}
	})
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := NewStore()
	s.MarkNovel("NaMn0.9Ti0.1O2")
	s.MarkValidity("NaMn0.9Ti0.1O2", false)
	s.SetRepair("NaMn0.9Ti0.1O2", "NaFePO4")

	snap := s.Snapshot()

	s.MarkValidity("NaMn0.9Ti0.1O2", true)
	s.ClearRepair("NaMn0.9Ti0.1O2")
	s.MarkNotNovel("NaFePO4")

	s.Restore(snap)
	assert.Equal(t, Invalid, s.Get("NaMn0.9Ti0.1O2"))
	assert.Equal(t, Unknown, s.Get("NaFePO4"))
	r, ok := s.Repair("NaMn0.9Ti0.1O2")
	require.True(t, ok)
	assert.Equal(t, formula.Formula("NaFePO4"), r)

	// Later writes do not reach the snapshot.
	s.MarkNotNovel("NaMn0.9Ti0.1O2")
	s.Restore(snap)
	assert.Equal(t, Invalid, s.Get("NaMn0.9Ti0.1O2"))

	s.Restore(Snapshot{})
	assert.Zero(t, s.Len())
	s.MarkNovel("NaCoO2")
	assert.Equal(t, NovelUnvalidated, s.Get("NaCoO2"))
}
