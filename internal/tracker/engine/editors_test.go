package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEditors(clock *fakeClock) *EditorTracker {
	return NewEditorTracker(5*time.Minute, WithEditorClock(clock.Now))
}

func TestEditorTracker(t *testing.T) {
	t.Run("first observed user becomes primary", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		obs := tr.Observe("/share/report.docx", []string{"alice"})

		assert.Equal(t, "alice", obs.Primary)
		assert.Empty(t, obs.CoEditors)
		assert.False(t, obs.IsMultiUser)
	})

	t.Run("later users become co-editors, primary stays sticky", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		tr.Observe("/share/report.docx", []string{"alice"})
		clock.Advance(time.Minute)
		obs := tr.Observe("/share/report.docx", []string{"alice", "bob"})

		assert.Equal(t, "alice", obs.Primary)
		assert.Equal(t, []string{"bob"}, obs.CoEditors)
		assert.True(t, obs.IsMultiUser)
	})

	t.Run("primary transfers after grace period absence", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		tr.Observe("/share/report.docx", []string{"alice", "bob"})

		clock.Advance(6 * time.Minute)
		obs := tr.Observe("/share/report.docx", []string{"bob"})

		assert.True(t, obs.PrimaryChanged)
		assert.Equal(t, "alice", obs.PreviousPrimary)
		assert.Equal(t, "bob", obs.Primary)
	})

	t.Run("no transfer inside the grace period", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		tr.Observe("/share/report.docx", []string{"alice", "bob"})

		clock.Advance(3 * time.Minute)
		obs := tr.Observe("/share/report.docx", []string{"bob"})

		assert.False(t, obs.PrimaryChanged)
		assert.Equal(t, "alice", obs.Primary)
	})

	t.Run("no transfer without co-editors", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		tr.Observe("/share/report.docx", []string{"alice"})

		clock.Advance(10 * time.Minute)
		obs := tr.Observe("/share/report.docx", nil)

		assert.False(t, obs.PrimaryChanged)
		assert.Equal(t, "alice", obs.Primary)
	})

	t.Run("successor is the most recently seen co-editor", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		tr.Observe("/share/report.docx", []string{"alice", "bob"})
		clock.Advance(time.Minute)
		tr.Observe("/share/report.docx", []string{"carol"})

		clock.Advance(5 * time.Minute)
		obs := tr.Observe("/share/report.docx", []string{"bob", "carol"})

		assert.True(t, obs.PrimaryChanged)
		assert.Equal(t, "bob", obs.Primary, "bob and carol seen in the same observation, lexicographic tie-break")
	})

	t.Run("transfer path carries state across rename", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		tr.Observe("/share/report.docx", []string{"alice", "bob"})
		tr.TransferPath("/share/report.docx", "/share/report-v2.docx")

		primary, ok := tr.Primary("/share/report-v2.docx")
		require.True(t, ok)
		assert.Equal(t, "alice", primary)

		_, ok = tr.Primary("/share/report.docx")
		assert.False(t, ok)
	})

	t.Run("co-editors fade out after the grace period", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		tr.Observe("/share/report.docx", []string{"alice", "bob"})

		clock.Advance(6 * time.Minute)
		obs := tr.Observe("/share/report.docx", []string{"alice"})

		assert.Empty(t, obs.CoEditors, "bob closed the file long ago")
		assert.False(t, obs.IsMultiUser)

		// And bob is no longer a succession candidate: the next taker
		// is whoever is actually present.
		tr.Observe("/share/report.docx", []string{"carol"})
		clock.Advance(6 * time.Minute)
		obs = tr.Observe("/share/report.docx", []string{"carol"})

		assert.True(t, obs.PrimaryChanged)
		assert.Equal(t, "carol", obs.Primary)
	})

	t.Run("deterministic first pick with several initial users", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		tr := newTestEditors(clock)

		obs := tr.Observe("/share/report.docx", []string{"carol", "alice", "bob"})
		assert.Equal(t, "alice", obs.Primary)
	})
}

func TestMostRecentEditor(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("latest seen wins", func(t *testing.T) {
		got := mostRecentEditor(map[string]time.Time{
			"bob":   base,
			"carol": base.Add(time.Minute),
		})
		assert.Equal(t, "carol", got)
	})

	t.Run("exact tie goes to the lexicographically smallest", func(t *testing.T) {
		got := mostRecentEditor(map[string]time.Time{
			"dave":  base,
			"bob":   base,
			"carol": base,
		})
		assert.Equal(t, "bob", got)
	})
}
