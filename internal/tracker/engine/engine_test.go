package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(clock *fakeClock) *Engine {
	return New(time.Hour, 30*time.Minute, 3*time.Hour, 5, WithClock(clock.Now))
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestSmartCreate(t *testing.T) {
	t.Run("creates a fresh session", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		s := e.SmartCreate("/share/report.docx", "alice", "h1")

		assert.NotEmpty(t, s.ID)
		assert.Equal(t, "/share/report.docx", s.FilePath)
		assert.Equal(t, "alice", s.User)
		assert.Equal(t, clock.now, s.StartedAt)
		assert.Equal(t, "h1", s.HashBefore)
		assert.Equal(t, 0, s.ResumeCount)
		assert.True(t, s.Active())
	})

	t.Run("duplicate create collapses into the existing session", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		first := e.SmartCreate("/share/report.docx", "alice", "h1")
		clock.Advance(time.Minute)
		second := e.SmartCreate("/share/report.docx", "alice", "h2")

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "h1", second.HashBefore)
		assert.Equal(t, clock.now, second.LastActivity)
		assert.Len(t, e.Snapshot(), 1)
	})

	t.Run("different users get independent sessions", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		a := e.SmartCreate("/share/report.docx", "alice", "")
		b := e.SmartCreate("/share/report.docx", "bob", "")

		assert.NotEqual(t, a.ID, b.ID)
		assert.Len(t, e.Snapshot(), 2)
	})

	t.Run("resumes a recently closed session", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		first := e.SmartCreate("/share/report.docx", "alice", "h1")
		clock.Advance(10 * time.Minute)
		_, closed := e.Close("/share/report.docx", "alice", "h2")
		require.True(t, closed)

		clock.Advance(20 * time.Minute)
		resumed := e.SmartCreate("/share/report.docx", "alice", "h3")

		assert.Equal(t, first.ID, resumed.ID)
		assert.Equal(t, 1, resumed.ResumeCount)
		assert.Equal(t, first.StartedAt, resumed.StartedAt, "started_at is preserved across resume")
		assert.Equal(t, "h3", resumed.HashBefore)
		assert.Empty(t, resumed.HashAfter)
		assert.True(t, resumed.Active())
	})

	t.Run("does not resume outside the resume window", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		first := e.SmartCreate("/share/report.docx", "alice", "")
		e.Close("/share/report.docx", "alice", "")

		clock.Advance(2 * time.Hour)
		fresh := e.SmartCreate("/share/report.docx", "alice", "")

		assert.NotEqual(t, first.ID, fresh.ID)
		assert.Equal(t, 0, fresh.ResumeCount)
	})

	t.Run("never resumes a commented session", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		first := e.SmartCreate("/share/report.docx", "alice", "")
		closed, ok := e.Close("/share/report.docx", "alice", "")
		require.True(t, ok)
		require.True(t, e.MarkCommented(closed.ID))

		clock.Advance(time.Minute)
		fresh := e.SmartCreate("/share/report.docx", "alice", "")

		assert.NotEqual(t, first.ID, fresh.ID)
		assert.Equal(t, 0, fresh.ResumeCount)
	})
}

func TestClose(t *testing.T) {
	t.Run("stamps ended_at and records hash_after", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		e.SmartCreate("/share/report.docx", "alice", "h1")
		clock.Advance(15 * time.Minute)
		s, ok := e.Close("/share/report.docx", "alice", "h2")

		require.True(t, ok)
		assert.Equal(t, clock.now, s.EndedAt)
		assert.Equal(t, "h2", s.HashAfter)
		assert.False(t, s.Active())
		assert.Empty(t, e.Snapshot())
	})

	t.Run("double close is a no-op, not an error", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		e.SmartCreate("/share/report.docx", "alice", "")
		_, first := e.Close("/share/report.docx", "alice", "")
		_, second := e.Close("/share/report.docx", "alice", "")

		assert.True(t, first)
		assert.False(t, second)
	})

	t.Run("history is capped FIFO", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		for i := 0; i < 8; i++ {
			e.SmartCreate("/share/report.docx", "alice", "")
			closed, ok := e.Close("/share/report.docx", "alice", "")
			require.True(t, ok)
			require.True(t, e.MarkCommented(closed.ID), "retire so the next create is fresh")
			clock.Advance(time.Minute)
		}

		assert.Equal(t, 5, e.Stats().Closed)
	})
}

func TestCloseExpired(t *testing.T) {
	t.Run("closes sessions idle past the timeout", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		e.SmartCreate("/share/idle.docx", "alice", "")
		clock.Advance(10 * time.Minute)
		e.SmartCreate("/share/fresh.docx", "alice", "")

		clock.Advance(25 * time.Minute)
		expired := e.CloseExpired()

		require.Len(t, expired, 1)
		assert.Equal(t, "/share/idle.docx", expired[0].FilePath)
		assert.Equal(t, clock.now, expired[0].EndedAt)
		assert.Len(t, e.Snapshot(), 1)
	})

	t.Run("closes sessions past the maximum age even when active", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		e.SmartCreate("/share/marathon.docx", "alice", "")

		// Touch every 10 minutes for over 3 hours: never idle, but old.
		for i := 0; i < 19; i++ {
			clock.Advance(10 * time.Minute)
			e.Touch("/share/marathon.docx", "alice", "")
		}

		expired := e.CloseExpired()
		require.Len(t, expired, 1)
		assert.False(t, expired[0].EndedAt.IsZero())
	})

	t.Run("nothing expires inside both limits", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		e.SmartCreate("/share/report.docx", "alice", "")
		clock.Advance(29 * time.Minute)

		assert.Empty(t, e.CloseExpired())
	})
}

func TestCloseAllForFile(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	e := newTestEngine(clock)

	e.SmartCreate("/share/report.docx", "alice", "")
	e.SmartCreate("/share/report.docx", "bob", "")
	e.SmartCreate("/share/other.docx", "alice", "")

	closed := e.CloseAllForFile("/share/report.docx")

	assert.Len(t, closed, 2)
	for _, s := range closed {
		assert.False(t, s.EndedAt.IsZero(), "ended_at always set on leaving the active table")
	}
	require.Len(t, e.Snapshot(), 1)
	assert.Equal(t, "/share/other.docx", e.Snapshot()[0].FilePath)
}

func TestTransfer(t *testing.T) {
	t.Run("preserves identity, started_at and resume_count", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		original := e.SmartCreate("/share/report.docx", "alice", "h1")
		e.Close("/share/report.docx", "alice", "")
		resumed := e.SmartCreate("/share/report.docx", "alice", "h2")
		require.Equal(t, 1, resumed.ResumeCount)

		clock.Advance(time.Minute)
		moved, ok := e.Transfer("/share/report.docx", "/share/report-v2.docx", "alice", "h3")

		require.True(t, ok)
		assert.Equal(t, original.ID, moved.ID)
		assert.Equal(t, original.StartedAt, moved.StartedAt)
		assert.Equal(t, 1, moved.ResumeCount)

		_, oldActive := e.FindActive("/share/report.docx", "alice")
		assert.False(t, oldActive, "no active session remains at the old path")

		found, ok := e.FindActive("/share/report-v2.docx", "alice")
		require.True(t, ok)
		assert.Equal(t, original.ID, found.ID)
	})

	t.Run("returns false with no active session", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		_, ok := e.Transfer("/share/nothing.docx", "/share/new.docx", "alice", "")
		assert.False(t, ok)
	})
}

func TestMarkCommented(t *testing.T) {
	t.Run("marks the active session", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)

		s := e.SmartCreate("/share/report.docx", "alice", "")
		require.True(t, e.MarkCommented(s.ID))

		found, ok := e.FindActive("/share/report.docx", "alice")
		require.True(t, ok)
		assert.True(t, found.IsCommented)
	})

	t.Run("unknown id returns false", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		e := newTestEngine(clock)
		assert.False(t, e.MarkCommented("nope"))
	})
}

func TestCloseByID(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	e := newTestEngine(clock)

	s := e.SmartCreate("/share/report.docx", "alice", "")

	closed, ok := e.CloseByID(s.ID)
	require.True(t, ok)
	assert.Equal(t, s.ID, closed.ID)
	assert.False(t, closed.EndedAt.IsZero())

	_, again := e.CloseByID(s.ID)
	assert.False(t, again)
}

func TestSingleActiveSessionInvariant(t *testing.T) {
	// Whatever sequence of creates, closes and resumes runs, at most
	// one active session exists per (file, user) key.
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	e := newTestEngine(clock)

	for i := 0; i < 20; i++ {
		e.SmartCreate("/share/report.docx", "alice", "")
		if i%3 == 0 {
			e.Close("/share/report.docx", "alice", "")
		}
		clock.Advance(time.Minute)
	}

	count := 0
	for _, s := range e.Snapshot() {
		if s.FilePath == "/share/report.docx" && s.User == "alice" {
			count++
		}
	}
	assert.LessOrEqual(t, count, 1)
}
