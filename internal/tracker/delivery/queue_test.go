package delivery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editwatch/session-server-go/internal/model"
)

func queuedEvent(sessionID string) model.TrackerEvent {
	return model.TrackerEvent{
		EventType:      model.EventCreated,
		FilePath:       "/share/report.docx",
		FileName:       "report.docx",
		UserID:         "alice",
		SessionID:      sessionID,
		TrackerID:      "tracker-1",
		EventTimestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestDiskQueue(t *testing.T) {
	t.Run("starts empty without a file", func(t *testing.T) {
		q, err := NewDiskQueue(filepath.Join(t.TempDir(), "queue.json"))
		require.NoError(t, err)
		assert.Equal(t, 0, q.Len())

		events, err := q.TakeAll()
		require.NoError(t, err)
		assert.Nil(t, events)
	})

	t.Run("append survives a restart", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.json")

		q, err := NewDiskQueue(path)
		require.NoError(t, err)
		require.NoError(t, q.Append(queuedEvent("s1")))
		require.NoError(t, q.Append(queuedEvent("s2")))

		reloaded, err := NewDiskQueue(path)
		require.NoError(t, err)
		require.Equal(t, 2, reloaded.Len())

		events, err := reloaded.TakeAll()
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "s1", events[0].SessionID)
		assert.Equal(t, "s2", events[1].SessionID)
		assert.Equal(t, model.EventCreated, events[0].EventType)
	})

	t.Run("take all drains the queue and the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.json")

		q, err := NewDiskQueue(path)
		require.NoError(t, err)
		require.NoError(t, q.Append(queuedEvent("s1")))

		events, err := q.TakeAll()
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, 0, q.Len())

		reloaded, err := NewDiskQueue(path)
		require.NoError(t, err)
		assert.Equal(t, 0, reloaded.Len())
	})

	t.Run("requeue restores order at the front", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.json")

		q, err := NewDiskQueue(path)
		require.NoError(t, err)

		taken := []model.TrackerEvent{queuedEvent("s1"), queuedEvent("s2")}
		require.NoError(t, q.Append(queuedEvent("s3")))
		require.NoError(t, q.Requeue(taken))

		events, err := q.TakeAll()
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "s1", events[0].SessionID)
		assert.Equal(t, "s2", events[1].SessionID)
		assert.Equal(t, "s3", events[2].SessionID)
	})

	t.Run("requeue of nothing is a no-op", func(t *testing.T) {
		q, err := NewDiskQueue(filepath.Join(t.TempDir(), "queue.json"))
		require.NoError(t, err)
		require.NoError(t, q.Requeue(nil))
		assert.Equal(t, 0, q.Len())
	})
}
