package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/repository"
	"github.com/editwatch/session-server-go/internal/service"
)

// TrackerFetcher is the slice of the tracker client the sweep needs.
type TrackerFetcher interface {
	BaseURLs() []string
	TrackerID(ctx context.Context, baseURL string) (string, error)
	ActiveSessions(ctx context.Context, baseURL string) ([]service.TrackerActiveSession, error)
}

// OrphanSweepJob closes authority-side sessions that their tracker no
// longer confirms as active. Trackers crash and restart with empty
// tables; without this sweep their sessions stay open forever.
//
// The sweep fetches every tracker's view first and reconciles after,
// so no database locks are held across a network round-trip.
type OrphanSweepJob struct {
	sessionRepo repository.SessionRepository
	trackers    TrackerFetcher
	grace       time.Duration
	interval    time.Duration
	done        chan struct{}
}

func NewOrphanSweepJob(
	sessionRepo repository.SessionRepository,
	trackers TrackerFetcher,
	grace time.Duration,
	interval time.Duration,
) *OrphanSweepJob {
	return &OrphanSweepJob{
		sessionRepo: sessionRepo,
		trackers:    trackers,
		grace:       grace,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *OrphanSweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("orphan sweep started")
}

func (j *OrphanSweepJob) Stop() {
	close(j.done)
	log.Info().Msg("orphan sweep stopped")
}

func (j *OrphanSweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep(context.Background())

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep(context.Background())
		}
	}
}

// Sweep runs one fetch-then-reconcile pass.
func (j *OrphanSweepJob) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	for _, baseURL := range j.trackers.BaseURLs() {
		trackerID, err := j.trackers.TrackerID(ctx, baseURL)
		if err != nil {
			// Unreachable tracker: leave its sessions alone, the next
			// pass will see it again.
			log.Warn().Err(err).Str("url", baseURL).Msg("tracker unreachable, skipping sweep")
			continue
		}

		confirmed, err := j.trackers.ActiveSessions(ctx, baseURL)
		if err != nil {
			log.Warn().Err(err).Str("trackerId", trackerID).Msg("failed to fetch tracker sessions")
			continue
		}

		j.reconcile(ctx, trackerID, confirmed)
	}
}

func (j *OrphanSweepJob) reconcile(ctx context.Context, trackerID string, confirmed []service.TrackerActiveSession) {
	confirmedIDs := make(map[string]bool, len(confirmed))
	for _, s := range confirmed {
		confirmedIDs[s.SessionID] = true
	}

	active, err := j.sessionRepo.ListActiveByTracker(ctx, trackerID)
	if err != nil {
		log.Error().Err(err).Str("trackerId", trackerID).Msg("failed to list active sessions")
		return
	}

	now := time.Now().UTC()
	closed := 0
	for _, session := range active {
		if confirmedIDs[session.ID] {
			continue
		}
		if now.Sub(session.LastActivity) < j.grace {
			// Recently touched: its closed event may still be in flight.
			continue
		}
		if err := j.closeOrphan(ctx, session, now); err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to close orphaned session")
			continue
		}
		closed++
	}

	if closed > 0 {
		log.Info().
			Str("trackerId", trackerID).
			Int("count", closed).
			Msg("closed orphaned sessions")
	}
}

func (j *OrphanSweepJob) closeOrphan(ctx context.Context, session model.FileSession, now time.Time) error {
	return j.sessionRepo.Close(ctx, session.ID, now, nil)
}
