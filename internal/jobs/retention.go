package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/editwatch/session-server-go/internal/repository"
)

// RetentionJob prunes old audit events and retired sessions past the
// configured horizons. Commented sessions are never pruned.
type RetentionJob struct {
	sessionRepo      repository.SessionRepository
	eventRepo        repository.EventRepository
	eventRetention   time.Duration
	sessionRetention time.Duration
	interval         time.Duration
	done             chan struct{}
}

func NewRetentionJob(
	sessionRepo repository.SessionRepository,
	eventRepo repository.EventRepository,
	eventRetention time.Duration,
	sessionRetention time.Duration,
	interval time.Duration,
) *RetentionJob {
	return &RetentionJob{
		sessionRepo:      sessionRepo,
		eventRepo:        eventRepo,
		eventRetention:   eventRetention,
		sessionRetention: sessionRetention,
		interval:         interval,
		done:             make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.prune()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *RetentionJob) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()

	// Sessions first: their event rows go with them, which keeps the
	// later event prune from orphaning anything.
	j.runPrune(ctx, "retired sessions", func(ctx context.Context) (int64, error) {
		return j.sessionRepo.DeleteUncommentedEndedBefore(ctx, now.Add(-j.sessionRetention))
	})
	j.runPrune(ctx, "audit events", func(ctx context.Context) (int64, error) {
		return j.eventRepo.DeleteBefore(ctx, now.Add(-j.eventRetention))
	})
}

func (j *RetentionJob) runPrune(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to prune %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("pruned %s", name)
	}
}
