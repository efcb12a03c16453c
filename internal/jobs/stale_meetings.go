package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pactumai/pactum/internal/eventlog"
	"github.com/pactumai/pactum/internal/store"
)

// MeetingStore is the persistence the sweeper needs.
type MeetingStore interface {
	ListStaleActiveMeetings(ctx context.Context, cutoff time.Time, limit int) ([]store.StaleMeeting, error)
	CancelActiveMeeting(ctx context.Context, meetingID string, endedAt time.Time) (bool, error)
}

type EventRecorder interface {
	LogAsync(meetingID string, eventType eventlog.EventType, data map[string]any)
}

type SweepNotifier interface {
	NotifyMeetingsSwept(ctx context.Context, count int)
}

// StaleMeetingConfig configures the sweeper.
type StaleMeetingConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
	Batch    int
	// IsLive reports whether the server still holds a session for a meeting.
	IsLive   func(meetingID string) bool
	Recorder EventRecorder
	Notifier SweepNotifier
}

// StaleMeetingJob cancels meetings left "active" after their call went away,
// e.g. when the browser closed without hanging up or the server restarted.
// It runs on a configurable interval (default: 5 minutes).
type StaleMeetingJob struct {
	store  MeetingStore
	cfg    StaleMeetingConfig
	logger *log.Logger
	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStaleMeetingJob creates a new stale meeting sweeper.
func NewStaleMeetingJob(s MeetingStore, logger *log.Logger, cfg StaleMeetingConfig) *StaleMeetingJob {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 3 * time.Hour
	}
	if cfg.Batch == 0 {
		cfg.Batch = 100
	}
	return &StaleMeetingJob{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the background job.
func (j *StaleMeetingJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("StaleMeetingJob: started (interval=%v, max_age=%v)", j.cfg.Interval, j.cfg.MaxAge)
}

// Stop gracefully stops the background job.
func (j *StaleMeetingJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Println("StaleMeetingJob: stopped")
}

func (j *StaleMeetingJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.Sweep(context.Background())

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

// Sweep cancels one batch of stale meetings and returns how many it cancelled.
func (j *StaleMeetingJob) Sweep(ctx context.Context) int {
	now := j.now()
	meetings, err := j.store.ListStaleActiveMeetings(ctx, now.Add(-j.cfg.MaxAge), j.cfg.Batch)
	if err != nil {
		j.logger.Printf("StaleMeetingJob: failed to list stale meetings: %v", err)
		return 0
	}

	cancelled := 0
	for _, m := range meetings {
		if j.cfg.IsLive != nil && j.cfg.IsLive(m.ID) {
			continue
		}
		ok, err := j.store.CancelActiveMeeting(ctx, m.ID, now)
		if err != nil {
			j.logger.Printf("StaleMeetingJob: failed to cancel meeting %s: %v", m.ID, err)
			continue
		}
		if !ok {
			continue
		}
		cancelled++
		j.logger.Printf("StaleMeetingJob: cancelled meeting %s (user=%s)", m.ID, m.UserID)
		if j.cfg.Recorder != nil {
			data := map[string]any{"reason": "stale"}
			if m.StartedAt != nil {
				data["started_at"] = m.StartedAt.UTC().Format(time.RFC3339)
			}
			j.cfg.Recorder.LogAsync(m.ID, eventlog.EventMeetingSwept, data)
		}
	}

	if cancelled > 0 && j.cfg.Notifier != nil {
		j.cfg.Notifier.NotifyMeetingsSwept(ctx, cancelled)
	}
	return cancelled
}
