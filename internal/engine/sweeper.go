package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"opsline/internal/domain"
)

// SweepAtRisk moves scheduled meetings starting within window of now that
// still lack confirmations to at_risk. Meetings already at_risk are left
// alone, so repeated sweeps are harmless. It returns how many moved.
func (e Engine) SweepAtRisk(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	ids, err := e.Repo.ScheduledMeetingsBefore(ctx, now.Add(window))
	if err != nil {
		return 0, fmt.Errorf("list sweep candidates: %w", err)
	}
	var (
		moved int
		errs  []error
	)
	for _, id := range ids {
		ok, err := e.markAtRisk(ctx, id, now, window)
		if err != nil {
			errs = append(errs, fmt.Errorf("meeting %s: %w", id, err))
			continue
		}
		if ok {
			moved++
		}
	}
	return moved, errors.Join(errs...)
}

func (e Engine) markAtRisk(ctx context.Context, meetingID string, now time.Time, window time.Duration) (bool, error) {
	unlock := e.lock("meeting", meetingID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// Re-check under the lock: a confirmation may have landed since listing.
	m, err := e.Repo.GetMeetingTx(ctx, tx, meetingID)
	if err != nil {
		return false, notFound(err, "meeting", meetingID)
	}
	if m.Status != domain.MeetingScheduled || m.FullyConfirmed() || m.Date.Sub(now) >= window {
		return false, nil
	}
	prev := m.Status
	m.Status = domain.MeetingAtRisk
	m.UpdatedAt = e.now()
	if err := e.Repo.UpdateMeeting(ctx, tx, m); err != nil {
		return false, err
	}
	evt, err := e.meetingStatusChanged(ctx, tx, m, prev, "")
	if err != nil {
		return false, err
	}
	if err := e.commit(tx, evt); err != nil {
		return false, err
	}
	return true, nil
}

// RunSweeper calls SweepAtRisk every interval until ctx is done.
func (e Engine) RunSweeper(ctx context.Context, interval, window time.Duration) error {
	if interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	log := e.Log.With().Str("loop", "sweeper").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		moved, err := e.SweepAtRisk(ctx, e.now(), window)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("sweep failed")
		}
		if moved > 0 {
			log.Info().Int("moved", moved).Msg("meetings marked at risk")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
