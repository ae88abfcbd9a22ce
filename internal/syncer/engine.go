package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/briefcast-io/calsync/internal/core/storage"
	"github.com/briefcast-io/calsync/internal/provider"
	"github.com/briefcast-io/calsync/internal/token"
	"github.com/google/uuid"
)

const (
	defaultMonthsBack             = 3
	defaultMonthsForward          = 1
	defaultMaxConsecutiveFailures = 3
	defaultListMaxAttempts        = 3
	defaultListRetryBase          = 500 * time.Millisecond
)

// Options tune one engine instance. Zero values select the defaults.
type Options struct {
	MonthsBack             int
	MonthsForward          int
	MaxConsecutiveFailures int
	ListMaxAttempts        int
	ListRetryBase          time.Duration
}

func (o Options) normalized() Options {
	n := o
	if n.MonthsBack <= 0 {
		n.MonthsBack = defaultMonthsBack
	}
	if n.MonthsForward <= 0 {
		n.MonthsForward = defaultMonthsForward
	}
	if n.MaxConsecutiveFailures <= 0 {
		n.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	if n.ListMaxAttempts <= 0 {
		n.ListMaxAttempts = defaultListMaxAttempts
	}
	if n.ListRetryBase <= 0 {
		n.ListRetryBase = defaultListRetryBase
	}
	return n
}

// Engine runs incremental syncs. Each run is a per-connection state machine:
// the storage-level lease is acquired synchronously, then the window walk
// runs in its own goroutine and reports through the progress log.
type Engine struct {
	store      storage.Store
	provider   provider.CalendarProvider
	tokens     *token.Manager
	classifier Classifier
	opts       Options
	now        func() time.Time

	// wg tracks in-flight sync goroutines so shutdown can wait for them.
	wg sync.WaitGroup
}

func NewEngine(store storage.Store, p provider.CalendarProvider, tokens *token.Manager, classifier Classifier, opts Options) *Engine {
	return &Engine{
		store:      store,
		provider:   p,
		tokens:     tokens,
		classifier: classifier,
		opts:       opts.normalized(),
		now:        time.Now,
	}
}

// StartSync acquires the sync lease for the connection and launches the run
// in the background. It returns storage.ErrSyncInProgress when another run
// holds the lease and storage.ErrNotFound for a missing connection; both are
// decided before any provider traffic.
//
// When start/end are zero the rolling default range applies.
func (e *Engine) StartSync(ctx context.Context, connectionID uuid.UUID, start, end time.Time) error {
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	if start.IsZero() || end.IsZero() {
		start, end = DefaultRange(e.now(), e.opts.MonthsBack, e.opts.MonthsForward)
	}
	windows := MonthWindows(start, end)
	if len(windows) == 0 {
		return fmt.Errorf("sync range is empty: start %s, end %s", start, end)
	}

	if err := e.store.AcquireSyncLease(ctx, connectionID, e.now().UTC()); err != nil {
		return err
	}

	slog.Info("[Syncer] Sync started",
		"connection_id", connectionID,
		"windows", len(windows),
		"range_start", windows[0].Start,
		"range_end", windows[len(windows)-1].End)

	// The run outlives the triggering request; only process shutdown or the
	// lease reconciler stops it.
	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(runCtx, conn, windows)
	}()
	return nil
}

// Wait blocks until all in-flight syncs finish. Called during shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// run walks the windows sequentially, oldest first. A single failed window is
// reported and skipped; a streak of MaxConsecutiveFailures aborts the run.
// The lease is released on every terminal path.
func (e *Engine) run(ctx context.Context, conn *v1.CalendarConnection, windows []provider.Window) {
	var (
		failed       bool
		failureMsg   string
		windowErrors int
		consecutive  int
	)

	for _, w := range windows {
		// No mid-window cancellation: each window runs to completion or
		// failure, cancellation is observed only between windows.
		if err := ctx.Err(); err != nil {
			failed = true
			failureMsg = "sync interrupted by shutdown"
			break
		}

		e.emit(ctx, conn.ID, &v1.SyncProgressEvent{
			Type:  v1.ProgressMonthStarted,
			Month: w.Label(),
		})

		total, relevant, err := e.syncWindow(ctx, conn, w)
		if err != nil {
			windowErrors++
			consecutive++
			slog.Warn("[Syncer] Window failed",
				"connection_id", conn.ID,
				"month", w.Label(),
				"consecutive_failures", consecutive,
				"error", err)
			e.emit(ctx, conn.ID, &v1.SyncProgressEvent{
				Type:    v1.ProgressError,
				Month:   w.Label(),
				Message: err.Error(),
			})

			if errors.Is(err, token.ErrReauthorizationRequired) {
				failed = true
				failureMsg = "connection requires reauthorization"
				break
			}
			if consecutive >= e.opts.MaxConsecutiveFailures {
				failed = true
				failureMsg = fmt.Sprintf("aborted after %d consecutive window failures", consecutive)
				break
			}
			continue
		}

		consecutive = 0
		e.emit(ctx, conn.ID, &v1.SyncProgressEvent{
			Type:                  v1.ProgressMonthCompleted,
			Month:                 w.Label(),
			TotalEventsProcessed:  total,
			RelevantMeetingsCount: relevant,
			FoundAnalystMeetings:  relevant > 0,
		})
	}

	finishedAt := e.now().UTC()
	if err := e.store.ReleaseSyncLease(ctx, conn.ID, !failed, finishedAt); err != nil {
		slog.Error("[Syncer] Failed to release sync lease",
			"connection_id", conn.ID,
			"error", err)
	}

	if failed {
		e.emit(ctx, conn.ID, &v1.SyncProgressEvent{
			Type:    v1.ProgressError,
			Message: failureMsg,
		})
		slog.Warn("[Syncer] Sync failed", "connection_id", conn.ID, "reason", failureMsg)
		return
	}

	msg := ""
	if windowErrors > 0 {
		msg = fmt.Sprintf("completed with %d failed window(s)", windowErrors)
	}
	e.emit(ctx, conn.ID, &v1.SyncProgressEvent{
		Type:    v1.ProgressDone,
		Message: msg,
	})
	slog.Info("[Syncer] Sync completed",
		"connection_id", conn.ID,
		"failed_windows", windowErrors)
}

// syncWindow fetches, classifies and upserts one window's events. Counters
// reflect this run only.
func (e *Engine) syncWindow(ctx context.Context, conn *v1.CalendarConnection, w provider.Window) (total, relevant int, err error) {
	accessToken, err := e.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return 0, 0, err
	}

	events, err := e.listWithRetry(ctx, accessToken, conn.CalendarID, w)
	if err != nil {
		return 0, 0, err
	}

	now := e.now().UTC()
	for _, ev := range events {
		total++
		cls := e.classifier.Classify(ev)
		if !cls.Relevant {
			continue
		}

		meeting := &v1.CalendarMeeting{
			ID:              uuid.New(),
			ConnectionID:    conn.ID,
			ProviderEventID: ev.ID,
			Summary:         ev.Summary,
			StartTime:       ev.Start,
			EndTime:         ev.End,
			Attendees:       ev.Attendees,
			IsRelevant:      true,
			MatchedEmails:   cls.MatchedEmails,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.store.UpsertMeeting(ctx, meeting); err != nil {
			return total, relevant, fmt.Errorf("failed to persist meeting %s: %w", ev.ID, err)
		}
		relevant++
	}

	return total, relevant, nil
}

// listWithRetry retries transient provider failures with bounded exponential
// backoff. Anything else surfaces immediately.
func (e *Engine) listWithRetry(ctx context.Context, accessToken, calendarID string, w provider.Window) ([]*provider.Event, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.ListMaxAttempts; attempt++ {
		events, err := e.provider.ListEvents(ctx, accessToken, calendarID, w)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if !errors.Is(err, provider.ErrTransient) {
			return nil, err
		}
		if attempt == e.opts.ListMaxAttempts {
			break
		}

		delay := e.opts.ListRetryBase << (attempt - 1)
		slog.Warn("[Syncer] Transient list failure, backing off",
			"month", w.Label(),
			"attempt", attempt,
			"delay", delay,
			"error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("window fetch cancelled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("events list failed after %d attempt(s): %w", e.opts.ListMaxAttempts, lastErr)
}

// emit appends a progress event. Append failures are logged, not fatal: the
// sync itself is further along than its log, which beats the reverse.
func (e *Engine) emit(ctx context.Context, connectionID uuid.UUID, ev *v1.SyncProgressEvent) {
	ev.ConnectionID = connectionID
	ev.CreatedAt = e.now().UTC()
	if err := e.store.AppendProgress(ctx, ev); err != nil {
		slog.Error("[Syncer] Failed to append progress event",
			"connection_id", connectionID,
			"type", ev.Type,
			"error", err)
	}
}
