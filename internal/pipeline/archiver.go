// Package pipeline holds background jobs that run beside the decision loop.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

// Archiver moves settled positions, stale opportunities, and old fills from
// the database to object-storage cold files.
type Archiver struct {
	blob          domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates an Archiver that keeps retentionDays of history hot.
func NewArchiver(blob domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass with a cutoff retentionDays in the past.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "archive pass starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	positions, err := a.blob.ArchivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive positions before %v: %w", cutoff, err)
	}

	opportunities, err := a.blob.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive opportunities before %v: %w", cutoff, err)
	}

	fills, err := a.blob.ArchiveFills(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive fills before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("positions", positions),
		slog.Int64("opportunities", opportunities),
		slog.Int64("fills", fills),
	)
	return nil
}

// RunCron runs archive passes on a 5-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is canceled.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	a.logger.Info("archiver scheduled", slog.String("cron", expr))

	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField matches a single time component. A nil value set is a wildcard.
type cronField struct {
	values map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.values == nil || f.values[v]
}

type cronSchedule struct {
	fields [5]cronField // minute, hour, day-of-month, month, day-of-week
}

func (s cronSchedule) matches(t time.Time) bool {
	return s.fields[0].matches(t.Minute()) &&
		s.fields[1].matches(t.Hour()) &&
		s.fields[2].matches(t.Day()) &&
		s.fields[3].matches(int(t.Month())) &&
		s.fields[4].matches(int(t.Weekday()))
}

// next finds the first minute after t matching the schedule, searching at
// most a year ahead.
func (s cronSchedule) next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within a year")
}

func parseCron(expr string) (cronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return cronSchedule{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(parts))
	}

	var sched cronSchedule
	for i, part := range parts {
		field, err := parseCronField(part)
		if err != nil {
			return cronSchedule{}, fmt.Errorf("cron %q field %d: %w", expr, i+1, err)
		}
		sched.fields[i] = field
	}
	return sched, nil
}

// parseCronField accepts "*", single values, and comma lists ("0,30").
func parseCronField(part string) (cronField, error) {
	if part == "*" {
		return cronField{}, nil
	}
	values := make(map[int]bool)
	for _, raw := range strings.Split(part, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return cronField{}, fmt.Errorf("bad value %q", raw)
		}
		values[v] = true
	}
	return cronField{values: values}, nil
}
