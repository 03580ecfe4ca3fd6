// Package janitor removes upload temp files left behind by crashed or
// abandoned uploads.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/metrics"
	"github.com/fruitsalade/rootshare/internal/storage/local"
)

// Config controls the sweep schedule.
type Config struct {
	Schedule string        // cron spec, e.g. "@every 1h"
	MaxAge   time.Duration // temp files older than this are removed
}

// Janitor sweeps a root directory for stale upload temp files.
type Janitor struct {
	root string
	cfg  Config
}

// New creates a janitor for the directory root.
func New(root string, cfg Config) (*Janitor, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("janitor max age must be positive, got %s", cfg.MaxAge)
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", cfg.Schedule, err)
	}
	return &Janitor{root: root, cfg: cfg}, nil
}

// Run sweeps once immediately and then on schedule until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(j.cfg.Schedule, func() { j.sweepAndLog(ctx) }); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	logging.Info("janitor scheduled",
		zap.String("schedule", j.cfg.Schedule),
		zap.Duration("max_age", j.cfg.MaxAge))

	go j.sweepAndLog(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (j *Janitor) sweepAndLog(ctx context.Context) {
	removed, err := j.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		logging.Warn("janitor sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		logging.Info("janitor removed stale uploads", zap.Int("count", removed))
	}
}

// Sweep removes every upload temp file under the root whose modification
// time is older than MaxAge. It returns the number of files removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	cutoff := start.Add(-j.cfg.MaxAge)

	var (
		mu      sync.Mutex
		removed int
		errs    []error
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, j.root, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || !d.Type().IsRegular() || !local.IsTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			return nil
		}
		mu.Lock()
		removed++
		mu.Unlock()
		return nil
	})

	metrics.RecordJanitorSweep(removed, time.Since(start))
	if err != nil {
		return removed, fmt.Errorf("walk %s: %w", j.root, err)
	}
	return removed, errors.Join(errs...)
}
