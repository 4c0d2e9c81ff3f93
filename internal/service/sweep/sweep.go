// Package sweep runs periodic housekeeping: purging sessions past their
// deadline and an optional keepalive ping of the public health endpoint.
package sweep

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSweepSchedule     = "@every 1m"
	DefaultKeepAliveSchedule = "@every 14m"
	jobTimeout               = 30 * time.Second
)

// Purger removes sessions whose deadline passed.
type Purger interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Options configures the scheduler. Empty schedules disable a job.
type Options struct {
	SweepSchedule     string
	KeepAliveSchedule string
	KeepAliveURL      string
	HTTPClient        *http.Client
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	purger Purger
	opts   Options
}

// New parses the schedules and registers the jobs. Call Start to run them.
func New(purger Purger, opts Options) (*Scheduler, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		purger: purger,
		opts:   opts,
	}

	if opts.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(opts.SweepSchedule, s.RunSweep); err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", opts.SweepSchedule, err)
		}
	}
	if opts.KeepAliveSchedule != "" && opts.KeepAliveURL != "" {
		if _, err := s.cron.AddFunc(opts.KeepAliveSchedule, s.RunKeepAlive); err != nil {
			return nil, fmt.Errorf("invalid keepalive schedule %q: %w", opts.KeepAliveSchedule, err)
		}
	}
	return s, nil
}

// Jobs returns how many jobs are registered.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", s.Jobs()).Msg("housekeeping scheduler started")
}

// Stop stops scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("housekeeping jobs still running at shutdown")
	}
}

// RunSweep purges expired sessions once.
func (s *Scheduler) RunSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.purger.SweepExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("purged", n).Msg("expiry sweep finished")
	}
}

// RunKeepAlive issues one GET to the keepalive URL.
func (s *Scheduler) RunKeepAlive() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.KeepAliveURL, nil)
	if err != nil {
		log.Error().Err(err).Msg("keepalive request build failed")
		return
	}
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", s.opts.KeepAliveURL).Msg("keepalive ping failed")
		return
	}
	_ = resp.Body.Close()
	log.Debug().Int("status", resp.StatusCode).Str("url", s.opts.KeepAliveURL).Msg("keepalive ping")
}
