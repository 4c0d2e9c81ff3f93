// Package poller runs the creator-side status polling loop: one cancellable
// task per session that stops as soon as the session has a result or ends.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/pkg/api"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/client"
)

// Default cadence.
const (
	DefaultFirstDelay         = 1 * time.Second
	DefaultInterval           = 5 * time.Second
	DefaultBackgroundInterval = 10 * time.Second
)

// StatusFetcher reads a session's status. *client.Client satisfies it.
type StatusFetcher interface {
	Status(ctx context.Context, sessionID string) (api.StatusResponse, error)
}

// Handlers receive task outcomes. They run on the task's goroutine.
type Handlers struct {
	// OnReady fires once when uploads appear or the status is completed.
	OnReady func(sessionID string, status api.StatusResponse)
	// OnExpired fires once when the session expired or is unknown.
	OnExpired func(sessionID string)
	// OnError sees transient failures; polling continues.
	OnError func(sessionID string, err error)
}

// Options tunes the cadence. Zero values use the defaults.
type Options struct {
	FirstDelay         time.Duration
	Interval           time.Duration
	BackgroundInterval time.Duration
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller owns the polling tasks.
type Poller struct {
	fetcher  StatusFetcher
	handlers Handlers
	opts     Options

	background atomic.Bool

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

// New creates a poller.
func New(fetcher StatusFetcher, handlers Handlers, opts Options) *Poller {
	if opts.FirstDelay <= 0 {
		opts.FirstDelay = DefaultFirstDelay
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BackgroundInterval <= 0 {
		opts.BackgroundInterval = DefaultBackgroundInterval
	}
	return &Poller{
		fetcher:  fetcher,
		handlers: handlers,
		opts:     opts,
		tasks:    make(map[string]*task),
	}
}

// Start begins polling sessionID, replacing any task already running for
// it. The returned channel closes when the task ends.
func (p *Poller) Start(ctx context.Context, sessionID string) <-chan struct{} {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	if old, ok := p.tasks[sessionID]; ok {
		old.cancel()
	}
	p.tasks[sessionID] = t
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(taskCtx, sessionID, t)
	return t.done
}

// Cancel stops the task for sessionID and reports whether one was running.
func (p *Poller) Cancel(sessionID string) bool {
	p.mu.Lock()
	t, ok := p.tasks[sessionID]
	if ok {
		delete(p.tasks, sessionID)
	}
	p.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Active reports whether a task is running for sessionID.
func (p *Poller) Active(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[sessionID]
	return ok
}

// SetBackground switches every task to the slower cadence, or back.
func (p *Poller) SetBackground(background bool) {
	p.background.Store(background)
}

// Stop cancels every task and waits for them to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	for id, t := range p.tasks {
		t.cancel()
		delete(p.tasks, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) interval() time.Duration {
	if p.background.Load() {
		return p.opts.BackgroundInterval
	}
	return p.opts.Interval
}

func (p *Poller) run(ctx context.Context, sessionID string, t *task) {
	defer p.wg.Done()
	defer close(t.done)
	defer p.forget(sessionID, t)
	defer t.cancel()

	logger := log.With().Str("session_id", sessionID).Logger()
	timer := time.NewTimer(p.opts.FirstDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		status, err := p.fetcher.Status(ctx, sessionID)
		switch {
		case err != nil && (client.IsNotFound(err) || client.IsExpired(err)):
			logger.Info().Msg("session gone, polling stopped")
			p.expired(sessionID)
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("status poll failed")
			if p.handlers.OnError != nil {
				p.handlers.OnError(sessionID, err)
			}
		case status.Expired():
			logger.Info().Msg("session expired, polling stopped")
			p.expired(sessionID)
			return
		case status.Done():
			logger.Info().Int("uploads", len(status.Uploads)).Msg("session ready")
			if p.handlers.OnReady != nil {
				p.handlers.OnReady(sessionID, status)
			}
			return
		}

		timer.Reset(p.interval())
	}
}

func (p *Poller) expired(sessionID string) {
	if p.handlers.OnExpired != nil {
		p.handlers.OnExpired(sessionID)
	}
}

// forget drops t from the task map unless it was already replaced.
func (p *Poller) forget(sessionID string, t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.tasks[sessionID]; ok && cur == t {
		delete(p.tasks, sessionID)
	}
}
