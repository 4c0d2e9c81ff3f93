package sweep

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	calls atomic.Int32
	err   error
}

func (f *fakePurger) SweepExpired(context.Context) (int, error) {
	f.calls.Add(1)
	return 2, f.err
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(&fakePurger{}, Options{
		SweepSchedule:     DefaultSweepSchedule,
		KeepAliveSchedule: DefaultKeepAliveSchedule,
		KeepAliveURL:      "http://localhost/api/health",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Jobs())

	s, err = New(&fakePurger{}, Options{SweepSchedule: DefaultSweepSchedule, KeepAliveSchedule: DefaultKeepAliveSchedule})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Jobs(), "keepalive needs a url")
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&fakePurger{}, Options{SweepSchedule: "every now and then"})
	assert.Error(t, err)
}

func TestRunSweep(t *testing.T) {
	p := &fakePurger{}
	s, err := New(p, Options{})
	require.NoError(t, err)

	s.RunSweep()
	p.err = errors.New("boom")
	s.RunSweep()
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestRunKeepAlive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := New(&fakePurger{}, Options{KeepAliveURL: srv.URL + "/api/health", KeepAliveSchedule: "@every 1h"})
	require.NoError(t, err)
	s.RunKeepAlive()
	assert.Equal(t, int32(1), hits.Load())
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakePurger{}, Options{SweepSchedule: "@every 1h"})
	require.NoError(t, err)
	s.Start()
	s.Stop(context.Background())
}
