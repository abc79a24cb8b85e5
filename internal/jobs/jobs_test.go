package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finopsmind/billing/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterValidatesSchedule(t *testing.T) {
	s := NewScheduler(testLogger(), time.Minute)
	noop := func(context.Context) error { return nil }

	if err := s.Register("ok", "*/5 * * * *", noop); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	if err := s.Register("bad", "every five minutes", noop); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
	if err := s.Register("ok", "@hourly", noop); err == nil {
		t.Fatal("expected an error for a duplicate name")
	}
	if err := s.Register("manual", "", noop); err != nil {
		t.Fatalf("manual job rejected: %v", err)
	}

	names := []string{}
	for _, j := range s.ListJobs() {
		names = append(names, j.Name)
	}
	if len(names) != 2 || names[0] != "manual" || names[1] != "ok" {
		t.Fatalf("jobs = %v", names)
	}
}

func TestRunNowAndStop(t *testing.T) {
	s := NewScheduler(testLogger(), time.Minute)
	started := make(chan struct{})
	var cancelled atomic.Bool
	err := s.Register("slow", "", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	if err := s.RunNow("missing"); err == nil {
		t.Fatal("expected an error for an unknown job")
	}
	if err := s.RunNow("slow"); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !cancelled.Load() {
		t.Fatal("running job was not cancelled on stop")
	}
}

type fakeIngester struct {
	runs atomic.Int32
	err  error
}

func (f *fakeIngester) Run(context.Context) (service.IngestResult, error) {
	f.runs.Add(1)
	return service.IngestResult{Source: "fake", Records: 3}, f.err
}

type fakeFunds struct{ runs atomic.Int32 }

func (f *fakeFunds) Check(context.Context) (service.FundCheckResult, error) {
	f.runs.Add(1)
	return service.FundCheckResult{Checked: 4}, nil
}

type fakeCache struct{ sweeps atomic.Int32 }

func (f *fakeCache) SweepCache() int {
	f.sweeps.Add(1)
	return 2
}

func TestBillingJobs(t *testing.T) {
	ing, funds, cache := &fakeIngester{}, &fakeFunds{}, &fakeCache{}
	b := NewBillingJobs(ing, funds, cache, testLogger())
	s := NewScheduler(testLogger(), time.Minute)
	if err := b.Register(s, Schedules{Ingest: "0 */6 * * *", FundCheck: "0 * * * *"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := len(s.ListJobs()); got != 3 {
		t.Fatalf("expected 3 jobs, got %d", got)
	}

	ctx := context.Background()
	if err := b.Ingest(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.CheckFunds(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.SweepCache(ctx); err != nil {
		t.Fatal(err)
	}
	if ing.runs.Load() != 1 || funds.runs.Load() != 1 || cache.sweeps.Load() != 1 {
		t.Fatal("a job did not reach its service")
	}

	ing.err = errors.New("ingestion already running")
	if err := b.Ingest(ctx); err == nil {
		t.Fatal("expected the ingestion error to surface")
	}
}

func TestBillingJobsSkipsMissingServices(t *testing.T) {
	s := NewScheduler(testLogger(), time.Minute)
	if err := NewBillingJobs(nil, nil, &fakeCache{}, testLogger()).Register(s, Schedules{CacheSweep: "*/10 * * * *"}); err != nil {
		t.Fatal(err)
	}
	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != JobCacheSweep {
		t.Fatalf("unexpected jobs: %v", jobs)
	}
}
