// Package importer runs the import pipeline for academic years: fetch the
// feed, parse, group, optionally pre-merge intervals, reconcile, consolidate.
// It is the per-year boundary where every failure becomes part of a Report.
package importer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"attendcal/internal/config"
	"attendcal/internal/consolidate"
	"attendcal/internal/ics"
	"attendcal/internal/interval"
	appLog "attendcal/internal/log"
	"attendcal/internal/reconcile"
	"attendcal/internal/slot"
	"attendcal/internal/store"
)

// ErrUnknownYear is returned for a year without a configured link.
var ErrUnknownYear = errors.New("no link configured for year")

// FeedFetcher downloads one feed. *ics.Fetcher implements it.
type FeedFetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Service serializes runs of the same year and runs different years in
// parallel.
type Service struct {
	Store   store.SessionStore
	Roster  store.RosterProvider
	Fetcher FeedFetcher
	Parser  *ics.Parser
	Links   []config.LinkConfig

	// Parallelism bounds SyncAll. Values below 1 mean 1.
	Parallelism int
	// StrictPresentGuard is passed to the reconciliation engine.
	StrictPresentGuard bool
	Now                func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	reportsMu sync.RWMutex
	reports   map[string]*reconcile.Report
}

// New wires a Service from configuration.
func New(cfg *config.Config, st store.SessionStore, roster store.RosterProvider) *Service {
	loc := ics.ResolveLocation(cfg.Timezone, cfg.FallbackOffsetMinutes)
	return &Service{
		Store:   st,
		Roster:  roster,
		Fetcher: ics.NewFetcher(cfg.CacheDir, time.Duration(cfg.FetchTimeoutSeconds)*time.Second),
		Parser: ics.NewParser(loc, cfg.PersonalWorkMarkers, cfg.BoilerplatePrefixes,
			time.Duration(cfg.HorizonDays)*24*time.Hour),
		Links:              slices.Clone(cfg.Links),
		Parallelism:        cfg.Parallelism,
		StrictPresentGuard: !cfg.RecreateIgnoresPresent,
		Now:                time.Now,
	}
}

// Reconcile imports feed for year on the scheduled path.
func (s *Service) Reconcile(ctx context.Context, year string, feed []byte) *reconcile.Report {
	return s.run(ctx, year, reconcile.ModeScheduled, staticFeed(feed))
}

// ReconcileManual imports feed for year on the manual path, which merges
// overlapping and back-to-back slots of each day before reconciliation.
func (s *Service) ReconcileManual(ctx context.Context, year string, feed []byte) *reconcile.Report {
	return s.run(ctx, year, reconcile.ModeManual, staticFeed(feed))
}

// SyncLink fetches the link's feed and imports it with mode.
func (s *Service) SyncLink(ctx context.Context, link config.LinkConfig, mode string) *reconcile.Report {
	return s.run(ctx, link.Year, mode, func(ctx context.Context) ([]byte, error) {
		res, err := s.Fetcher.FetchOne(ctx, ics.Source{ID: link.Year, URL: link.URL})
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	})
}

// SyncYear syncs the configured link of year.
func (s *Service) SyncYear(ctx context.Context, year, mode string) (*reconcile.Report, error) {
	for _, l := range s.Links {
		if l.Year == year {
			return s.SyncLink(ctx, l, mode), nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownYear, year)
}

// SyncAll syncs every configured link on the scheduled path. A failing year
// does not affect the others. Once ctx is done no further year is started;
// a year already past its fetch runs to the end.
func (s *Service) SyncAll(ctx context.Context) []*reconcile.Report {
	var (
		mu      sync.Mutex
		reports []*reconcile.Report
		g       errgroup.Group
	)
	g.SetLimit(max(s.Parallelism, 1))

	for _, link := range s.Links {
		if ctx.Err() != nil {
			appLog.Warn("sync cancelled; remaining years skipped", "next_year", link.Year)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				appLog.Warn("sync cancelled; year skipped", "year", link.Year)
				return nil
			}
			rep := s.SyncLink(ctx, link, reconcile.ModeScheduled)
			mu.Lock()
			reports = append(reports, rep)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(reports, func(a, b *reconcile.Report) int { return cmp.Compare(a.Year, b.Year) })
	return reports
}

// LastReports returns the most recent report of each year, ordered by year.
func (s *Service) LastReports() []*reconcile.Report {
	s.reportsMu.RLock()
	defer s.reportsMu.RUnlock()

	out := make([]*reconcile.Report, 0, len(s.reports))
	for _, year := range slices.Sorted(maps.Keys(s.reports)) {
		out = append(out, s.reports[year])
	}
	return out
}

func staticFeed(feed []byte) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return feed, nil }
}

func (s *Service) run(ctx context.Context, year, mode string, load func(context.Context) ([]byte, error)) *reconcile.Report {
	unlock := s.lockYear(year)
	defer unlock()

	started := s.now()
	rep := s.pipeline(ctx, year, mode, load)
	rep.Year, rep.Mode, rep.StartedAt, rep.FinishedAt = year, mode, started, s.now()

	if rep.OK() {
		appLog.Info("import finished",
			"year", year, "mode", mode,
			"created", rep.Created, "deleted", rep.Deleted, "consolidated", rep.Consolidated,
			"duration", rep.FinishedAt.Sub(rep.StartedAt))
	} else {
		appLog.Error("import finished with errors", rep.Error(), "year", year, "mode", mode, "slot_errors", len(rep.Errors))
	}

	s.record(rep)
	return rep
}

func (s *Service) pipeline(ctx context.Context, year, mode string, load func(context.Context) ([]byte, error)) *reconcile.Report {
	body, err := load(ctx)
	if err != nil {
		return &reconcile.Report{Err: err}
	}
	events, err := s.Parser.Parse(ics.Source{ID: year}, body)
	if err != nil {
		return &reconcile.Report{Err: err}
	}

	var candidates iter.Seq[slot.Candidate] = slot.Candidates(slot.Group(events))
	if mode == reconcile.ModeManual {
		candidates = slices.Values(interval.Apply(slices.Collect(candidates)))
	}

	// Once the feed is in hand the year is applied in full, even if ctx ends.
	work := context.WithoutCancel(ctx)
	engine := &reconcile.Engine{
		Store:              s.Store,
		Roster:             s.Roster,
		Now:                s.Now,
		Location:           s.Parser.Location,
		StrictPresentGuard: s.StrictPresentGuard,
	}
	rep := engine.Reconcile(work, year, candidates)

	res, err := consolidate.MergeSameSessions(work, s.Store, year)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Consolidated = res.Merged
	return rep
}

func (s *Service) lockYear(year string) func() {
	s.locksMu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	mu, ok := s.locks[year]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[year] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) record(rep *reconcile.Report) {
	s.reportsMu.Lock()
	defer s.reportsMu.Unlock()
	if s.reports == nil {
		s.reports = make(map[string]*reconcile.Report)
	}
	s.reports[rep.Year] = rep
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
