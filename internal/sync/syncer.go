// Package sync pulls activities from the remote provider into local storage
// and lazily enriches stored rides with full detail and streams.
package sync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/strava"
)

// API is the slice of the remote client the syncer needs.
type API interface {
	ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]strava.ActivitySummary, error)
	GetActivity(ctx context.Context, accessToken string, id int64) (*strava.ActivitySummary, error)
	GetActivityStreams(ctx context.Context, accessToken string, id int64, keys []string) (strava.StreamSet, error)
}

// Tokens supplies a valid access token, refreshing it just in time.
type Tokens interface {
	RefreshIfExpired(ctx context.Context, now time.Time) error
	AccessToken(ctx context.Context) (string, error)
}

// Config bounds one sync run.
type Config struct {
	SportType   string
	MaxPages    int
	PageSize    int
	Concurrency int
}

// Result summarises one sync run.
type Result struct {
	PagesFetched int
	PagesFailed  int
	Fetched      int
	Inserted     int
	Skipped      int
}

// Option configures optional behaviour for the Syncer.
type Option func(*Syncer)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithNotifier registers a callback invoked after a run that inserted at
// least one activity.
func WithNotifier(notify func()) Option {
	return func(s *Syncer) {
		s.notify = notify
	}
}

// Syncer fetches paginated activity listings concurrently, filters them down
// to the configured sport, deduplicates against local storage and batch
// inserts the remainder.
type Syncer struct {
	api    API
	tokens Tokens
	repo   domain.ActivityRepository
	cfg    Config
	logger *log.Logger
	notify func()
}

// NewSyncer constructs a Syncer.
func NewSyncer(api API, tokens Tokens, repo domain.ActivityRepository, cfg Config, opts ...Option) *Syncer {
	s := &Syncer{
		api:    api,
		tokens: tokens,
		repo:   repo,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[sync] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncAll runs one full sync pass. All result pages are requested with
// bounded concurrency and the run only proceeds to persistence once every
// page has settled. A failed page is logged and skipped; the run fails only
// when no page could be fetched at all.
func (s *Syncer) SyncAll(ctx context.Context) (Result, error) {
	if err := s.tokens.RefreshIfExpired(ctx, time.Now()); err != nil {
		if !domain.IsRetryable(err) {
			return Result{}, fmt.Errorf("refresh credential: %w", err)
		}
		s.logger.Printf("refresh failed, trying sync with held token: %v", err)
	}

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return Result{}, err
	}

	pages := make([][]strava.ActivitySummary, s.cfg.MaxPages)
	pageErrs := make([]error, s.cfg.MaxPages)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)
	for i := 0; i < s.cfg.MaxPages; i++ {
		page := i
		group.Go(func() error {
			listed, listErr := s.api.ListActivities(groupCtx, token, page+1, s.cfg.PageSize)
			if listErr != nil {
				s.logger.Printf("page %d failed: %v", page+1, listErr)
				pageErrs[page] = listErr
				return nil
			}
			pages[page] = listed
			observePage()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, err
	}

	var result Result
	for i := range pages {
		if pageErrs[i] != nil {
			result.PagesFailed++
			continue
		}
		result.PagesFetched++
	}
	if result.PagesFetched == 0 && result.PagesFailed > 0 {
		return result, fmt.Errorf("list activities: all %d pages failed: %w", result.PagesFailed, pageErrs[0])
	}

	batch, skipped, err := s.collect(ctx, pages, &result)
	if err != nil {
		return result, err
	}
	result.Skipped = skipped

	if len(batch) == 0 {
		s.logger.Printf("sync complete: nothing new (%d fetched, %d skipped)", result.Fetched, result.Skipped)
		return result, nil
	}

	ids, err := s.repo.CreateBatch(ctx, batch)
	if err != nil {
		return result, fmt.Errorf("persist batch: %w", err)
	}
	result.Inserted = len(ids)
	observeInserted(len(ids))

	s.logger.Printf("sync complete: %d inserted, %d skipped, %d/%d pages",
		result.Inserted, result.Skipped, result.PagesFetched, s.cfg.MaxPages)
	if s.notify != nil {
		s.notify()
	}
	return result, nil
}

// collect flattens the fetched pages in page order, keeps only the configured
// sport and drops records already stored under the same external id.
func (s *Syncer) collect(ctx context.Context, pages [][]strava.ActivitySummary, result *Result) ([]domain.NewActivity, int, error) {
	var batch []domain.NewActivity
	skipped := 0
	seen := make(map[int64]struct{})

	for _, page := range pages {
		for _, upstream := range page {
			result.Fetched++
			if upstream.Type != s.cfg.SportType {
				skipped++
				continue
			}
			if _, dup := seen[upstream.ID]; dup {
				skipped++
				continue
			}
			seen[upstream.ID] = struct{}{}

			existing, err := s.repo.GetByExternalID(ctx, strconv.FormatInt(upstream.ID, 10))
			if err != nil {
				return nil, 0, fmt.Errorf("dedup lookup %d: %w", upstream.ID, err)
			}
			if existing != nil {
				skipped++
				continue
			}

			item, err := normalize(upstream)
			if err != nil {
				s.logger.Printf("skipping malformed activity %d: %v", upstream.ID, err)
				skipped++
				continue
			}
			batch = append(batch, item)
		}
	}
	return batch, skipped, nil
}

// Enrich fetches the full detail and sample streams for one stored activity.
// Enrichment happens at most once: an activity already marked as fully
// fetched is returned as-is.
func (s *Syncer) Enrich(ctx context.Context, id int64) (*domain.Activity, error) {
	activity, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, domain.ErrActivityNotFound
	}
	if activity.FullDetailFetched || activity.ExternalID == "" {
		return activity, nil
	}

	externalID, err := strconv.ParseInt(activity.ExternalID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse external id %q: %w", activity.ExternalID, err)
	}

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	detail, err := s.api.GetActivity(ctx, token, externalID)
	if err != nil {
		return nil, fmt.Errorf("fetch detail %d: %w", externalID, err)
	}

	activity.Description = detail.Description
	activity.Calories = detail.Calories
	activity.DeviceName = detail.DeviceName
	if detail.Map != nil && detail.Map.SummaryPolyline != "" {
		activity.SummaryPolyline = detail.Map.SummaryPolyline
	}

	streamSet, err := s.api.GetActivityStreams(ctx, token, externalID, strava.DefaultStreamKeys)
	if err != nil {
		// Streams are an optional add-on; detail alone is still worth
		// persisting.
		s.logger.Printf("streams for %d unavailable: %v", externalID, err)
	} else if len(streamSet) > 0 {
		streams := make([]domain.Stream, 0, len(streamSet))
		for streamType, stream := range streamSet {
			streams = append(streams, domain.Stream{
				ActivityID:   activity.ID,
				Type:         streamType,
				Data:         stream.Data,
				SeriesType:   stream.SeriesType,
				OriginalSize: stream.OriginalSize,
				Resolution:   stream.Resolution,
			})
		}
		if err := s.repo.InsertStreams(ctx, streams); err != nil {
			return nil, fmt.Errorf("persist streams %d: %w", id, err)
		}
	}

	activity.FullDetailFetched = true
	if err := s.repo.UpdateDetails(ctx, *activity); err != nil {
		return nil, fmt.Errorf("persist detail %d: %w", id, err)
	}
	observeEnriched()
	return activity, nil
}
