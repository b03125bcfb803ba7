package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/LDBZnazimay/rankpilot/pkg/config"
	"github.com/LDBZnazimay/rankpilot/pkg/domain"
	"github.com/LDBZnazimay/rankpilot/pkg/feed"
	"github.com/LDBZnazimay/rankpilot/pkg/recognize"
)

// subscriber recorded as the username on subscriptions this service files
const subscriber = "rankpilot"

// Fetcher pulls and parses one feed address
type Fetcher interface {
	Fetch(ctx context.Context, address string) ([]domain.FeedEntry, error)
}

// Recognizer resolves a normalized entry to media metadata
type Recognizer interface {
	Recognize(ctx context.Context, entry domain.NormalizedEntry) (*domain.MediaInfo, error)
	Reset()
}

// Store is the persistence surface the processor needs
type Store interface {
	History(ctx context.Context, source string) ([]domain.HistoryRecord, error)
	HistoryKeys(ctx context.Context) (map[string]struct{}, error)
	ReplaceHistory(ctx context.Context, source string, records []domain.HistoryRecord) error
	ClearHistory(ctx context.Context) error
	ClearUnrecognized(ctx context.Context) (int64, error)
	SubscriptionExists(ctx context.Context, tmdbID int64, doubanID string, season int) (bool, error)
	AddSubscription(ctx context.Context, sub *domain.Subscription) error
	Existence(ctx context.Context, media *domain.MediaInfo) (full bool, missing []int, err error)
}

// RunOptions carries the one-shot flags consumed at the start of a run
type RunOptions struct {
	ClearHistory      bool
	ClearUnrecognized bool
}

// Processor walks the configured rank sources, recognizes new entries and
// files subscriptions for those passing the gates
type Processor struct {
	fetcher    Fetcher
	recognizer Recognizer
	store      Store
	cfg        *config.RankConfig

	now func() time.Time
}

// New creates a processor
func New(fetcher Fetcher, recognizer Recognizer, store Store, cfg *config.RankConfig) *Processor {
	return &Processor{fetcher: fetcher, recognizer: recognizer, store: store, cfg: cfg, now: time.Now}
}

// Run processes all configured sources once. A provider rate limit aborts
// the run only when configured to; any other per-source failure is logged
// and the remaining sources still run.
func (p *Processor) Run(ctx context.Context, opts RunOptions) error {
	switch {
	case opts.ClearHistory:
		if err := p.store.ClearHistory(ctx); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		lgr.Printf("[INFO] history cleared before run")
	case opts.ClearUnrecognized:
		n, err := p.store.ClearUnrecognized(ctx)
		if err != nil {
			return fmt.Errorf("clear unrecognized history: %w", err)
		}
		lgr.Printf("[INFO] cleared %d unrecognized records before run", n)
	}

	p.recognizer.Reset()

	sources := p.cfg.Sources()
	if len(sources) == 0 {
		lgr.Printf("[INFO] no rank sources configured, nothing to do")
		return nil
	}

	keys, err := p.store.HistoryKeys(ctx)
	if err != nil {
		return fmt.Errorf("load dedup keys: %w", err)
	}

	for _, src := range sources {
		if err := p.processSource(ctx, src, keys); err != nil {
			if errors.Is(err, recognize.ErrRateLimitStop) || ctx.Err() != nil {
				return err
			}
			lgr.Printf("[WARN] source %s failed, skipped: %v", src.Address, err)
		}
	}
	lgr.Printf("[INFO] rank run finished, %d sources processed", len(sources))
	return nil
}

// processSource fetches one source and appends the outcome of each new entry
// to its history. The full history list is persisted once per source, also on
// early exit, so an aborted run keeps everything processed so far.
func (p *Processor) processSource(ctx context.Context, src domain.RankSource, keys map[string]struct{}) error {
	lgr.Printf("[INFO] processing source %s", src.Address)

	entries, err := p.fetcher.Fetch(ctx, src.Address)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", src.Address, err)
	}

	history, err := p.store.History(ctx, src.Address)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", src.Address, err)
	}

	var exitErr error
	for _, raw := range entries {
		if ctx.Err() != nil {
			exitErr = ctx.Err()
			break
		}

		norm, ok := feed.Normalize(raw)
		if !ok {
			continue
		}

		key := domain.DedupKey(norm.Title, norm.Year, norm.ExternalID)
		if _, seen := keys[key]; seen {
			lgr.Printf("[INFO] %q already processed, skipped", norm.Title)
			continue
		}

		media, err := p.recognizer.Recognize(ctx, norm)
		if errors.Is(err, recognize.ErrRateLimitStop) {
			exitErr = err
			break
		}
		if err != nil {
			lgr.Printf("[WARN] recognition of %q failed: %v", norm.Title, err)
			continue
		}

		if media == nil {
			lgr.Printf("[WARN] %q not recognized", norm.Title)
			history = append(history, domain.NewUnrecognizedRecord(norm.Title, key, norm.Year, norm.ExternalID, p.now()))
			keys[key] = struct{}{}
			continue
		}

		if p.cfg.OnlyMovies && media.Type != domain.MediaTypeMovie {
			lgr.Printf("[DEBUG] %s is not a movie, skipped by only-movies", media.TitleYear())
			continue
		}
		if !src.Allows(media.Type) {
			lgr.Printf("[DEBUG] %s blocked by source type restriction %q", media.TitleYear(), src.Restriction)
			continue
		}

		status, err := p.gate(ctx, src, media)
		if err != nil {
			lgr.Printf("[WARN] processing %s failed: %v", media.TitleYear(), err)
			continue
		}

		doubanID := media.DoubanID
		if doubanID == "" {
			doubanID = norm.ExternalID
		}
		history = append(history, domain.NewHistoryRecord(media.Title, key, media, doubanID, status, p.now()))
		keys[key] = struct{}{}
		lgr.Printf("[INFO] %s -> %s", media.TitleYear(), status)
	}

	if err := p.store.ReplaceHistory(ctx, src.Address, history); err != nil {
		return fmt.Errorf("persist history for %s: %w", src.Address, err)
	}
	return exitErr
}

// gate runs the subscription gates in priority order and files subscriptions
// for entries that pass them all
func (p *Processor) gate(ctx context.Context, src domain.RankSource, media *domain.MediaInfo) (domain.Status, error) {
	if media.Type == domain.MediaTypeUnknown {
		return domain.StatusUncategorized, nil
	}

	full, missing, err := p.store.Existence(ctx, media)
	if err != nil {
		return "", err
	}
	if full {
		return domain.StatusMediaExists, nil
	}
	if media.Season > 0 && seasonOwned(media, missing) {
		return domain.StatusMediaExists, nil
	}

	if p.cfg.MinYear > 0 {
		year, convErr := strconv.Atoi(media.Year)
		if convErr != nil || year < p.cfg.MinYear {
			return domain.StatusYearNotMatch, nil
		}
	}
	if p.cfg.MinVote > 0 && media.VoteAverage < p.cfg.MinVote {
		return domain.StatusRatingNotMatch, nil
	}

	if media.Type == domain.MediaTypeTV && p.cfg.SubscribeAllSeasons && media.NumberOfSeasons > 1 {
		return p.subscribeSeasons(ctx, src, media, missing)
	}

	return p.subscribe(ctx, src, media, media.Season)
}

// seasonOwned reports whether the requested begin season is already in the
// library. With no missing list the library holds nothing of this title.
func seasonOwned(media *domain.MediaInfo, missing []int) bool {
	if len(missing) == 0 {
		return false
	}
	for _, season := range missing {
		if season == media.Season {
			return false
		}
	}
	return true
}

// subscribe files one subscription unless an equal one is already filed
func (p *Processor) subscribe(ctx context.Context, src domain.RankSource, media *domain.MediaInfo, season int) (domain.Status, error) {
	exists, err := p.store.SubscriptionExists(ctx, media.TMDBID, media.DoubanID, season)
	if err != nil {
		return "", err
	}
	if exists {
		return domain.StatusSubscriptionExists, nil
	}

	sub := &domain.Subscription{
		Name:     media.Title,
		Year:     media.Year,
		Type:     string(media.Type),
		TMDBID:   media.TMDBID,
		DoubanID: media.DoubanID,
		Season:   season,
		SavePath: src.SavePaths.For(media.Type, media.IsAnime()),
		Username: subscriber,
	}
	if err := p.store.AddSubscription(ctx, sub); err != nil {
		return "", err
	}
	lgr.Printf("[INFO] subscription added for %s season %d", media.TitleYear(), season)
	return domain.StatusSubscriptionAdded, nil
}

// subscribeSeasons files one subscription per season the library does not
// hold. The reported status is the begin season's when it was processed, the
// last processed season's otherwise.
func (p *Processor) subscribeSeasons(ctx context.Context, src domain.RankSource, media *domain.MediaInfo, missing []int) (domain.Status, error) {
	seasons := missing
	if len(seasons) == 0 {
		// nothing owned yet, file every season
		for season := 1; season <= media.NumberOfSeasons; season++ {
			seasons = append(seasons, season)
		}
	}

	var reported domain.Status
	beginSeen := false
	for _, season := range seasons {
		status, err := p.subscribe(ctx, src, media, season)
		if err != nil {
			return "", err
		}
		if season == media.Season {
			reported, beginSeen = status, true
		} else if !beginSeen {
			reported = status
		}
	}
	return reported, nil
}
