package recognize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
	"github.com/LDBZnazimay/rankpilot/pkg/douban"
)

// ErrRateLimitStop aborts the whole run; returned instead of falling back to
// generic matching when stop-on-rate-limit is configured
var ErrRateLimitStop = errors.New("provider rate limited, run stopped by configuration")

// Provider resolves external ids and names to canonical media metadata
type Provider interface {
	Detail(ctx context.Context, id string, mtype domain.MediaType) (*douban.Detail, error)
	Match(ctx context.Context, name, year string, mtype domain.MediaType, season int) (*domain.MediaInfo, error)
	Recognize(ctx context.Context, title, year string, mtype domain.MediaType) (*domain.MediaInfo, error)
}

// Config holds recognizer settings
type Config struct {
	MinSleepSec     int           // politeness sleep lower bound before id lookups
	MaxSleepSec     int           // politeness sleep upper bound
	StopOnRateLimit bool          // abort the run on a provider rate limit
	Cooldown        time.Duration // how long to keep using generic matching after a rate limit
}

// rate-limit fallback window matching the provider's observed ban duration
const defaultCooldown = 70 * time.Minute

// Recognizer resolves normalized feed entries to media metadata, trying the
// external-id path first and falling back to generic name matching
type Recognizer struct {
	provider Provider
	cfg      Config

	rateLimitedAt  time.Time // zero when not in the cooldown window
	rateLimitCount int

	// injection points for tests
	sleep func(time.Duration)
	now   func() time.Time
	rnd   *rand.Rand
}

// New creates a recognizer
func New(provider Provider, cfg Config) *Recognizer {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Recognizer{
		provider: provider,
		cfg:      cfg,
		sleep:    time.Sleep,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // politeness jitter, not crypto
	}
}

// Reset clears the rate-limit state, called at run start
func (r *Recognizer) Reset() {
	r.rateLimitedAt = time.Time{}
	r.rateLimitCount = 0
}

// Recognize resolves one entry. A nil result with nil error means the entry
// could not be recognized; the caller records it and moves on. ErrRateLimitStop
// is the one error that must abort the whole run.
func (r *Recognizer) Recognize(ctx context.Context, entry domain.NormalizedEntry) (*domain.MediaInfo, error) {
	r.maybeLiftCooldown()

	id, hasID := douban.ParseExternalID(entry.ExternalID)
	if !hasID || r.inCooldown() {
		if r.inCooldown() {
			lgr.Printf("[INFO] provider cooldown active, matching %q generically", entry.Title)
		}
		return r.provider.Recognize(ctx, entry.Title, entry.Year, entry.Type)
	}

	r.politenessSleep()

	lgr.Printf("[INFO] looking up %q by external id %s", entry.Title, id)
	detail, err := r.provider.Detail(ctx, id, entry.Type)
	switch {
	case errors.Is(err, douban.ErrRateLimited):
		if r.cfg.StopOnRateLimit {
			lgr.Printf("[WARN] provider rate limit on id %s, stopping run", id)
			return nil, ErrRateLimitStop
		}
		r.rateLimitedAt = r.now()
		r.rateLimitCount++
		lgr.Printf("[WARN] provider rate limit on id %s (hit %d), falling back to generic matching for %v",
			id, r.rateLimitCount, r.cfg.Cooldown)
		return r.provider.Recognize(ctx, entry.Title, entry.Year, entry.Type)
	case err != nil:
		return nil, fmt.Errorf("detail lookup %s: %w", id, err)
	case detail == nil:
		lgr.Printf("[WARN] no provider record for %q (id %s)", entry.Title, id)
		return nil, nil
	}

	return r.matchDetail(ctx, detail, entry)
}

// season resolution states for the candidate-name loop
type seasonState int

const (
	seasonUnresolved seasonState = iota
	seasonResolved
)

var trailingDigitsRe = regexp.MustCompile(`\d+$`)

// matchDetail tries the candidate names derived from a detail record in
// order, consuming a trailing numeric suffix as the season number at most
// once for series with no season known yet
func (r *Recognizer) matchDetail(ctx context.Context, detail *douban.Detail, entry domain.NormalizedEntry) (*domain.MediaInfo, error) {
	mtype := entry.Type
	if mtype == domain.MediaTypeUnknown {
		mtype = detail.MediaType()
	}
	year := detail.Year
	if year == "" {
		year = entry.Year
	}

	season := 0
	state := seasonUnresolved

	for _, name := range candidateNames(detail.OriginalTitle, detail.Title) {
		switch state {
		case seasonResolved:
			name = strings.TrimSpace(trailingDigitsRe.ReplaceAllString(name, ""))
		case seasonUnresolved:
			if mtype == domain.MediaTypeTV {
				if suffix := trailingDigitsRe.FindString(name); suffix != "" {
					season, _ = strconv.Atoi(suffix)
					name = strings.TrimSpace(strings.TrimSuffix(name, suffix))
					state = seasonResolved
					lgr.Printf("[DEBUG] season %d inferred from name %q", season, name)
				}
			}
		}
		if name == "" {
			continue
		}

		info, err := r.provider.Match(ctx, name, year, mtype, season)
		if err != nil {
			lgr.Printf("[WARN] match %q failed: %v", name, err)
			continue
		}
		if info != nil {
			info.Season = season
			if info.TMDBID == 0 {
				info.TMDBID = detail.TMDBID
			}
			if info.VoteAverage == 0 {
				info.VoteAverage = detail.Rating.Value
			}
			if info.Overview == "" {
				info.Overview = detail.Intro
			}
			if info.NumberOfSeasons == 0 {
				info.NumberOfSeasons = detail.SeasonsCount
			}
			if len(info.GenreIDs) == 0 {
				info.GenreIDs = douban.GenreIDs(detail.Genres)
			}
			return info, nil
		}
	}
	return nil, nil
}

// politenessSleep delays the next external-id lookup by a uniform random
// interval within the configured bounds, rounded to one decimal
func (r *Recognizer) politenessSleep() {
	if r.cfg.MaxSleepSec <= 0 {
		return
	}
	span := float64(r.cfg.MaxSleepSec - r.cfg.MinSleepSec)
	secs := math.Round((float64(r.cfg.MinSleepSec)+r.rnd.Float64()*span)*10) / 10
	if secs <= 0 {
		return
	}
	lgr.Printf("[INFO] politeness sleep %.1fs (range %d,%d)", secs, r.cfg.MinSleepSec, r.cfg.MaxSleepSec)
	r.sleep(time.Duration(secs * float64(time.Second)))
}

func (r *Recognizer) inCooldown() bool { return !r.rateLimitedAt.IsZero() }

// maybeLiftCooldown resets the rate-limit state once the cooldown elapsed
func (r *Recognizer) maybeLiftCooldown() {
	if r.rateLimitedAt.IsZero() {
		return
	}
	if r.now().Sub(r.rateLimitedAt) > r.cfg.Cooldown {
		lgr.Printf("[INFO] provider cooldown lifted, last hit %s, %d hits total",
			r.rateLimitedAt.Format(time.RFC3339), r.rateLimitCount)
		r.rateLimitedAt = time.Time{}
	}
}
