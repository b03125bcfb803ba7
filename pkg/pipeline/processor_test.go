package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LDBZnazimay/rankpilot/pkg/config"
	"github.com/LDBZnazimay/rankpilot/pkg/domain"
	"github.com/LDBZnazimay/rankpilot/pkg/recognize"
)

type mockFetcher struct {
	entries map[string][]domain.FeedEntry
	errs    map[string]error
	fetched []string
}

func (m *mockFetcher) Fetch(_ context.Context, address string) ([]domain.FeedEntry, error) {
	m.fetched = append(m.fetched, address)
	if err := m.errs[address]; err != nil {
		return nil, err
	}
	return m.entries[address], nil
}

type mockRecognizer struct {
	results map[string]*domain.MediaInfo
	errs    map[string]error
	resets  int
}

func (m *mockRecognizer) Recognize(_ context.Context, entry domain.NormalizedEntry) (*domain.MediaInfo, error) {
	if err, ok := m.errs[entry.Title]; ok {
		return nil, err
	}
	return m.results[entry.Title], nil
}

func (m *mockRecognizer) Reset() { m.resets++ }

type mockStore struct {
	history       map[string][]domain.HistoryRecord
	keys          map[string]struct{}
	subscriptions []domain.Subscription
	full          map[int64]bool
	missing       map[int64][]int

	cleared         bool
	clearedUnrecog  bool
	replacedSources []string
}

func newMockStore() *mockStore {
	return &mockStore{
		history: map[string][]domain.HistoryRecord{},
		keys:    map[string]struct{}{},
		full:    map[int64]bool{},
		missing: map[int64][]int{},
	}
}

func (m *mockStore) History(_ context.Context, source string) ([]domain.HistoryRecord, error) {
	return m.history[source], nil
}

func (m *mockStore) HistoryKeys(_ context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{}, len(m.keys))
	for k := range m.keys {
		keys[k] = struct{}{}
	}
	return keys, nil
}

func (m *mockStore) ReplaceHistory(_ context.Context, source string, records []domain.HistoryRecord) error {
	m.history[source] = records
	m.replacedSources = append(m.replacedSources, source)
	return nil
}

func (m *mockStore) ClearHistory(context.Context) error {
	m.cleared = true
	m.history = map[string][]domain.HistoryRecord{}
	return nil
}

func (m *mockStore) ClearUnrecognized(context.Context) (int64, error) {
	m.clearedUnrecog = true
	return 2, nil
}

func (m *mockStore) SubscriptionExists(_ context.Context, tmdbID int64, doubanID string, season int) (bool, error) {
	for _, sub := range m.subscriptions {
		if tmdbID != 0 && sub.TMDBID == tmdbID && sub.Season == season {
			return true, nil
		}
		if tmdbID == 0 && doubanID != "" && sub.DoubanID == doubanID && sub.Season == season {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) AddSubscription(_ context.Context, sub *domain.Subscription) error {
	sub.ID = int64(len(m.subscriptions) + 1)
	m.subscriptions = append(m.subscriptions, *sub)
	return nil
}

func (m *mockStore) Existence(_ context.Context, media *domain.MediaInfo) (bool, []int, error) {
	return m.full[media.TMDBID], m.missing[media.TMDBID], nil
}

func entry(title, id string) domain.FeedEntry {
	return domain.FeedEntry{Title: title, Link: "https://movie.douban.com/subject/" + id + "/"}
}

func testProcessor(fetcher *mockFetcher, recognizer *mockRecognizer, store *mockStore, cfg *config.RankConfig) *Processor {
	p := New(fetcher, recognizer, store, cfg)
	p.now = func() time.Time { return time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC) }
	return p
}

func TestProcessor_Run(t *testing.T) {
	const source = "https://rsshub.example.com/rank"

	t.Run("movie passes all gates and gets subscribed", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("肖申克的救赎", "1292052")}}}
		recognizer := &mockRecognizer{results: map[string]*domain.MediaInfo{
			"肖申克的救赎": {Title: "肖申克的救赎", Year: "1994", Type: domain.MediaTypeMovie, TMDBID: 278, DoubanID: "1292052", VoteAverage: 9.7},
		}}
		store := newMockStore()
		cfg := &config.RankConfig{Addresses: []string{source + ";/media/movies"}}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))

		require.Len(t, store.subscriptions, 1)
		assert.Equal(t, "肖申克的救赎", store.subscriptions[0].Name)
		assert.Equal(t, "/media/movies", store.subscriptions[0].SavePath)
		assert.Equal(t, "rankpilot", store.subscriptions[0].Username)

		history := store.history[source]
		require.Len(t, history, 1)
		assert.Equal(t, domain.StatusSubscriptionAdded, history[0].Status)
		assert.Equal(t, "rankpilot_肖申克的救赎_1994_(DB:1292052)", history[0].Unique)
		assert.Equal(t, 1, recognizer.resets)
	})

	t.Run("already processed entry skipped", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("某电影", "100")}}}
		recognizer := &mockRecognizer{}
		store := newMockStore()
		store.keys[domain.DedupKey("某电影", "", "100")] = struct{}{}
		cfg := &config.RankConfig{Addresses: []string{source}}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))
		assert.Empty(t, store.history[source])
		assert.Empty(t, store.subscriptions)
	})

	t.Run("unrecognized entry recorded with placeholder", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("无名片", "999")}}}
		recognizer := &mockRecognizer{}
		store := newMockStore()
		cfg := &config.RankConfig{Addresses: []string{source}}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))

		history := store.history[source]
		require.Len(t, history, 1)
		assert.Equal(t, domain.StatusUnrecognized, history[0].Status)
		assert.Equal(t, domain.PlaceholderPoster, history[0].Poster)
		assert.Equal(t, "999", history[0].DoubanID)
		assert.Equal(t, "0", history[0].Year)
	})

	t.Run("gate statuses", func(t *testing.T) {
		cases := []struct {
			name   string
			media  *domain.MediaInfo
			setup  func(*mockStore)
			cfg    config.RankConfig
			status domain.Status
		}{
			{
				name:   "unknown type uncategorized",
				media:  &domain.MediaInfo{Title: "t", TMDBID: 1},
				status: domain.StatusUncategorized,
			},
			{
				name:   "fully owned media exists",
				media:  &domain.MediaInfo{Title: "t", Type: domain.MediaTypeMovie, TMDBID: 1},
				setup:  func(s *mockStore) { s.full[1] = true },
				status: domain.StatusMediaExists,
			},
			{
				name:   "owned begin season media exists",
				media:  &domain.MediaInfo{Title: "t", Type: domain.MediaTypeTV, TMDBID: 1, Season: 2, NumberOfSeasons: 3},
				setup:  func(s *mockStore) { s.missing[1] = []int{3} },
				status: domain.StatusMediaExists,
			},
			{
				name:   "missing begin season proceeds to subscribe",
				media:  &domain.MediaInfo{Title: "t", Year: "2020", Type: domain.MediaTypeTV, TMDBID: 1, Season: 2, NumberOfSeasons: 3},
				setup:  func(s *mockStore) { s.missing[1] = []int{2, 3} },
				status: domain.StatusSubscriptionAdded,
			},
			{
				name:   "below min year",
				media:  &domain.MediaInfo{Title: "t", Type: domain.MediaTypeMovie, TMDBID: 1, Year: "1990"},
				cfg:    config.RankConfig{MinYear: 2000},
				status: domain.StatusYearNotMatch,
			},
			{
				name:   "unparseable year treated as mismatch",
				media:  &domain.MediaInfo{Title: "t", Type: domain.MediaTypeMovie, TMDBID: 1, Year: ""},
				cfg:    config.RankConfig{MinYear: 2000},
				status: domain.StatusYearNotMatch,
			},
			{
				name:   "below min vote",
				media:  &domain.MediaInfo{Title: "t", Type: domain.MediaTypeMovie, TMDBID: 1, Year: "2020", VoteAverage: 5.5},
				cfg:    config.RankConfig{MinVote: 7},
				status: domain.StatusRatingNotMatch,
			},
			{
				name:  "subscription already filed",
				media: &domain.MediaInfo{Title: "t", Type: domain.MediaTypeMovie, TMDBID: 1},
				setup: func(s *mockStore) {
					s.subscriptions = []domain.Subscription{{TMDBID: 1, Season: 0}}
				},
				status: domain.StatusSubscriptionExists,
			},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("t", "7")}}}
				recognizer := &mockRecognizer{results: map[string]*domain.MediaInfo{"t": tc.media}}
				store := newMockStore()
				if tc.setup != nil {
					tc.setup(store)
				}
				cfg := tc.cfg
				cfg.Addresses = []string{source}

				p := testProcessor(fetcher, recognizer, store, &cfg)
				require.NoError(t, p.Run(context.Background(), RunOptions{}))

				history := store.history[source]
				require.Len(t, history, 1)
				assert.Equal(t, tc.status, history[0].Status)
			})
		}
	})

	t.Run("only movies skips series without history", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("某剧", "200")}}}
		recognizer := &mockRecognizer{results: map[string]*domain.MediaInfo{
			"某剧": {Title: "某剧", Type: domain.MediaTypeTV, TMDBID: 2},
		}}
		store := newMockStore()
		cfg := &config.RankConfig{Addresses: []string{source}, OnlyMovies: true}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))
		assert.Empty(t, store.history[source])
		assert.Empty(t, store.subscriptions)
	})

	t.Run("source type restriction blocks movie", func(t *testing.T) {
		addr := source + ";;@tv@"
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("某电影", "300")}}}
		recognizer := &mockRecognizer{results: map[string]*domain.MediaInfo{
			"某电影": {Title: "某电影", Type: domain.MediaTypeMovie, TMDBID: 3},
		}}
		store := newMockStore()
		cfg := &config.RankConfig{Addresses: []string{addr}}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))
		assert.Empty(t, store.subscriptions)
	})

	t.Run("subscribe all seasons with anime path", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("某动画", "400")}}}
		recognizer := &mockRecognizer{results: map[string]*domain.MediaInfo{
			"某动画": {
				Title: "某动画", Year: "2024", Type: domain.MediaTypeTV, TMDBID: 4,
				NumberOfSeasons: 3, Season: 1, GenreIDs: []int{domain.AnimeGenreID},
			},
		}}
		store := newMockStore()
		cfg := &config.RankConfig{
			Addresses:           []string{source + ";/m#/t#/anime"},
			SubscribeAllSeasons: true,
		}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))

		require.Len(t, store.subscriptions, 3)
		seasons := []int{store.subscriptions[0].Season, store.subscriptions[1].Season, store.subscriptions[2].Season}
		assert.Equal(t, []int{1, 2, 3}, seasons)
		for _, sub := range store.subscriptions {
			assert.Equal(t, "/anime", sub.SavePath)
		}

		history := store.history[source]
		require.Len(t, history, 1)
		assert.Equal(t, domain.StatusSubscriptionAdded, history[0].Status)
	})

	t.Run("all seasons filed for media known only by doubanid", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("某剧", "800")}}}
		recognizer := &mockRecognizer{results: map[string]*domain.MediaInfo{
			"某剧": {Title: "某剧", Year: "2024", Type: domain.MediaTypeTV, DoubanID: "800", NumberOfSeasons: 3, Season: 1},
		}}
		store := newMockStore()
		cfg := &config.RankConfig{Addresses: []string{source}, SubscribeAllSeasons: true}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))

		require.Len(t, store.subscriptions, 3)
		seasons := []int{store.subscriptions[0].Season, store.subscriptions[1].Season, store.subscriptions[2].Season}
		assert.Equal(t, []int{1, 2, 3}, seasons)
		for _, sub := range store.subscriptions {
			assert.Equal(t, "800", sub.DoubanID)
		}

		history := store.history[source]
		require.Len(t, history, 1)
		assert.Equal(t, domain.StatusSubscriptionAdded, history[0].Status)
	})

	t.Run("all seasons skips owned ones", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("某剧", "500")}}}
		recognizer := &mockRecognizer{results: map[string]*domain.MediaInfo{
			"某剧": {Title: "某剧", Type: domain.MediaTypeTV, TMDBID: 5, NumberOfSeasons: 3, Season: 3},
		}}
		store := newMockStore()
		store.missing[5] = []int{2, 3}
		cfg := &config.RankConfig{Addresses: []string{source}, SubscribeAllSeasons: true}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))

		require.Len(t, store.subscriptions, 2)
		assert.Equal(t, 2, store.subscriptions[0].Season)
		assert.Equal(t, 3, store.subscriptions[1].Season)
	})

	t.Run("rate limit stop aborts but persists partial history", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {
			entry("片一", "1"), entry("片二", "2"), entry("片三", "3"),
		}}}
		recognizer := &mockRecognizer{
			results: map[string]*domain.MediaInfo{
				"片一": {Title: "片一", Type: domain.MediaTypeMovie, TMDBID: 11},
			},
			errs: map[string]error{"片二": recognize.ErrRateLimitStop},
		}
		store := newMockStore()
		cfg := &config.RankConfig{Addresses: []string{source}}

		p := testProcessor(fetcher, recognizer, store, cfg)
		err := p.Run(context.Background(), RunOptions{})
		require.ErrorIs(t, err, recognize.ErrRateLimitStop)

		// first entry persisted, third never reached
		history := store.history[source]
		require.Len(t, history, 1)
		assert.Equal(t, "片一", history[0].Title)
	})

	t.Run("failed source skipped, remaining processed", func(t *testing.T) {
		srcB := "https://rsshub.example.com/other"
		fetcher := &mockFetcher{
			entries: map[string][]domain.FeedEntry{srcB: {entry("某电影", "600")}},
			errs:    map[string]error{source: context.DeadlineExceeded},
		}
		recognizer := &mockRecognizer{results: map[string]*domain.MediaInfo{
			"某电影": {Title: "某电影", Type: domain.MediaTypeMovie, TMDBID: 6},
		}}
		store := newMockStore()
		cfg := &config.RankConfig{Addresses: []string{source, srcB}}

		p := testProcessor(fetcher, recognizer, store, cfg)
		require.NoError(t, p.Run(context.Background(), RunOptions{}))
		assert.Equal(t, []string{source, srcB}, fetcher.fetched)
		assert.Len(t, store.subscriptions, 1)
	})

	t.Run("clear flags applied before run", func(t *testing.T) {
		store := newMockStore()
		cfg := &config.RankConfig{}
		p := testProcessor(&mockFetcher{}, &mockRecognizer{}, store, cfg)

		require.NoError(t, p.Run(context.Background(), RunOptions{ClearHistory: true}))
		assert.True(t, store.cleared)

		require.NoError(t, p.Run(context.Background(), RunOptions{ClearUnrecognized: true}))
		assert.True(t, store.clearedUnrecog)
	})

	t.Run("cancelled context stops processing", func(t *testing.T) {
		fetcher := &mockFetcher{entries: map[string][]domain.FeedEntry{source: {entry("某电影", "700")}}}
		store := newMockStore()
		cfg := &config.RankConfig{Addresses: []string{source}}
		p := testProcessor(fetcher, &mockRecognizer{}, store, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := p.Run(ctx, RunOptions{})
		require.ErrorIs(t, err, context.Canceled)
	})
}
