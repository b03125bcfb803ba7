package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LDBZnazimay/rankpilot/pkg/config"
	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

type mockStore struct {
	history    []domain.HistoryRecord
	bySource   map[string][]domain.HistoryRecord
	subs       []domain.Subscription
	subHistory []domain.Subscription
	sites      []domain.Site
	deleted    []string
	deleteErr  error
	library    []libraryItem
}

type libraryItem struct {
	tmdbID int64
	mtype  domain.MediaType
	season int
}

func (m *mockStore) AllHistory(context.Context) ([]domain.HistoryRecord, error) {
	return m.history, nil
}

func (m *mockStore) HistoryBySource(context.Context) (map[string][]domain.HistoryRecord, error) {
	return m.bySource, nil
}

func (m *mockStore) DeleteHistoryByKey(_ context.Context, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockStore) ListSubscriptions(context.Context) ([]domain.Subscription, error) {
	return m.subs, nil
}

func (m *mockStore) ListSubHistory(context.Context) ([]domain.Subscription, error) {
	return m.subHistory, nil
}

func (m *mockStore) ListSites(context.Context) ([]domain.Site, error) {
	return m.sites, nil
}

func (m *mockStore) AddLibraryItem(_ context.Context, tmdbID int64, mtype domain.MediaType, season int) error {
	m.library = append(m.library, libraryItem{tmdbID: tmdbID, mtype: mtype, season: season})
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Listen = ":8080"
	cfg.Server.Timeout = 30 * time.Second
	cfg.API.Token = "secret"
	cfg.Rank.HistoryDisplay = "all"
	return cfg
}

func doRequest(t *testing.T, srv *Server, path string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest("GET", path, http.NoBody)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func TestServer_Status(t *testing.T) {
	srv := New(testConfig(), &mockStore{}, "1.0.0", false)

	code, body := doRequest(t, srv, "/api/v1/status")
	require.Equal(t, http.StatusOK, code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, "1.0.0", status["version"])
}

func TestServer_TokenGate(t *testing.T) {
	store := &mockStore{}
	srv := New(testConfig(), store, "test", false)

	cases := []struct {
		name string
		path string
	}{
		{"delete history", "/api/v1/plugin/rankpilot/delete_history?key=k&apikey=wrong"},
		{"migrate history", "/api/v1/plugin/rankpilot/migrate-history?migrate_api_token=wrong"},
		{"migrate config", "/api/v1/plugin/rankpilot/migrate-config?migrate_api_token=wrong"},
		{"sites", "/api/v1/plugin/rankpilot/sites?migrate_api_token=wrong"},
		{"sub history", "/api/v1/plugin/rankpilot/sub-history?migrate_api_token=wrong"},
		{"subscribe list", "/api/v1/subscribe/list?token=wrong"},
		{"missing token", "/api/v1/plugin/rankpilot/migrate-history"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := doRequest(t, srv, tc.path)
			// failures come back as a 200 with a success:false body
			require.Equal(t, http.StatusOK, code)

			var resp struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, "invalid api token", resp.Message)
		})
	}

	assert.Empty(t, store.deleted, "no handler may run behind a failed gate")
}

func TestServer_DeleteHistory(t *testing.T) {
	t.Run("deletes by key", func(t *testing.T) {
		store := &mockStore{}
		srv := New(testConfig(), store, "test", false)

		code, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/delete_history?key=rankpilot_x_2020_(DB:1)&apikey=secret")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), `"success":true`)
		assert.Equal(t, []string{"rankpilot_x_2020_(DB:1)"}, store.deleted)
	})

	t.Run("missing key rejected", func(t *testing.T) {
		store := &mockStore{}
		srv := New(testConfig(), store, "test", false)

		_, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/delete_history?apikey=secret")
		assert.Contains(t, string(body), `"success":false`)
		assert.Empty(t, store.deleted)
	})

	t.Run("store failure reported", func(t *testing.T) {
		store := &mockStore{deleteErr: fmt.Errorf("history record not found")}
		srv := New(testConfig(), store, "test", false)

		_, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/delete_history?key=k&apikey=secret")
		assert.Contains(t, string(body), `"success":false`)
		assert.Contains(t, string(body), "not found")
	})
}

func TestServer_LibraryAdd(t *testing.T) {
	t.Run("registers owned season", func(t *testing.T) {
		store := &mockStore{}
		srv := New(testConfig(), store, "test", false)

		code, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/library_add?tmdbid=60059&type=tv&season=2&apikey=secret")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), `"success":true`)
		require.Len(t, store.library, 1)
		assert.Equal(t, libraryItem{tmdbID: 60059, mtype: domain.MediaTypeTV, season: 2}, store.library[0])
	})

	t.Run("registers movie without season", func(t *testing.T) {
		store := &mockStore{}
		srv := New(testConfig(), store, "test", false)

		_, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/library_add?tmdbid=278&type=movie&apikey=secret")
		assert.Contains(t, string(body), `"success":true`)
		require.Len(t, store.library, 1)
		assert.Equal(t, libraryItem{tmdbID: 278, mtype: domain.MediaTypeMovie}, store.library[0])
	})

	t.Run("rejects bad input", func(t *testing.T) {
		store := &mockStore{}
		srv := New(testConfig(), store, "test", false)

		for _, path := range []string{
			"/api/v1/plugin/rankpilot/library_add?type=movie&apikey=secret",
			"/api/v1/plugin/rankpilot/library_add?tmdbid=abc&type=movie&apikey=secret",
			"/api/v1/plugin/rankpilot/library_add?tmdbid=278&type=show&apikey=secret",
			"/api/v1/plugin/rankpilot/library_add?tmdbid=278&type=tv&season=x&apikey=secret",
		} {
			_, body := doRequest(t, srv, path)
			assert.Contains(t, string(body), `"success":false`, path)
		}
		assert.Empty(t, store.library)
	})

	t.Run("token gated", func(t *testing.T) {
		store := &mockStore{}
		srv := New(testConfig(), store, "test", false)

		_, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/library_add?tmdbid=278&type=movie&apikey=wrong")
		assert.Contains(t, string(body), "invalid api token")
		assert.Empty(t, store.library)
	})
}

func TestServer_MigrateEndpoints(t *testing.T) {
	store := &mockStore{
		bySource: map[string][]domain.HistoryRecord{
			"srcA": {{Title: "片一", Unique: "k1", Status: domain.StatusSubscriptionAdded}},
		},
		subs:       []domain.Subscription{{ID: 1, Name: "风骚律师", TMDBID: 60059, Season: 6}},
		subHistory: []domain.Subscription{{Name: "某剧", TMDBID: 100}},
		sites:      []domain.Site{{Name: "siteA", Domain: "a.example.com"}},
	}
	cfg := testConfig()
	cfg.Migration.FromURL = "https://peer.example.com"
	cfg.Migration.APIToken = "peer-secret"
	srv := New(cfg, store, "test", false)

	t.Run("migrate history grouped by source", func(t *testing.T) {
		code, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/migrate-history?migrate_api_token=secret")
		require.Equal(t, http.StatusOK, code)

		var history map[string][]domain.HistoryRecord
		require.NoError(t, json.Unmarshal(body, &history))
		require.Len(t, history["srcA"], 1)
		assert.Equal(t, "片一", history["srcA"][0].Title)
	})

	t.Run("migrate config is sanitized", func(t *testing.T) {
		_, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/migrate-config?migrate_api_token=secret")

		var got config.Config
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Empty(t, got.Migration.FromURL, "migration settings must never leave the instance")
		assert.Empty(t, got.API.Token)
	})

	t.Run("subscribe list", func(t *testing.T) {
		_, body := doRequest(t, srv, "/api/v1/subscribe/list?token=secret")

		var subs []domain.Subscription
		require.NoError(t, json.Unmarshal(body, &subs))
		require.Len(t, subs, 1)
		assert.Equal(t, int64(60059), subs[0].TMDBID)
	})

	t.Run("sites", func(t *testing.T) {
		_, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/sites?migrate_api_token=secret")

		var sites []domain.Site
		require.NoError(t, json.Unmarshal(body, &sites))
		require.Len(t, sites, 1)
		assert.Equal(t, "siteA", sites[0].Name)
	})

	t.Run("sub history", func(t *testing.T) {
		_, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/sub-history?migrate_api_token=secret")

		var recs []domain.Subscription
		require.NoError(t, json.Unmarshal(body, &recs))
		require.Len(t, recs, 1)
	})

	t.Run("empty collections serve json arrays", func(t *testing.T) {
		empty := New(testConfig(), &mockStore{}, "test", false)
		_, body := doRequest(t, empty, "/api/v1/subscribe/list?token=secret")
		assert.JSONEq(t, "[]", string(body))
	})
}

func TestServer_History(t *testing.T) {
	records := []domain.HistoryRecord{
		{Title: "旧片", Unique: "k1", Status: domain.StatusSubscriptionAdded},
		{Title: "无名片", Unique: "k2", Status: domain.StatusUnrecognized},
		{Title: "新片", Unique: "k3", Status: domain.StatusMediaExists},
	}

	display := func(mode string) *Server {
		cfg := testConfig()
		cfg.Rank.HistoryDisplay = mode
		// the latest view reverses in place, give each server its own copy
		recs := append([]domain.HistoryRecord(nil), records...)
		return New(cfg, &mockStore{history: recs}, "test", false)
	}

	fetch := func(t *testing.T, srv *Server) []domain.HistoryRecord {
		t.Helper()
		_, body := doRequest(t, srv, "/api/v1/plugin/rankpilot/history?apikey=secret")
		var got []domain.HistoryRecord
		require.NoError(t, json.Unmarshal(body, &got))
		return got
	}

	t.Run("latest reverses order", func(t *testing.T) {
		got := fetch(t, display("latest"))
		require.Len(t, got, 3)
		assert.Equal(t, "新片", got[0].Title)
		assert.Equal(t, "旧片", got[2].Title)
	})

	t.Run("recognized filters out failures", func(t *testing.T) {
		got := fetch(t, display("recognized"))
		require.Len(t, got, 2)
		for _, rec := range got {
			assert.NotEqual(t, domain.StatusUnrecognized, rec.Status)
		}
	})

	t.Run("unrecognized only", func(t *testing.T) {
		got := fetch(t, display("unrecognized"))
		require.Len(t, got, 1)
		assert.Equal(t, "无名片", got[0].Title)
	})

	t.Run("all keeps insertion order", func(t *testing.T) {
		got := fetch(t, display("all"))
		require.Len(t, got, 3)
		assert.Equal(t, "旧片", got[0].Title)
	})
}

func TestServer_Run(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	cfg := testConfig()
	cfg.Server.Listen = fmt.Sprintf("127.0.0.1:%d", port)
	srv := New(cfg, &mockStore{}, "test", false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		var reqErr error
		resp, reqErr = http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/status", port)) //nolint:noctx // test request
		return reqErr == nil
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	require.NoError(t, <-done)
}
