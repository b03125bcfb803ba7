package server

import (
	"net/http"
	"strconv"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// historyHandler serves the processed-entry history in the configured view
// mode: latest (newest first), recognized, unrecognized or all
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.AllHistory(r.Context())
	if err != nil {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}

	switch s.cfg.Rank.HistoryDisplay {
	case "latest":
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	case "recognized":
		records = filterByStatus(records, false)
	case "unrecognized":
		records = filterByStatus(records, true)
	}
	if records == nil {
		records = []domain.HistoryRecord{}
	}
	RenderJSON(w, r, http.StatusOK, records)
}

func filterByStatus(records []domain.HistoryRecord, unrecognized bool) []domain.HistoryRecord {
	out := make([]domain.HistoryRecord, 0, len(records))
	for _, rec := range records {
		if (rec.Status == domain.StatusUnrecognized) == unrecognized {
			out = append(out, rec)
		}
	}
	return out
}

// deleteHistoryHandler removes one history record by its dedup key
func (s *Server) deleteHistoryHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": "key is required"})
		return
	}

	if err := s.store.DeleteHistoryByKey(r.Context(), key); err != nil {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]any{"success": true})
}

// libraryAddHandler registers one owned title (or one owned season for
// series) reported by the media manager, feeding the existence gate
func (s *Server) libraryAddHandler(w http.ResponseWriter, r *http.Request) {
	tmdbID, err := strconv.ParseInt(r.URL.Query().Get("tmdbid"), 10, 64)
	if err != nil || tmdbID == 0 {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": "valid tmdbid is required"})
		return
	}

	mtype := domain.MediaType(r.URL.Query().Get("type"))
	if mtype != domain.MediaTypeMovie && mtype != domain.MediaTypeTV {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": "type must be movie or tv"})
		return
	}

	season := 0
	if v := r.URL.Query().Get("season"); v != "" {
		if season, err = strconv.Atoi(v); err != nil {
			RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": "season must be a number"})
			return
		}
	}

	if err := s.store.AddLibraryItem(r.Context(), tmdbID, mtype, season); err != nil {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]any{"success": true})
}

// migrateHistoryHandler serves the full history grouped by source for a
// migrating peer
func (s *Server) migrateHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.HistoryBySource(r.Context())
	if err != nil {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if history == nil {
		history = map[string][]domain.HistoryRecord{}
	}
	RenderJSON(w, r, http.StatusOK, history)
}

// migrateConfigHandler serves the sanitized configuration for a migrating peer
func (s *Server) migrateConfigHandler(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, http.StatusOK, s.cfg.Sanitized())
}

// subscribeListHandler serves all filed subscriptions
func (s *Server) subscribeListHandler(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubscriptions(r.Context())
	if err != nil {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	RenderJSON(w, r, http.StatusOK, subs)
}

// sitesHandler serves the indexer site rows for a migrating peer
func (s *Server) sitesHandler(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if sites == nil {
		sites = []domain.Site{}
	}
	RenderJSON(w, r, http.StatusOK, sites)
}

// subHistoryHandler serves the completed-subscription records for a
// migrating peer
func (s *Server) subHistoryHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListSubHistory(r.Context())
	if err != nil {
		RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if recs == nil {
		recs = []domain.Subscription{}
	}
	RenderJSON(w, r, http.StatusOK, recs)
}
