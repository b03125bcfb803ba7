package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// History retrieves the rank history of one source in its persisted order
func (s *Store) History(ctx context.Context, source string) ([]domain.HistoryRecord, error) {
	var records []domain.HistoryRecord
	query := `SELECT title, type, year, poster, overview, tmdbid, doubanid, unique_key, time, time_full, vote, status
		FROM history WHERE source = ? ORDER BY position`
	if err := s.conn.SelectContext(ctx, &records, query, source); err != nil {
		return nil, fmt.Errorf("get history for %s: %w", source, err)
	}
	return records, nil
}

// AllHistory retrieves every history record across sources in insertion order
func (s *Store) AllHistory(ctx context.Context) ([]domain.HistoryRecord, error) {
	var records []domain.HistoryRecord
	query := `SELECT title, type, year, poster, overview, tmdbid, doubanid, unique_key, time, time_full, vote, status
		FROM history ORDER BY id`
	if err := s.conn.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("get all history: %w", err)
	}
	return records, nil
}

// HistoryBySource retrieves all history records grouped by source, the shape
// served to migrating peers
func (s *Store) HistoryBySource(ctx context.Context) (map[string][]domain.HistoryRecord, error) {
	type row struct {
		Source string `db:"source"`
		domain.HistoryRecord
	}
	var rows []row
	query := `SELECT source, title, type, year, poster, overview, tmdbid, doubanid, unique_key, time, time_full, vote, status
		FROM history ORDER BY source, position`
	if err := s.conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("get history by source: %w", err)
	}

	grouped := make(map[string][]domain.HistoryRecord)
	for _, r := range rows {
		grouped[r.Source] = append(grouped[r.Source], r.HistoryRecord)
	}
	return grouped, nil
}

// HistoryKeys returns the set of dedup keys present in history, across all sources
func (s *Store) HistoryKeys(ctx context.Context) (map[string]struct{}, error) {
	var keys []string
	if err := s.conn.SelectContext(ctx, &keys, `SELECT unique_key FROM history`); err != nil {
		return nil, fmt.Errorf("get history keys: %w", err)
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set, nil
}

// ReplaceHistory persists the whole record list of one source, replacing
// whatever was stored before. Runs in a transaction so readers never see a
// half-written list.
func (s *Store) ReplaceHistory(ctx context.Context, source string, records []domain.HistoryRecord) error {
	return s.InTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE source = ?`, source); err != nil {
			return fmt.Errorf("clear history for %s: %w", source, err)
		}
		insert := `INSERT INTO history (source, position, title, type, year, poster, overview, tmdbid, doubanid, unique_key, time, time_full, vote, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		for i, r := range records {
			if _, err := tx.ExecContext(ctx, insert, source, i,
				r.Title, r.Type, r.Year, r.Poster, r.Overview, r.TMDBID, r.DoubanID,
				r.Unique, r.Time, r.TimeFull, r.Vote, r.Status); err != nil {
				return fmt.Errorf("insert history record %q: %w", r.Unique, err)
			}
		}
		return nil
	})
}

// DeleteHistoryByKey removes all records matching a dedup key, across sources
func (s *Store) DeleteHistoryByKey(ctx context.Context, key string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM history WHERE unique_key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete history by key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("history record not found")
	}
	return nil
}

// ClearHistory removes all history records
func (s *Store) ClearHistory(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// ClearUnrecognized removes records recognition failed on and reports how many
func (s *Store) ClearUnrecognized(ctx context.Context) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM history WHERE status = ?`, domain.StatusUnrecognized)
	if err != nil {
		return 0, fmt.Errorf("clear unrecognized history: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return affected, nil
}
