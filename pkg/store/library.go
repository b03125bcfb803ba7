package store

import (
	"context"
	"fmt"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// AddLibraryItem records one owned title, or one owned season for series.
// Duplicate rows are ignored.
func (s *Store) AddLibraryItem(ctx context.Context, tmdbID int64, mtype domain.MediaType, season int) error {
	query := `INSERT OR IGNORE INTO library (tmdbid, type, season) VALUES (?, ?, ?)`
	if _, err := s.conn.ExecContext(ctx, query, tmdbID, string(mtype), season); err != nil {
		return fmt.Errorf("insert library item: %w", err)
	}
	return nil
}

// Existence checks the local library for a title. For movies full means the
// title is owned. For series full means every season up to the known season
// count is owned; missing lists the seasons that are not. A media without a
// tmdbid is never considered owned.
func (s *Store) Existence(ctx context.Context, media *domain.MediaInfo) (full bool, missing []int, err error) {
	if media.TMDBID == 0 {
		return false, nil, nil
	}

	if media.Type != domain.MediaTypeTV {
		var count int
		err = s.conn.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM library WHERE tmdbid = ? AND type = ?`, media.TMDBID, string(domain.MediaTypeMovie))
		if err != nil {
			return false, nil, fmt.Errorf("check library for movie: %w", err)
		}
		return count > 0, nil, nil
	}

	var owned []int
	err = s.conn.SelectContext(ctx, &owned,
		`SELECT season FROM library WHERE tmdbid = ? AND type = ?`, media.TMDBID, string(domain.MediaTypeTV))
	if err != nil {
		return false, nil, fmt.Errorf("check library for series: %w", err)
	}
	if len(owned) == 0 {
		return false, nil, nil
	}

	ownedSet := make(map[int]struct{}, len(owned))
	for _, season := range owned {
		ownedSet[season] = struct{}{}
	}

	seasons := media.NumberOfSeasons
	if seasons == 0 {
		// season count unknown, any owned season counts as full
		return true, nil, nil
	}
	for season := 1; season <= seasons; season++ {
		if _, ok := ownedSet[season]; !ok {
			missing = append(missing, season)
		}
	}
	return len(missing) == 0, missing, nil
}
