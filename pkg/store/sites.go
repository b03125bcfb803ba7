package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// ListSites retrieves all indexer site rows
func (s *Store) ListSites(ctx context.Context) ([]domain.Site, error) {
	var sites []domain.Site
	query := `SELECT * FROM sites ORDER BY id`
	if err := s.conn.SelectContext(ctx, &sites, query); err != nil {
		return nil, fmt.Errorf("get sites: %w", err)
	}
	return sites, nil
}

// ResetSites replaces the whole sites table with the given rows. Imported
// rows never keep their peer ids.
func (s *Store) ResetSites(ctx context.Context, sites []domain.Site) error {
	return s.InTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sites`); err != nil {
			return fmt.Errorf("clear sites: %w", err)
		}
		insert := `INSERT INTO sites (name, domain, url, cookie, ua, proxy, note)
			VALUES (:name, :domain, :url, :cookie, :ua, :proxy, :note)`
		for i := range sites {
			if _, err := tx.NamedExecContext(ctx, insert, &sites[i]); err != nil {
				return fmt.Errorf("insert site %q: %w", sites[i].Name, err)
			}
		}
		return nil
	})
}
