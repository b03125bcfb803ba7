package store

import (
	"context"
	"fmt"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// SubscriptionExists reports whether a subscription for the media is already
// filed, matched by tmdbid plus season when the tmdbid is known, by doubanid
// plus season otherwise. The season always participates so that filing one
// season of a series never hides its siblings.
func (s *Store) SubscriptionExists(ctx context.Context, tmdbID int64, doubanID string, season int) (bool, error) {
	var count int
	if tmdbID != 0 {
		err := s.conn.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM subscriptions WHERE tmdbid = ? AND season = ?`, tmdbID, season)
		if err != nil {
			return false, fmt.Errorf("check subscription by tmdbid: %w", err)
		}
		return count > 0, nil
	}

	if doubanID == "" || doubanID == "0" {
		return false, nil
	}
	err := s.conn.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM subscriptions WHERE doubanid = ? AND season = ?`, doubanID, season)
	if err != nil {
		return false, fmt.Errorf("check subscription by doubanid: %w", err)
	}
	return count > 0, nil
}

// AddSubscription files a new subscription and sets its id
func (s *Store) AddSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `INSERT INTO subscriptions (name, year, type, tmdbid, doubanid, season, save_path, username, sites, note)
		VALUES (:name, :year, :type, :tmdbid, :doubanid, :season, :save_path, :username, :sites, :note)`
	result, err := s.conn.NamedExecContext(ctx, query, sub)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	sub.ID = id
	return nil
}

// ListSubscriptions retrieves all filed subscriptions
func (s *Store) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	query := `SELECT * FROM subscriptions ORDER BY id`
	if err := s.conn.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("get subscriptions: %w", err)
	}
	return subs, nil
}

// SubHistoryExists reports whether a completed-subscription record with the
// same natural key is already stored
func (s *Store) SubHistoryExists(ctx context.Context, tmdbID int64, doubanID string, season int) (bool, error) {
	var count int
	if tmdbID != 0 {
		err := s.conn.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM sub_history WHERE tmdbid = ? AND season = ?`, tmdbID, season)
		if err != nil {
			return false, fmt.Errorf("check sub history by tmdbid: %w", err)
		}
		return count > 0, nil
	}

	if doubanID == "" || doubanID == "0" {
		return false, nil
	}
	err := s.conn.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM sub_history WHERE doubanid = ?`, doubanID)
	if err != nil {
		return false, fmt.Errorf("check sub history by doubanid: %w", err)
	}
	return count > 0, nil
}

// AddSubHistory stores one completed-subscription record
func (s *Store) AddSubHistory(ctx context.Context, rec *domain.Subscription) error {
	query := `INSERT INTO sub_history (name, year, type, tmdbid, doubanid, season, save_path, username, sites, note)
		VALUES (:name, :year, :type, :tmdbid, :doubanid, :season, :save_path, :username, :sites, :note)`
	if _, err := s.conn.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("insert sub history: %w", err)
	}
	return nil
}

// ListSubHistory retrieves all completed-subscription records
func (s *Store) ListSubHistory(ctx context.Context) ([]domain.Subscription, error) {
	var recs []domain.Subscription
	query := `SELECT * FROM sub_history ORDER BY id`
	if err := s.conn.SelectContext(ctx, &recs, query); err != nil {
		return nil, fmt.Errorf("get sub history: %w", err)
	}
	return recs, nil
}
