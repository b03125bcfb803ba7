package migrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx/types"

	"github.com/LDBZnazimay/rankpilot/pkg/config"
	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// Puller is the peer-side surface of a migration
type Puller interface {
	PullConfig(ctx context.Context) (*config.Config, error)
	PullHistory(ctx context.Context) (map[string][]domain.HistoryRecord, error)
	PullSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	PullSites(ctx context.Context) ([]domain.Site, error)
	PullSubHistory(ctx context.Context) ([]domain.Subscription, error)
}

// Store is the local persistence surface a migration writes to
type Store interface {
	ReplaceHistory(ctx context.Context, source string, records []domain.HistoryRecord) error
	SubscriptionExists(ctx context.Context, tmdbID int64, doubanID string, season int) (bool, error)
	AddSubscription(ctx context.Context, sub *domain.Subscription) error
	SubHistoryExists(ctx context.Context, tmdbID int64, doubanID string, season int) (bool, error)
	AddSubHistory(ctx context.Context, rec *domain.Subscription) error
	ResetSites(ctx context.Context, sites []domain.Site) error
}

// Importer pulls a peer's state and applies it locally
type Importer struct {
	puller Puller
	store  Store
	cfg    *config.Config
}

// NewImporter creates an importer writing into the given store and config
func NewImporter(puller Puller, store Store, cfg *config.Config) *Importer {
	return &Importer{puller: puller, store: store, cfg: cfg}
}

// Run performs the one-shot migration. Partial progress stays applied, a
// failing step aborts the rest.
func (i *Importer) Run(ctx context.Context) error {
	lgr.Printf("[INFO] migration from peer started")

	if err := i.importConfig(ctx); err != nil {
		return err
	}
	if err := i.importHistory(ctx); err != nil {
		return err
	}
	if err := i.importSubscriptions(ctx); err != nil {
		return err
	}

	if i.cfg.Migration.WithSites {
		if err := i.importSites(ctx); err != nil {
			return err
		}
	}
	if i.cfg.Migration.WithSubHistory {
		if err := i.importSubHistory(ctx); err != nil {
			return err
		}
	}

	lgr.Printf("[INFO] migration from peer finished")
	return nil
}

// importConfig overwrites the local rank settings with the peer's. Migration
// settings, the API token and one-shot flags are never taken from a peer.
func (i *Importer) importConfig(ctx context.Context) error {
	peer, err := i.puller.PullConfig(ctx)
	if err != nil {
		return fmt.Errorf("import config: %w", err)
	}

	rank := peer.Rank
	rank.RunOnce = false
	rank.ClearHistory = false
	rank.ClearUnrecognized = false
	i.cfg.Rank = rank
	lgr.Printf("[INFO] rank settings imported from peer")
	return nil
}

func (i *Importer) importHistory(ctx context.Context) error {
	history, err := i.puller.PullHistory(ctx)
	if err != nil {
		return fmt.Errorf("import history: %w", err)
	}
	if len(history) == 0 {
		lgr.Printf("[INFO] peer has no rank history")
		return nil
	}

	total := 0
	for source, records := range history {
		if err := i.store.ReplaceHistory(ctx, source, records); err != nil {
			return fmt.Errorf("import history for %s: %w", source, err)
		}
		total += len(records)
	}
	lgr.Printf("[INFO] imported %d history records from %d sources", total, len(history))
	return nil
}

func (i *Importer) importSubscriptions(ctx context.Context) error {
	subs, err := i.puller.PullSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("import subscriptions: %w", err)
	}

	added := 0
	for idx := range subs {
		sub := subs[idx]
		exists, err := i.store.SubscriptionExists(ctx, sub.TMDBID, sub.DoubanID, sub.Season)
		if err != nil {
			return fmt.Errorf("check subscription %q: %w", sub.Name, err)
		}
		if exists {
			lgr.Printf("[DEBUG] subscription %q already filed, skipped", sub.Name)
			continue
		}
		sub.ID = 0 // local ids are assigned on insert
		sub.Note = decodeStringNote(sub.Note)
		if err := i.store.AddSubscription(ctx, &sub); err != nil {
			return fmt.Errorf("import subscription %q: %w", sub.Name, err)
		}
		added++
	}
	lgr.Printf("[INFO] imported %d of %d subscriptions", added, len(subs))
	return nil
}

func (i *Importer) importSites(ctx context.Context) error {
	sites, err := i.puller.PullSites(ctx)
	if err != nil {
		return fmt.Errorf("import sites: %w", err)
	}

	for idx := range sites {
		sites[idx].ID = 0
		sites[idx].Note = decodeStringNote(sites[idx].Note)
	}
	if err := i.store.ResetSites(ctx, sites); err != nil {
		return fmt.Errorf("import sites: %w", err)
	}
	lgr.Printf("[INFO] imported %d sites, local sites replaced", len(sites))
	return nil
}

func (i *Importer) importSubHistory(ctx context.Context) error {
	recs, err := i.puller.PullSubHistory(ctx)
	if err != nil {
		return fmt.Errorf("import sub history: %w", err)
	}

	added := 0
	for idx := range recs {
		rec := recs[idx]
		exists, err := i.store.SubHistoryExists(ctx, rec.TMDBID, rec.DoubanID, rec.Season)
		if err != nil {
			return fmt.Errorf("check sub history %q: %w", rec.Name, err)
		}
		if exists {
			continue
		}
		rec.ID = 0
		rec.Note = decodeStringNote(rec.Note)
		if err := i.store.AddSubHistory(ctx, &rec); err != nil {
			return fmt.Errorf("import sub history %q: %w", rec.Name, err)
		}
		added++
	}
	lgr.Printf("[INFO] imported %d of %d sub history records", added, len(recs))
	return nil
}

// decodeStringNote unwraps note fields some peers double-encode as a JSON
// string holding JSON. Anything that does not match stays as is.
func decodeStringNote(note types.JSONText) types.JSONText {
	if len(note) == 0 {
		return note
	}
	var inner string
	if err := json.Unmarshal(note, &inner); err != nil {
		return note
	}
	if !json.Valid([]byte(inner)) {
		return note
	}
	return types.JSONText(inner)
}
