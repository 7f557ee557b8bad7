package sharepoint

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store resolves SharePoint subscriptions from Postgres, implementing
// SubscriptionLookup.
type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const subscriptionColumns = `id, tenant_id, website_id, scope, resource_id, client_state`

// GetSubscription implements SubscriptionLookup.
func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM sharepoint_subscriptions WHERE id = $1`, id)

	var sub Subscription
	var resourceID *string
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.WebsiteID, &sub.Scope, &resourceID, &sub.ClientState)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sharepoint: loading subscription %s: %w", id, err)
	}
	if resourceID != nil {
		sub.ResourceID = *resourceID
	}
	return &sub, nil
}
