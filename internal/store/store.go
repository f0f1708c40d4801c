package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/anupkhanal/ocrhub/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store holds the credential data the HTTP boundary authenticates against:
// tenants and their API keys. Job state does not live here. Jobs are
// ephemeral and belong to the shared key-value backend.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}
