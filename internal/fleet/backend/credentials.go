package backend

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
)

// Credential carries the access material for one server's panel.
type Credential struct {
	ServerID  string
	APIURL    string
	AdminUser string
	AdminPass string
	APIKey    string
}

// CredentialStore resolves panel credentials per server.
type CredentialStore interface {
	Get(ctx context.Context, serverID string) (Credential, error)
	List(ctx context.Context) ([]Credential, error)
}

type dbCredentialStore struct {
	store db.Store
}

// NewCredentialStore reads credentials from the backend_credentials table.
func NewCredentialStore(store db.Store) CredentialStore {
	return &dbCredentialStore{store: store}
}

func (s *dbCredentialStore) Get(ctx context.Context, serverID string) (Credential, error) {
	row, err := s.store.GetCredentials(ctx, serverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, domerrors.NewServerError(
				domerrors.ErrCodeServerMisconfigured,
				"server has no backend credentials",
				false,
				err,
			).WithMetadata("server_id", serverID)
		}
		return Credential{}, domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to load backend credentials", true, err)
	}
	return credentialFromRow(row), nil
}

func (s *dbCredentialStore) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.store.ListCredentials(ctx)
	if err != nil {
		return nil, domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to list backend credentials", true, err)
	}
	creds := make([]Credential, 0, len(rows))
	for _, row := range rows {
		creds = append(creds, credentialFromRow(row))
	}
	return creds, nil
}

func credentialFromRow(row db.BackendCredential) Credential {
	return Credential{
		ServerID:  row.ServerID,
		APIURL:    row.APIURL,
		AdminUser: row.AdminUser,
		AdminPass: row.AdminPass,
		APIKey:    row.APIKey,
	}
}
