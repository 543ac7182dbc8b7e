package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a new in-memory SQLite database for testing
func NewTestDB(t *testing.T) (*sql.DB, Store) {
	t.Helper()

	// Use in-memory database with shared cache mode so all
	// connections see the same database
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Single connection keeps the in-memory database alive
	db.SetMaxOpenConns(1)

	store := NewStoreFromDB(db)
	if err := store.(*SQLStore).SetupSchema(); err != nil {
		db.Close()
		t.Fatalf("failed to setup test database schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db, store
}

// SeedTestServer creates a test server row
func SeedTestServer(t *testing.T, store Store, params CreateServerParams) VpnServer {
	t.Helper()

	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if params.Name == "" {
		params.Name = "test-server"
	}
	if params.IPAddress == "" {
		params.IPAddress = "10.0.0.1"
	}
	if params.Port == 0 {
		params.Port = 51820
	}
	if params.Protocol == "" {
		params.Protocol = "wireguard"
	}

	server, err := store.CreateServer(context.Background(), params)
	if err != nil {
		t.Fatalf("failed to seed test server: %v", err)
	}
	return server
}

// SeedTestAccount creates a test account row
func SeedTestAccount(t *testing.T, store Store, code, tier string, maxDevices int) Account {
	t.Helper()

	account, err := store.CreateAccount(context.Background(), CreateAccountParams{
		ID:               uuid.NewString(),
		AccountCode:      code,
		SubscriptionTier: tier,
		MaxDevices:       maxDevices,
	})
	if err != nil {
		t.Fatalf("failed to seed test account: %v", err)
	}
	return account
}

// SeedTestConfig creates an active connection config row
func SeedTestConfig(t *testing.T, store Store, accountCode, serverID string) ConnectionConfig {
	t.Helper()

	cfg, err := store.CreateConfig(context.Background(), CreateConfigParams{
		ID:          uuid.NewString(),
		AccountCode: accountCode,
		ServerID:    serverID,
		PublicKey:   uuid.NewString(),
		ConfigData:  "[Interface]\nPrivateKey = test\n",
		Tier:        "free",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed test config: %v", err)
	}
	return cfg
}
