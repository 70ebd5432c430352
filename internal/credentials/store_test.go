package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/modo-studio/modo-dispatch/internal/db"
	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB, uint64) {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "creds-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Provider{}, &models.ProviderAPIKey{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	prov := models.Provider{Slug: "openai", Name: "OpenAI", IsEnabled: true}
	if errCreate := conn.Create(&prov).Error; errCreate != nil {
		t.Fatalf("seed provider: %v", errCreate)
	}
	return NewStore(conn), conn, prov.ID
}

func seedKey(t *testing.T, conn *gorm.DB, providerID uint64, apiKey string, priority int, enabled bool) {
	t.Helper()
	key := models.ProviderAPIKey{
		ProviderID: providerID,
		Priority:   priority,
		APIKey:     apiKey,
		IsEnabled:  enabled,
	}
	if errCreate := conn.Create(&key).Error; errCreate != nil {
		t.Fatalf("seed key %q: %v", apiKey, errCreate)
	}
}

func TestActiveCredential_NoKeys(t *testing.T) {
	store, _, providerID := newTestStore(t)

	if _, err := store.ActiveCredential(context.Background(), providerID); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestActiveCredential_SkipsDisabled(t *testing.T) {
	store, conn, providerID := newTestStore(t)
	seedKey(t, conn, providerID, "disabled-key", 0, false)
	seedKey(t, conn, providerID, "live-key", 5, true)

	cred, err := store.ActiveCredential(context.Background(), providerID)
	if err != nil {
		t.Fatalf("active credential: %v", err)
	}
	if cred.APIKey != "live-key" {
		t.Fatalf("expected live-key, got %q", cred.APIKey)
	}
}

func TestActiveCredential_BestPriorityGroupOnly(t *testing.T) {
	store, conn, providerID := newTestStore(t)
	seedKey(t, conn, providerID, "primary", 0, true)
	seedKey(t, conn, providerID, "backup", 10, true)

	for i := 0; i < 4; i++ {
		cred, err := store.ActiveCredential(context.Background(), providerID)
		if err != nil {
			t.Fatalf("active credential: %v", err)
		}
		if cred.APIKey != "primary" {
			t.Fatalf("expected only the best priority key, got %q", cred.APIKey)
		}
	}
}

func TestActiveCredential_RoundRobinWithinGroup(t *testing.T) {
	store, conn, providerID := newTestStore(t)
	seedKey(t, conn, providerID, "key-a", 0, true)
	seedKey(t, conn, providerID, "key-b", 0, true)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		cred, err := store.ActiveCredential(context.Background(), providerID)
		if err != nil {
			t.Fatalf("active credential: %v", err)
		}
		seen[cred.APIKey]++
	}
	if seen["key-a"] != 2 || seen["key-b"] != 2 {
		t.Fatalf("expected even rotation, got %v", seen)
	}
}

func TestActiveCredential_DecodesHeaders(t *testing.T) {
	store, conn, providerID := newTestStore(t)
	headers, _ := json.Marshal(map[string]string{"OpenAI-Organization": "org-1"})
	key := models.ProviderAPIKey{
		ProviderID: providerID,
		APIKey:     "with-headers",
		BaseURL:    "https://eu.api.example.com",
		Headers:    datatypes.JSON(headers),
		IsEnabled:  true,
	}
	if errCreate := conn.Create(&key).Error; errCreate != nil {
		t.Fatalf("seed key: %v", errCreate)
	}

	cred, err := store.ActiveCredential(context.Background(), providerID)
	if err != nil {
		t.Fatalf("active credential: %v", err)
	}
	if cred.BaseURL != "https://eu.api.example.com" {
		t.Fatalf("expected base url carried through, got %q", cred.BaseURL)
	}
	if cred.Headers["OpenAI-Organization"] != "org-1" {
		t.Fatalf("expected decoded headers, got %v", cred.Headers)
	}
}
