package catalog

import (
	"context"
	"testing"
)

func TestMemoryStoreInsertAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	f := Filter{Name: "steve", Variant: VariantClassic, Visibility: VisibilityPublic}
	skin := &Skin{ID: 1, UUID: "long-uuid", TextureURL: "https://textures.example/texture/abc", Phash: "hash1", Name: f.Name, Variant: f.Variant, Visibility: f.Visibility}
	if _, err := store.InsertSkin(ctx, skin); err != nil {
		t.Fatalf("InsertSkin: %v", err)
	}

	if got, err := store.FindSkinByUUID(ctx, "long-uuid", f); err != nil || got.ID != 1 {
		t.Fatalf("FindSkinByUUID: got=%v err=%v", got, err)
	}
	if got, err := store.FindSkinByURLPattern(ctx, skin.TextureURL, f); err != nil || got.ID != 1 {
		t.Fatalf("FindSkinByURLPattern: got=%v err=%v", got, err)
	}
	if got, err := store.FindSkinByHash(ctx, "hash1", f); err != nil || got.ID != 1 {
		t.Fatalf("FindSkinByHash: got=%v err=%v", got, err)
	}
	if got, err := store.FindSkinByID(ctx, 1); err != nil || got.ID != 1 {
		t.Fatalf("FindSkinByID: got=%v err=%v", got, err)
	}
	if _, err := store.FindSkinByID(ctx, 999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for an unknown id, got %v", err)
	}

	otherFilter := Filter{Name: "other", Variant: VariantClassic, Visibility: VisibilityPublic}
	if _, err := store.FindSkinByHash(ctx, "hash1", otherFilter); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for differing filter, got %v", err)
	}
}

func TestMemoryStoreEligibilityOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	store.SeedAccount(&Account{ID: 1, Enabled: true, LastUsedSec: 10, LastSelectedSec: 5})
	store.SeedAccount(&Account{ID: 2, Enabled: true, LastUsedSec: 1, LastSelectedSec: 5})

	best, err := store.FindEligibleAccount(ctx, "default", map[int64]bool{})
	if err != nil {
		t.Fatalf("FindEligibleAccount: %v", err)
	}
	if best.ID != 2 {
		t.Fatalf("expected account with lowest lastUsedSec to win, got %d", best.ID)
	}
}

func TestMemoryStoreCountEnabledAccounts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	store.SeedAccount(&Account{ID: 1, Enabled: true})
	store.SeedAccount(&Account{ID: 2, Enabled: true})
	store.SeedAccount(&Account{ID: 3, Enabled: false})

	n, err := store.CountEnabledAccounts(ctx)
	if err != nil {
		t.Fatalf("CountEnabledAccounts: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 enabled accounts, got %d", n)
	}
}

func TestMemoryStoreLockedAccountExcluded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	store.SeedAccount(&Account{ID: 1, Enabled: true})

	_, err := store.FindEligibleAccount(ctx, "default", map[int64]bool{1: true})
	if err != ErrNotFound {
		t.Fatalf("expected locked account to be excluded, got %v", err)
	}
}
