// Package catalog is the read/update abstraction the core consumes for
// skin and account persistence (spec.md §4.6). Two backends are provided:
// a Redis-backed store for production and an in-memory store for tests
// and single-process deployments — both satisfy the same Store
// interface, so the engine never depends on which one is wired in.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that find nothing; callers treat it
// as "no match", not as an error condition.
var ErrNotFound = errors.New("catalog: not found")

// ErrCollision is returned by InsertSkin when the id already exists; the
// caller (the generator) retries with a fresh id drawn from idalloc.
var ErrCollision = errors.New("catalog: id collision")

// Visibility is a skin's listing visibility.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Variant mirrors internal/imaging.Variant; kept as an independent string
// type so catalog has no dependency on the imaging package.
type Variant string

const (
	VariantClassic Variant = "classic"
	VariantSlim    Variant = "slim"
	VariantUnknown Variant = "unknown"
)

// Skin is the catalog entry described in spec.md §3.
type Skin struct {
	ID                 uint64     `json:"id"`
	Phash              string     `json:"phash"`
	UUID               string     `json:"uuid"`
	Name               string     `json:"name"`
	Variant            Variant    `json:"variant"`
	Visibility         Visibility `json:"visibility"`
	Value              string     `json:"value"`
	Signature          string     `json:"signature"`
	TextureURL         string     `json:"textureUrl"`
	TextureHash        string     `json:"textureHash"`
	Timestamp          int64      `json:"timestamp"`
	GenerateDurationMs int64      `json:"generateDurationMs"`
	AccountID          int64      `json:"accountId"`
	DuplicateCount     int64      `json:"duplicateCount"`
	ViewCount          int64      `json:"viewCount"`
	Via                string     `json:"via"`
	UserAgent          string     `json:"userAgent"`
	Source             string     `json:"source"`
}

// Account is the pool member described in spec.md §3.
type Account struct {
	ID                      int64  `json:"id"`
	Username                string `json:"username"`
	EncryptedPassword       string `json:"encryptedPassword"`
	EncryptedSecurityAnswer string `json:"encryptedSecurityAnswer,omitempty"`

	ClientToken string `json:"clientToken"`
	AccessToken string `json:"accessToken"`

	LastUsedSec        int64 `json:"lastUsedSec"`
	LastSelectedSec    int64 `json:"lastSelectedSec"`
	ForcedTimeoutAtSec int64 `json:"forcedTimeoutAtSec"`

	ErrorCounter        int   `json:"errorCounter"`
	SuccessCounter      int   `json:"successCounter"`
	TotalErrorCounter   int64 `json:"totalErrorCounter"`
	TotalSuccessCounter int64 `json:"totalSuccessCounter"`
	SameTextureCounter  int   `json:"sameTextureCounter"`

	Enabled       bool   `json:"enabled"`
	RequestServer string `json:"requestServer"`
	TimeAddedSec  int64  `json:"timeAddedSec"`

	// RequestIP is stamped by the orchestrator before each lease and
	// forwarded to the upstream as X-Forwarded-For / REMOTE_ADDR. It is
	// request provenance, not account identity, but travels with the
	// record for convenience.
	RequestIP string `json:"requestIp,omitempty"`
}

// Filter is the (name, variant, visibility) identity tuple spec.md §4.7
// calls out as part of skin identity.
type Filter struct {
	Name       string
	Variant    Variant
	Visibility Visibility
}

func (f Filter) matches(s *Skin) bool {
	return s.Name == f.Name && s.Variant == f.Variant && s.Visibility == f.Visibility
}

// Store is the full catalog contract, spec.md §4.6's operation table.
type Store interface {
	FindSkinByURLPattern(ctx context.Context, canonicalURL string, f Filter) (*Skin, error)
	FindSkinByUUID(ctx context.Context, uuid string, f Filter) (*Skin, error)
	FindSkinByHash(ctx context.Context, phash string, f Filter) (*Skin, error)
	FindSkinByID(ctx context.Context, id uint64) (*Skin, error)
	InsertSkin(ctx context.Context, skin *Skin) (*Skin, error)
	ExistsSkinID(ctx context.Context, id uint64) (bool, error)
	IncrementDuplicate(ctx context.Context, skin *Skin) (*Skin, error)

	FindEligibleAccount(ctx context.Context, selfServer string, locked map[int64]bool) (*Account, error)
	UpdateAccount(ctx context.Context, account *Account) error
	CountEnabledAccounts(ctx context.Context) (int64, error)

	// Close releases any underlying connection. A no-op for the memory
	// backend.
	Close() error
}
