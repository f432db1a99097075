// Package dedup runs the three deterministic duplicate probes the
// orchestrator consults before ever touching an upstream account
// (spec.md §4.7): a source-URL probe, a user-UUID probe, and a
// perceptual-hash probe, each tagged for observability.
package dedup

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/mineskin-go/generator/internal/catalog"
)

// Source tags the probe that produced a hit, spec.md §4.7's
// "counter-source tag".
type Source string

const (
	SourceMineSkinURL Source = "mineskin_url"
	SourceTextureURL  Source = "texture_url"
	SourceUserUUID    Source = "user_uuid"
	SourceImageHash   Source = "image_hash"
)

var (
	catalogURLPattern = regexp.MustCompile(`/([0-9]+)$`)
	textureURLPattern = regexp.MustCompile(`/texture/([0-9a-z]+)$`)
)

// Detector binds the three probes to a catalog backend.
type Detector struct {
	store catalog.Store
}

// New builds a Detector.
func New(store catalog.Store) *Detector {
	return &Detector{store: store}
}

// Hit is returned on any probe match: the (already duplicateCount++)
// skin record and which probe found it.
type Hit struct {
	Skin   *catalog.Skin
	Source Source
}

// ProbeSourceURL implements stage B for URL inputs (spec.md §4.7.1):
// match either the internal catalog URL pattern or the canonical
// upstream texture URL pattern. The catalog form (".../skin/1234") names
// an id directly, so it is looked up by id rather than by textureUrl;
// the texture-service form is looked up by textureUrl or, failing that,
// by the texture hash embedded in the URL. Either form only matches a
// skin with the same (name, variant, visibility) as f.
func (d *Detector) ProbeSourceURL(ctx context.Context, resolvedURL string, f catalog.Filter) (*Hit, error) {
	if m := textureURLPattern.FindStringSubmatch(resolvedURL); m != nil {
		skin, err := d.store.FindSkinByURLPattern(ctx, resolvedURL, f)
		if err == nil {
			return d.recordHit(ctx, skin, SourceTextureURL)
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		skin, err = d.store.FindSkinByHash(ctx, m[1], f)
		if err == nil {
			return d.recordHit(ctx, skin, SourceTextureURL)
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		return nil, nil
	}

	if m := catalogURLPattern.FindStringSubmatch(resolvedURL); m != nil {
		id, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return nil, nil
		}
		skin, err := d.store.FindSkinByID(ctx, id)
		if err == nil {
			if skin.Name != f.Name || skin.Variant != f.Variant || skin.Visibility != f.Visibility {
				return nil, nil
			}
			return d.recordHit(ctx, skin, SourceMineSkinURL)
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// ProbeUserUUID implements stage B for user inputs: match by the long
// form of the stored uuid.
func (d *Detector) ProbeUserUUID(ctx context.Context, longUUID string, f catalog.Filter) (*Hit, error) {
	longUUID = strings.ReplaceAll(longUUID, "-", "")
	skin, err := d.store.FindSkinByUUID(ctx, longUUID, f)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return d.recordHit(ctx, skin, SourceUserUUID)
}

// ProbeImageHash implements stage C, run after validation for URL and
// upload inputs: lookup by the computed phash.
func (d *Detector) ProbeImageHash(ctx context.Context, phash string, f catalog.Filter) (*Hit, error) {
	skin, err := d.store.FindSkinByHash(ctx, phash, f)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return d.recordHit(ctx, skin, SourceImageHash)
}

func (d *Detector) recordHit(ctx context.Context, skin *catalog.Skin, source Source) (*Hit, error) {
	updated, err := d.store.IncrementDuplicate(ctx, skin)
	if err != nil {
		return nil, err
	}
	return &Hit{Skin: updated, Source: source}, nil
}
