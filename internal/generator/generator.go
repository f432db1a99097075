// Package generator is the end-to-end orchestrator (spec.md §4.10):
// three entry points sharing a common skeleton of input acquisition,
// early duplicate probes, validation, upstream skin-change, result
// fetch, and persistence.
package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mineskin-go/generator/internal/apperr"
	"github.com/mineskin-go/generator/internal/authengine"
	"github.com/mineskin-go/generator/internal/catalog"
	"github.com/mineskin-go/generator/internal/dedup"
	"github.com/mineskin-go/generator/internal/imaging"
	"github.com/mineskin-go/generator/internal/metrics"
	"github.com/mineskin-go/generator/internal/phash"
	"github.com/mineskin-go/generator/internal/scheduler"
	"github.com/mineskin-go/generator/internal/tempfile"
)

const maxRedirects = 5

// UpstreamClient is the subset of upstream.Client the orchestrator
// drives directly, beyond what authengine already wraps.
type UpstreamClient interface {
	ChangeSkinURL(ctx context.Context, accessToken, variant, url, forwardedFor string) error
	ChangeSkinUpload(ctx context.Context, accessToken, variant string, file []byte, forwardedFor string) error
	FetchProfile(ctx context.Context, accessToken, forwardedFor string) (value, signature string, err error)
	FetchPublicProfile(ctx context.Context, uuid, forwardedFor string) (value, signature string, err error)
}

// Options carries the caller-supplied generation metadata, the part of
// GenerateOptions the HTTP layer is responsible for validating before it
// ever reaches the engine.
type Options struct {
	Name            string
	Variant         imaging.Variant
	Visibility      catalog.Visibility
	Via             string
	UserAgent       string
	RequestIP       string
	RequestServerID string
}

func (o Options) filter() catalog.Filter {
	return catalog.Filter{
		Name:       o.Name,
		Variant:    catalog.Variant(o.Variant),
		Visibility: o.Visibility,
	}
}

// Engine wires every leaf package into the three generation entry
// points. One Engine is shared across all concurrent requests; nothing
// on it is request-scoped except what callers pass in.
type Engine struct {
	catalog    catalog.Store
	dedup      *dedup.Detector
	scheduler  *scheduler.Scheduler
	auth       *authengine.Engine
	upstream   UpstreamClient
	tempfiles  *tempfile.Manager
	ids        idAllocator
	httpClient *http.Client

	allowedFollowHosts map[string]bool
	logger             *slog.Logger
}

// idAllocator is the subset of idalloc.Allocator the engine needs,
// narrowed so tests can substitute a deterministic fake.
type idAllocator interface {
	NewID(ctx context.Context) (uint64, error)
}

// Config bundles the collaborators New needs; kept as a struct rather
// than a long positional argument list, matching how the teacher wires
// its handler constructors.
type Config struct {
	Catalog            catalog.Store
	Scheduler          *scheduler.Scheduler
	Auth               *authengine.Engine
	Upstream           UpstreamClient
	TempFiles          *tempfile.Manager
	IDs                idAllocator
	HTTPClient         *http.Client
	AllowedFollowHosts []string
	Logger             *slog.Logger
}

// New builds an Engine from its collaborators.
func New(cfg Config) *Engine {
	hosts := make(map[string]bool, len(cfg.AllowedFollowHosts))
	for _, h := range cfg.AllowedFollowHosts {
		hosts[strings.ToLower(h)] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = tempfile.DefaultHTTPClient()
	}
	return &Engine{
		catalog:            cfg.Catalog,
		dedup:              dedup.New(cfg.Catalog),
		scheduler:          cfg.Scheduler,
		auth:               cfg.Auth,
		upstream:           cfg.Upstream,
		tempfiles:          cfg.TempFiles,
		ids:                cfg.IDs,
		httpClient:         httpClient,
		allowedFollowHosts: hosts,
		logger:             logger,
	}
}

var textureURLHashPattern = regexp.MustCompile(`/texture/([0-9a-z]+)$`)

// FromURL implements spec.md §4.10's fromUrl entry point.
func (e *Engine) FromURL(ctx context.Context, sourceURL string, opts Options) (*catalog.Skin, error) {
	start := time.Now()

	resolvedURL, err := e.resolveAllowedURL(ctx, sourceURL)
	if err != nil {
		e.emitDuration(metrics.InputURL, errOutcome(err), start)
		return nil, err
	}

	if hit, err := e.dedup.ProbeSourceURL(ctx, resolvedURL, opts.filter()); err != nil {
		e.emitDuration(metrics.InputURL, errOutcome(err), start)
		return nil, err
	} else if hit != nil {
		metrics.CountDuplicateHit(string(hit.Source))
		e.emitDuration(metrics.InputURL, "duplicate", start)
		return hit.Skin, nil
	}

	handle, err := e.tempfiles.Acquire(tempfile.RootURLDownload)
	if err != nil {
		e.emitDuration(metrics.InputURL, errOutcome(err), start)
		return nil, apperr.ErrInvalidImageURL.WithCause(err)
	}
	defer handle.Release()

	if err := tempfile.DownloadTo(ctx, e.httpClient, handle, resolvedURL); err != nil {
		e.emitDuration(metrics.InputURL, errOutcome(err), start)
		return nil, apperr.ErrInvalidImageURL.WithCause(err)
	}
	data, err := handle.ReadAll()
	if err != nil {
		e.emitDuration(metrics.InputURL, errOutcome(err), start)
		return nil, apperr.ErrInvalidImageURL.WithCause(err)
	}

	skin, err := e.validateProbeAndPersist(ctx, data, opts, start, metrics.InputURL, func(accessToken string) error {
		return e.upstream.ChangeSkinURL(ctx, accessToken, string(opts.Variant), resolvedURL, opts.RequestIP)
	})
	return skin, err
}

// FromUpload implements spec.md §4.10's fromUpload entry point.
func (e *Engine) FromUpload(ctx context.Context, data []byte, opts Options) (*catalog.Skin, error) {
	start := time.Now()
	skin, err := e.validateProbeAndPersist(ctx, data, opts, start, metrics.InputUpload, func(accessToken string) error {
		return e.upstream.ChangeSkinUpload(ctx, accessToken, string(opts.Variant), data, opts.RequestIP)
	})
	return skin, err
}

// FromUser implements spec.md §4.10's fromUser entry point: stage A
// translates the input to its long/short uuid forms and skips download;
// stage D clones the target user's current texture onto the leased
// account instead of an engine-supplied image.
func (e *Engine) FromUser(ctx context.Context, userUUID string, opts Options) (*catalog.Skin, error) {
	start := time.Now()
	longUUID := normalizeUUID(userUUID)

	if hit, err := e.dedup.ProbeUserUUID(ctx, longUUID, opts.filter()); err != nil {
		e.emitDuration(metrics.InputUser, errOutcome(err), start)
		return nil, err
	} else if hit != nil {
		metrics.CountDuplicateHit(string(hit.Source))
		e.emitDuration(metrics.InputUser, "duplicate", start)
		return hit.Skin, nil
	}

	sourceValue, _, err := e.upstream.FetchPublicProfile(ctx, longUUID, opts.RequestIP)
	if err != nil {
		e.emitDuration(metrics.InputUser, errOutcome(err), start)
		return nil, apperr.Wrap(apperr.ErrInvalidSkinData, err)
	}
	sourceTextureURL, err := extractSkinTextureURL(sourceValue)
	if err != nil {
		e.emitDuration(metrics.InputUser, errOutcome(err), start)
		return nil, apperr.Wrap(apperr.ErrInvalidSkinData, err)
	}

	skin, err := e.acquireAuthenticateAndPersist(ctx, opts, start, metrics.InputUser, "", func(accessToken string) error {
		return e.upstream.ChangeSkinURL(ctx, accessToken, string(opts.Variant), sourceTextureURL, opts.RequestIP)
	})
	return skin, err
}

// validateProbeAndPersist runs stages C-F shared by the URL and upload
// entry points: validate the image, probe by hash, then hand off to the
// account/upstream/persist pipeline.
func (e *Engine) validateProbeAndPersist(ctx context.Context, data []byte, opts Options, start time.Time, inputType metrics.InputType, changeSkin func(accessToken string) error) (*catalog.Skin, error) {
	validated, err := imaging.Validate(data, imaging.Options{Variant: imaging.Variant(opts.Variant)})
	if err != nil {
		e.emitDuration(inputType, errOutcome(err), start)
		return nil, err
	}
	opts.Variant = validated.Variant

	hash, err := phash.Hash(validated.Bytes)
	if err != nil {
		e.emitDuration(inputType, errOutcome(err), start)
		return nil, apperr.Wrap(apperr.ErrInvalidImage, err)
	}
	if hit, err := e.dedup.ProbeImageHash(ctx, hash, opts.filter()); err != nil {
		e.emitDuration(inputType, errOutcome(err), start)
		return nil, err
	} else if hit != nil {
		metrics.CountDuplicateHit(string(hit.Source))
		e.emitDuration(inputType, "duplicate", start)
		return hit.Skin, nil
	}

	return e.acquireAuthenticateAndPersist(ctx, opts, start, inputType, hash, changeSkin)
}

// acquireAuthenticateAndPersist implements stages D-G: account
// acquisition, authentication, the upstream skin-change call, profile
// re-fetch, id allocation, and insert. leasePhash is the phash already
// computed by the URL/upload path, if any; it is recomputed from the
// fetched texture for fromUser since no local image exists yet.
func (e *Engine) acquireAuthenticateAndPersist(ctx context.Context, opts Options, start time.Time, inputType metrics.InputType, leasePhash string, changeSkin func(accessToken string) error) (*catalog.Skin, error) {
	leased, err := e.scheduler.Acquire(ctx)
	if err != nil {
		e.emitDuration(inputType, errOutcome(err), start)
		return nil, err
	}

	skin, duplicateHit, err := e.runLeasedPipeline(ctx, leased, opts, leasePhash, changeSkin)
	if err != nil {
		kind := scheduler.FailureOther
		if ae, ok := apperr.As(err); ok && ae.Code == apperr.CodeAuth {
			kind = scheduler.FailureAuth
		}
		if releaseErr := leased.ReleaseFailure(ctx, kind); releaseErr != nil {
			e.logger.Error("release-failure bookkeeping failed", "account", leased.Account.ID, "err", releaseErr)
		}
		e.emitDuration(inputType, errOutcome(err), start)
		return nil, err
	}

	if duplicateHit != nil {
		// The leased account ended up producing a texture the catalog
		// already has under someone else's request; sink it in the
		// eligibility ordering (SPEC_FULL.md §D.2). The upstream round
		// trip itself worked, so the lease is still released as a success.
		if err := leased.NoteDuplicateTexture(ctx); err != nil {
			e.logger.Error("note-duplicate-texture bookkeeping failed", "account", leased.Account.ID, "err", err)
		}
		if releaseErr := leased.ReleaseSuccess(ctx); releaseErr != nil {
			e.logger.Error("release-success bookkeeping failed", "account", leased.Account.ID, "err", releaseErr)
		}
		metrics.CountDuplicateHit(string(duplicateHit.Source))
		e.emitDuration(inputType, "duplicate", start)
		return duplicateHit.Skin, nil
	}

	if releaseErr := leased.ReleaseSuccess(ctx); releaseErr != nil {
		e.logger.Error("release-success bookkeeping failed", "account", leased.Account.ID, "err", releaseErr)
	}
	skin.GenerateDurationMs = time.Since(start).Milliseconds()
	e.emitDuration(inputType, "success", start)
	return skin, nil
}

// runLeasedPipeline implements stages D-F against a leased account. It
// returns a non-nil dedup.Hit instead of a skin when the account's
// upstream round-trip produced a texture the catalog already has —
// a late duplicate the earlier, pre-lease probes couldn't have caught
// for fromUser (no local image to hash) or a same-request race for
// the URL/upload paths.
func (e *Engine) runLeasedPipeline(ctx context.Context, leased *scheduler.LeasedAccount, opts Options, leasePhash string, changeSkin func(accessToken string) error) (*catalog.Skin, *dedup.Hit, error) {
	account := leased.Account
	account.RequestIP = opts.RequestIP
	if opts.RequestServerID != "" {
		account.RequestServer = opts.RequestServerID
	}

	if err := e.auth.EnsureAuthenticated(ctx, account); err != nil {
		return nil, nil, err
	}

	if err := changeSkin(account.AccessToken); err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrSkinChangeFailed, err)
	}

	value, signature, err := e.upstream.FetchProfile(ctx, account.AccessToken, opts.RequestIP)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrSkinChangeFailed, err)
	}

	textureURL, err := extractSkinTextureURL(value)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrInvalidSkinData, err)
	}

	handle, err := e.tempfiles.Acquire(tempfile.RootUpstreamTexture)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrSkinChangeFailed, err)
	}
	defer handle.Release()

	if err := tempfile.DownloadTo(ctx, e.httpClient, handle, textureURL); err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrSkinChangeFailed, err)
	}
	textureBytes, err := handle.ReadAll()
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrSkinChangeFailed, err)
	}

	computedPhash := leasePhash
	if computedPhash == "" {
		computedPhash, err = phash.Hash(textureBytes)
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.ErrInvalidSkinData, err)
		}
	}

	if hit, err := e.dedup.ProbeImageHash(ctx, computedPhash, opts.filter()); err != nil {
		return nil, nil, err
	} else if hit != nil {
		return nil, hit, nil
	}

	id, err := e.ids.NewID(ctx)
	if err != nil {
		return nil, nil, err
	}

	skin := &catalog.Skin{
		ID:          id,
		Phash:       computedPhash,
		UUID:        account.Username,
		Name:        opts.Name,
		Variant:     catalog.Variant(opts.Variant),
		Visibility:  opts.Visibility,
		Value:       value,
		Signature:   signature,
		TextureURL:  textureURL,
		TextureHash: textureHashFromURL(textureURL),
		Timestamp:   time.Now().Unix(),
		AccountID:   account.ID,
		Via:         opts.Via,
		UserAgent:   opts.UserAgent,
		Source:      string(opts.Variant),
	}
	inserted, err := e.catalog.InsertSkin(ctx, skin)
	for errors.Is(err, catalog.ErrCollision) {
		// Another request inserted this id after NewID checked it; draw again.
		if skin.ID, err = e.ids.NewID(ctx); err != nil {
			return nil, nil, err
		}
		inserted, err = e.catalog.InsertSkin(ctx, skin)
	}
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrFailedToCreateID, err)
	}
	return inserted, nil, nil
}

// resolveAllowedURL HEAD-follows sourceURL up to maxRedirects, requiring
// every hop's host to be allowlisted and the final response to carry an
// image/png content-type within the size bounds spec.md §4.10 Stage A
// names. It returns the final resolved URL.
func (e *Engine) resolveAllowedURL(ctx context.Context, sourceURL string) (string, error) {
	current := sourceURL
	client := &http.Client{
		Timeout: e.httpClient.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	for i := 0; i <= maxRedirects; i++ {
		parsed, err := url.Parse(current)
		if err != nil {
			return "", apperr.ErrInvalidImageURL.WithCause(err)
		}
		if !e.allowedFollowHosts[strings.ToLower(parsed.Hostname())] {
			return "", apperr.ErrInvalidImageURL.WithMessage(fmt.Sprintf("host %q is not in the follow allowlist", parsed.Hostname()))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, current, nil)
		if err != nil {
			return "", apperr.ErrInvalidImageURL.WithCause(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", apperr.ErrInvalidImageURL.WithCause(err)
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			if loc == "" {
				return "", apperr.ErrInvalidImageURL.WithMessage("redirect response missing Location header")
			}
			next, err := parsed.Parse(loc)
			if err != nil {
				return "", apperr.ErrInvalidImageURL.WithCause(err)
			}
			current = next.String()
			continue
		}

		if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
			return "", apperr.ErrInvalidImageURL.WithMessage(fmt.Sprintf("content-type %q is not image/png", ct))
		}
		if cl := resp.ContentLength; cl < 100 || cl > 20_000 {
			return "", apperr.ErrInvalidImageURL.WithMessage(fmt.Sprintf("content-length %d is outside [100,20000]", cl))
		}
		return current, nil
	}
	return "", apperr.ErrInvalidImageURL.WithMessage("too many redirects")
}

func (e *Engine) emitDuration(inputType metrics.InputType, outcome string, start time.Time) {
	metrics.ObserveGeneration(inputType, outcome, time.Since(start).Seconds())
}

func errOutcome(err error) string {
	if ae, ok := apperr.As(err); ok {
		return ae.Code
	}
	return "error"
}

// normalizeUUID strips hyphens, matching the long-form comparison the
// catalog's uuid probe expects.
func normalizeUUID(u string) string {
	return strings.ReplaceAll(u, "-", "")
}

type texturesProperty struct {
	Textures struct {
		Skin struct {
			URL string `json:"url"`
		} `json:"SKIN"`
	} `json:"textures"`
}

// extractSkinTextureURL base64-decodes the profile's "value" blob and
// pulls textures.SKIN.url out of it, per spec.md §4.10 Stage E.
func extractSkinTextureURL(valueB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(valueB64)
	if err != nil {
		return "", fmt.Errorf("generator: profile value is not valid base64: %w", err)
	}
	var parsed texturesProperty
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("generator: profile value is not valid JSON: %w", err)
	}
	if parsed.Textures.Skin.URL == "" {
		return "", fmt.Errorf("generator: profile is missing a SKIN texture")
	}
	return parsed.Textures.Skin.URL, nil
}

// textureHashFromURL returns the last path segment of textureURL when it
// matches the canonical texture URL pattern, per spec.md §3's definition
// of textureHash; otherwise empty.
func textureHashFromURL(textureURL string) string {
	if m := textureURLHashPattern.FindStringSubmatch(textureURL); m != nil {
		return m[1]
	}
	return ""
}
