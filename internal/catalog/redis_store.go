package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists skins and accounts as JSON documents keyed by id,
// with secondary index sets for membership scans and direct lookup keys
// for the (name,variant,visibility)-scoped probes spec.md §4.7 needs.
type RedisStore struct {
	client         *redis.Client
	prefix         string
	errorThreshold int
}

// NewRedisStore dials addr and returns a ready RedisStore.
func NewRedisStore(addr, password string, db int, prefix string, errorThreshold int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("catalog: connecting to redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, errorThreshold: errorThreshold}, nil
}

// newRedisStoreFromClient wires an already-constructed client, used by
// tests running against miniredis.
func newRedisStoreFromClient(client *redis.Client, prefix string, errorThreshold int) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, errorThreshold: errorThreshold}
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) skinKey(id uint64) string {
	return r.prefix + "skins:id:" + strconv.FormatUint(id, 10)
}
func (r *RedisStore) skinSetKey() string { return r.prefix + "skins:all" }
func (r *RedisStore) accountKey(id int64) string {
	return r.prefix + "accounts:id:" + strconv.FormatInt(id, 10)
}
func (r *RedisStore) accountSetKey() string { return r.prefix + "accounts:all" }

func filterIndexKey(prefix, probe, uuidOrURLOrHash string, f Filter) string {
	return fmt.Sprintf("%sskins:%s:%s|%s|%s|%s", prefix, probe, f.Name, f.Variant, f.Visibility, uuidOrURLOrHash)
}

func (r *RedisStore) urlIndexKey(url string, f Filter) string {
	return filterIndexKey(r.prefix, "byurl", url, f)
}
func (r *RedisStore) uuidIndexKey(uuid string, f Filter) string {
	return filterIndexKey(r.prefix, "byuuid", uuid, f)
}
func (r *RedisStore) hashIndexKey(hash string, f Filter) string {
	return filterIndexKey(r.prefix, "byhash", hash, f)
}

func (r *RedisStore) getSkinByIndex(ctx context.Context, indexKey string) (*Skin, error) {
	idStr, err := r.client.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return nil, err
	}
	return r.getSkin(ctx, id)
}

func (r *RedisStore) getSkin(ctx context.Context, id uint64) (*Skin, error) {
	data, err := r.client.Get(ctx, r.skinKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Skin
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) FindSkinByURLPattern(ctx context.Context, canonicalURL string, f Filter) (*Skin, error) {
	return r.getSkinByIndex(ctx, r.urlIndexKey(canonicalURL, f))
}

func (r *RedisStore) FindSkinByUUID(ctx context.Context, uuid string, f Filter) (*Skin, error) {
	return r.getSkinByIndex(ctx, r.uuidIndexKey(uuid, f))
}

func (r *RedisStore) FindSkinByHash(ctx context.Context, phash string, f Filter) (*Skin, error) {
	return r.getSkinByIndex(ctx, r.hashIndexKey(phash, f))
}

// FindSkinByID looks a skin up directly by its allocated id, used by the
// internal catalog-URL dedup probe (e.g. "/skin/1234") where the id is
// already named in the URL rather than needing a secondary index.
func (r *RedisStore) FindSkinByID(ctx context.Context, id uint64) (*Skin, error) {
	return r.getSkin(ctx, id)
}

func (r *RedisStore) ExistsSkinID(ctx context.Context, id uint64) (bool, error) {
	n, err := r.client.Exists(ctx, r.skinKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) InsertSkin(ctx context.Context, skin *Skin) (*Skin, error) {
	exists, err := r.ExistsSkinID(ctx, skin.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrCollision
	}

	data, err := json.Marshal(skin)
	if err != nil {
		return nil, err
	}

	f := Filter{Name: skin.Name, Variant: skin.Variant, Visibility: skin.Visibility}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.skinKey(skin.ID), data, 0)
	pipe.SAdd(ctx, r.skinSetKey(), skin.ID)
	idStr := strconv.FormatUint(skin.ID, 10)
	if skin.TextureURL != "" {
		pipe.Set(ctx, r.urlIndexKey(skin.TextureURL, f), idStr, 0)
	}
	if skin.UUID != "" {
		pipe.Set(ctx, r.uuidIndexKey(skin.UUID, f), idStr, 0)
	}
	if skin.Phash != "" {
		pipe.Set(ctx, r.hashIndexKey(skin.Phash, f), idStr, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	cp := *skin
	return &cp, nil
}

func (r *RedisStore) IncrementDuplicate(ctx context.Context, skin *Skin) (*Skin, error) {
	s, err := r.getSkin(ctx, skin.ID)
	if err != nil {
		return nil, err
	}
	s.DuplicateCount++
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, r.skinKey(s.ID), data, 0).Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStore) getAccount(ctx context.Context, id int64) (*Account, error) {
	data, err := r.client.Get(ctx, r.accountKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *RedisStore) listAccounts(ctx context.Context) ([]*Account, error) {
	ids, err := r.client.SMembers(ctx, r.accountSetKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, r.accountKey(id))
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, k)
	}
	_, _ = pipe.Exec(ctx) // individual cmd errors (incl. redis.Nil) inspected below

	accounts := make([]*Account, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			continue
		}
		var a Account
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			continue
		}
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

func (r *RedisStore) FindEligibleAccount(ctx context.Context, selfServer string, locked map[int64]bool) (*Account, error) {
	accounts, err := r.listAccounts(ctx)
	if err != nil {
		return nil, err
	}
	best := selectBest(accounts, eligibleParams{
		now:            nowSec(),
		errorThreshold: r.errorThreshold,
		selfServer:     selfServer,
		locked:         locked,
	})
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (r *RedisStore) CountEnabledAccounts(ctx context.Context) (int64, error) {
	accounts, err := r.listAccounts(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, a := range accounts {
		if a.Enabled {
			n++
		}
	}
	return n, nil
}

func (r *RedisStore) UpdateAccount(ctx context.Context, account *Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.accountKey(account.ID), data, 0)
	pipe.SAdd(ctx, r.accountSetKey(), account.ID)
	_, err = pipe.Exec(ctx)
	return err
}
