package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

type identityLookup interface {
	FindIdentities(ctx context.Context, ids []string) (map[string]models.RequesterIdentity, error)
}

// IdentityDirectory resolves requester display identities through the cache, falling back
// to a batched profile lookup.
type IdentityDirectory struct {
	profiles identityLookup
	cache    *CacheService
	logger   *zap.Logger
}

// NewIdentityDirectory constructs the directory. cache may be nil.
func NewIdentityDirectory(profiles identityLookup, cache *CacheService, logger *zap.Logger) *IdentityDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityDirectory{profiles: profiles, cache: cache, logger: logger}
}

func identityCacheKey(userID string) string {
	return "identity:" + userID
}

// Resolve returns an identity for every id. Ids that cannot be resolved map to the
// unknown-user placeholder; lookup failures never drop entries.
func (d *IdentityDirectory) Resolve(ctx context.Context, ids []string) map[string]models.RequesterIdentity {
	result := make(map[string]models.RequesterIdentity, len(ids))
	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		var cached models.RequesterIdentity
		if d.cache.Get(ctx, identityCacheKey(id), &cached) {
			result[id] = cached
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 && d.profiles != nil {
		found, err := d.profiles.FindIdentities(ctx, missing)
		if err != nil {
			d.logger.Warn("requester identity lookup failed", zap.Int("ids", len(missing)), zap.Error(err))
		}
		for id, identity := range found {
			result[id] = identity
			d.cache.Set(ctx, identityCacheKey(id), identity, 0)
		}
	}

	for _, id := range ids {
		if _, ok := result[id]; !ok {
			result[id] = models.UnknownRequester(id)
		}
	}
	return result
}

// Forget drops the cached identity of userID after a profile change.
func (d *IdentityDirectory) Forget(ctx context.Context, userID string) {
	if d == nil {
		return
	}
	d.cache.Invalidate(ctx, identityCacheKey(userID))
}
