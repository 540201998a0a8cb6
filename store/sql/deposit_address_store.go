package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/coinhaven/depositd/core"
)

// DepositAddressStore reads the deposit-address directory.
type DepositAddressStore struct {
	db   *bun.DB
	repo repository.Repository[*depositAddressRecord]
}

func NewDepositAddressStore(db *bun.DB) (*DepositAddressStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*depositAddressRecord](db, depositAddressHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid deposit address repository wiring: %w", err)
		}
	}
	return &DepositAddressStore{db: db, repo: repo}, nil
}

func (s *DepositAddressStore) ActiveByAddress(ctx context.Context, address string) ([]core.DepositAddress, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: deposit address store is not configured")
	}
	records := []*depositAddressRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.address = ?", strings.TrimSpace(address)).
		Where("?TableAlias.active = ?", true).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toDomainAddresses(records), nil
}

func (s *DepositAddressStore) ActiveByAddressAndTag(ctx context.Context, address string, tag string) ([]core.DepositAddress, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: deposit address store is not configured")
	}
	records := []*depositAddressRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.address = ?", strings.TrimSpace(address)).
		Where("?TableAlias.destination_tag = ?", strings.TrimSpace(tag)).
		Where("?TableAlias.active = ?", true).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toDomainAddresses(records), nil
}

func toDomainAddresses(records []*depositAddressRecord) []core.DepositAddress {
	addresses := make([]core.DepositAddress, 0, len(records))
	for _, record := range records {
		addresses = append(addresses, record.toDomain())
	}
	return addresses
}

const addressCacheKeyPrefix = "depositd::deposit_address::v1"

// CachedAddressDirectory caches directory reads. The directory is
// read-heavy and nearly static; every webhook resolves against it.
type CachedAddressDirectory struct {
	base  core.AddressDirectory
	cache repositorycache.CacheService
}

func NewCachedAddressDirectory(base core.AddressDirectory, cacheService repositorycache.CacheService) (*CachedAddressDirectory, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base address directory is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: address cache service is required")
	}
	return &CachedAddressDirectory{base: base, cache: cacheService}, nil
}

func addressCacheKey(address string, tag string) string {
	segments := []string{addressCacheKeyPrefix, url.PathEscape(strings.TrimSpace(address))}
	if tag != "" {
		segments = append(segments, url.PathEscape(strings.TrimSpace(tag)))
	}
	return strings.Join(segments, "::")
}

func (d *CachedAddressDirectory) ActiveByAddress(ctx context.Context, address string) ([]core.DepositAddress, error) {
	if d == nil || d.base == nil || d.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached address directory is not configured")
	}
	return repositorycache.GetOrFetch(ctx, d.cache, addressCacheKey(address, ""), func(ctx context.Context) ([]core.DepositAddress, error) {
		return d.base.ActiveByAddress(ctx, address)
	})
}

func (d *CachedAddressDirectory) ActiveByAddressAndTag(ctx context.Context, address string, tag string) ([]core.DepositAddress, error) {
	if d == nil || d.base == nil || d.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached address directory is not configured")
	}
	return repositorycache.GetOrFetch(ctx, d.cache, addressCacheKey(address, tag), func(ctx context.Context) ([]core.DepositAddress, error) {
		return d.base.ActiveByAddressAndTag(ctx, address, tag)
	})
}

// Invalidate drops cached entries for an address after directory changes.
func (d *CachedAddressDirectory) Invalidate(ctx context.Context, address string, tags ...string) error {
	if d == nil || d.cache == nil {
		return fmt.Errorf("sqlstore: cached address directory is not configured")
	}
	keys := []string{addressCacheKey(address, "")}
	for _, tag := range tags {
		keys = append(keys, addressCacheKey(address, tag))
	}
	for _, key := range keys {
		if err := d.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
