// Package mutelist maintains the set of accounts muted in the configured
// community. The set comes from a remote subscriber listing, is cached in
// memory and in durable storage with a TTL, and is refreshed with at most one
// remote fetch in flight at a time. Lookups fail open: if the list cannot be
// fetched, nobody is treated as muted.
package mutelist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/snapie/snapengine/kvstore"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 24 * time.Hour

	storageKey     = "snapie_muted_list"
	fetchBatchSize = 100
	mutedRole      = "muted"
)

type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Set is a read-only snapshot of muted account names, all lower case.
// Consumers must not mutate it.
type Set map[string]struct{}

func (s Set) Contains(account string) bool {
	_, ok := s[strings.ToLower(account)]

	return ok
}

type Service struct {
	caller    Caller
	store     kvstore.Store
	community string
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	cached    Set
	fetchedAt time.Time
}

func NewService(caller Caller, store kvstore.Store, community string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		caller:    caller,
		store:     store,
		community: community,
		ttl:       DefaultTTL,
		logger:    logger,
		now:       time.Now,
	}
}

type storageBlob struct {
	Accounts  []string `json:"accounts"`
	Timestamp int64    `json:"timestamp"`
}

// Get returns the muted set, refreshing it when stale. On fetch failure it
// returns an empty set along with the error so callers can decide; the
// failure is never cached and the next call retries.
func (svc *Service) Get(ctx context.Context) (Set, error) {
	svc.mu.RLock()
	cached, fetchedAt := svc.cached, svc.fetchedAt
	svc.mu.RUnlock()

	if cached != nil && svc.fresh(fetchedAt) {
		return cached, nil
	}

	if set, ok := svc.loadStored(ctx); ok {
		return set, nil
	}

	return svc.refresh(ctx)
}

// Refresh forces a remote fetch, bypassing the memory and storage snapshots.
// Concurrent refreshes still collapse into a single remote call.
func (svc *Service) Refresh(ctx context.Context) (Set, error) {
	return svc.refresh(ctx)
}

// Invalidate drops both cache layers. The next Get fetches remotely.
func (svc *Service) Invalidate(ctx context.Context) {
	svc.mu.Lock()
	svc.cached = nil
	svc.fetchedAt = time.Time{}
	svc.mu.Unlock()

	if err := svc.store.Delete(ctx, storageKey); err != nil {
		svc.logger.ErrorContext(ctx, "failed to delete stored muted list", "error", err)
	}
}

// IsMuted reports whether the author is on the muted list. Fail-open: any
// fetch error admits the author.
func (svc *Service) IsMuted(ctx context.Context, author string) bool {
	set, err := svc.Get(ctx)
	if err != nil {
		svc.logger.WarnContext(ctx, "muted list unavailable, treating author as not muted",
			"author", author, "error", err)

		return false
	}

	return set.Contains(author)
}

func (svc *Service) fresh(fetchedAt time.Time) bool {
	return !fetchedAt.IsZero() && svc.now().Sub(fetchedAt) < svc.ttl
}

func (svc *Service) loadStored(ctx context.Context) (Set, bool) {
	raw, ok, err := svc.store.Get(ctx, storageKey)
	if err != nil {
		svc.logger.ErrorContext(ctx, "failed to read stored muted list", "error", err)

		return nil, false
	}

	if !ok {
		return nil, false
	}

	var blob storageBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		svc.logger.WarnContext(ctx, "stored muted list is malformed, ignoring", "error", err)

		return nil, false
	}

	fetchedAt := time.UnixMilli(blob.Timestamp)
	if !svc.fresh(fetchedAt) {
		return nil, false
	}

	set := make(Set, len(blob.Accounts))
	for _, account := range blob.Accounts {
		set[strings.ToLower(account)] = struct{}{}
	}

	svc.mu.Lock()
	svc.cached = set
	svc.fetchedAt = fetchedAt
	svc.mu.Unlock()

	return set, true
}

func (svc *Service) refresh(ctx context.Context) (Set, error) {
	res, err, _ := svc.group.Do(storageKey, func() (any, error) {
		return svc.fetch(ctx)
	})
	if err != nil {
		return Set{}, err
	}

	return res.(Set), nil
}

func (svc *Service) fetch(ctx context.Context) (Set, error) {
	accounts, err := svc.fetchSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch muted list: %w", err)
	}

	set := make(Set, len(accounts))
	for _, account := range accounts {
		set[strings.ToLower(account)] = struct{}{}
	}

	fetchedAt := svc.now()

	svc.mu.Lock()
	svc.cached = set
	svc.fetchedAt = fetchedAt
	svc.mu.Unlock()

	svc.persist(ctx, set, fetchedAt)

	return set, nil
}

// fetchSubscribers pages bridge.list_subscribers and keeps only entries whose
// role is "muted". Each entry is an [account, role, title, date] tuple.
func (svc *Service) fetchSubscribers(ctx context.Context) ([]string, error) {
	var (
		muted []string
		last  string
	)

	for {
		params := map[string]any{
			"community": svc.community,
			"limit":     fetchBatchSize,
		}
		if last != "" {
			params["last"] = last
		}

		raw, err := svc.caller.Call(ctx, "bridge.list_subscribers", params)
		if err != nil {
			return nil, err
		}

		var entries [][]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode subscriber entries: %w", err)
		}

		for _, entry := range entries {
			if len(entry) < 2 {
				continue
			}

			var account, role string
			if err := json.Unmarshal(entry[0], &account); err != nil {
				continue
			}
			if err := json.Unmarshal(entry[1], &role); err != nil {
				continue
			}

			if role == mutedRole {
				muted = append(muted, account)
			}

			last = account
		}

		if len(entries) < fetchBatchSize {
			return muted, nil
		}
	}
}

func (svc *Service) persist(ctx context.Context, set Set, fetchedAt time.Time) {
	blob := storageBlob{
		Accounts:  make([]string, 0, len(set)),
		Timestamp: fetchedAt.UnixMilli(),
	}
	for account := range set {
		blob.Accounts = append(blob.Accounts, account)
	}

	raw, err := json.Marshal(blob)
	if err != nil {
		svc.logger.ErrorContext(ctx, "failed to marshal muted list blob", "error", err)

		return
	}

	if err := svc.store.Set(ctx, storageKey, string(raw)); err != nil {
		svc.logger.ErrorContext(ctx, "failed to persist muted list", "error", err)
	}
}
