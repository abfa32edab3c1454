// Package follow fetches the accounts a user follows, paging through the
// blockchain follow API and caching the full list per username for the
// session.
package follow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const pageSize = 1000

type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

type Service struct {
	caller Caller
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string][]string
}

func NewService(caller Caller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		caller: caller,
		logger: logger,
		cache:  make(map[string][]string),
	}
}

type followEntry struct {
	Follower  string `json:"follower"`
	Following string `json:"following"`
}

// Following returns every account the user follows, in the order the chain
// reports them. The first successful fetch is cached for the session.
func (svc *Service) Following(ctx context.Context, username string) ([]string, error) {
	username = strings.ToLower(username)

	svc.mu.Lock()
	cached, ok := svc.cache[username]
	svc.mu.Unlock()

	if ok {
		return cached, nil
	}

	var (
		following []string
		start     string
	)

	for {
		raw, err := svc.caller.Call(ctx, "condenser_api.get_following",
			[]any{username, start, "blog", pageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch following page: %w", err)
		}

		var entries []followEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode following page: %w", err)
		}

		for _, entry := range entries {
			// The start account is repeated as the first entry of every page
			// after the first.
			if entry.Following == start && start != "" {
				continue
			}

			following = append(following, entry.Following)
		}

		if len(entries) < pageSize {
			break
		}

		start = entries[len(entries)-1].Following
	}

	svc.mu.Lock()
	svc.cache[username] = following
	svc.mu.Unlock()

	return following, nil
}

func (svc *Service) Invalidate(username string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	delete(svc.cache, strings.ToLower(username))
}
