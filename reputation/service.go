// Package reputation screens out very-low-reputation authors. Scores come
// from the account's raw blockchain reputation, converted to the familiar
// log10 display scale where a fresh account sits at 25.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
)

// DefaultThreshold is the fresh-account baseline; anything below it has been
// actively downvoted.
const DefaultThreshold = 25

type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

type Service struct {
	caller    Caller
	threshold float64
	logger    *slog.Logger

	mu     sync.Mutex
	scores map[string]float64
}

func NewService(caller Caller, threshold float64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		caller:    caller,
		threshold: threshold,
		logger:    logger,
		scores:    make(map[string]float64),
	}
}

// Passes reports whether the author's reputation score meets the threshold.
// Fail-open: any lookup or decode error admits the author; spam filtering is
// best-effort and must never take the feed down with it.
func (svc *Service) Passes(ctx context.Context, author string) bool {
	score, err := svc.score(ctx, author)
	if err != nil {
		svc.logger.WarnContext(ctx, "reputation unavailable, admitting author",
			"author", author, "error", err)

		return true
	}

	return score >= svc.threshold
}

func (svc *Service) score(ctx context.Context, author string) (float64, error) {
	author = strings.ToLower(author)

	svc.mu.Lock()
	score, ok := svc.scores[author]
	svc.mu.Unlock()

	if ok {
		return score, nil
	}

	raw, err := svc.caller.Call(ctx, "condenser_api.get_accounts", []any{[]string{author}})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch account: %w", err)
	}

	var accounts []struct {
		Name       string          `json:"name"`
		Reputation json.RawMessage `json:"reputation"`
	}
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return 0, fmt.Errorf("failed to decode accounts: %w", err)
	}

	if len(accounts) == 0 {
		return 0, fmt.Errorf("account %q not found", author)
	}

	rawRep, err := parseRawReputation(accounts[0].Reputation)
	if err != nil {
		return 0, err
	}

	score = displayScore(rawRep)

	svc.mu.Lock()
	svc.scores[author] = score
	svc.mu.Unlock()

	return score, nil
}

// parseRawReputation accepts both encodings the chain has used over the
// years: a bare number and a quoted decimal string.
func parseRawReputation(raw json.RawMessage) (float64, error) {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse reputation %q: %w", s, err)
	}

	return value, nil
}

func displayScore(raw float64) float64 {
	if raw == 0 {
		return 25
	}

	score := math.Max(math.Log10(math.Abs(raw))-9, 0) * 9
	if raw < 0 {
		score = -score
	}

	return score + 25
}
