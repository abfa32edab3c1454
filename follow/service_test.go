package follow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/snapie/snapengine/follow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pagingCaller struct {
	calls    int
	accounts []string
}

func (c *pagingCaller) Call(_ context.Context, _ string, params any) (json.RawMessage, error) {
	c.calls++

	args := params.([]any)
	startFrom := args[1].(string)
	limit := args[3].(int)

	idx := 0
	if startFrom != "" {
		for i, account := range c.accounts {
			if account == startFrom {
				idx = i

				break
			}
		}
	}

	end := idx + limit
	if end > len(c.accounts) {
		end = len(c.accounts)
	}

	entries := make([]map[string]string, 0, end-idx)
	for _, account := range c.accounts[idx:end] {
		entries = append(entries, map[string]string{
			"follower":  "alice",
			"following": account,
			"what":      "blog",
		})
	}

	b, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	return b, nil
}

func TestFollowingPagesUntilShortPage(t *testing.T) {
	ctx := context.Background()

	// 1500 accounts: one full page of 1000 plus a short page, with the last
	// account of page one repeated at the top of page two.
	accounts := make([]string, 1500)
	for i := range accounts {
		accounts[i] = fmt.Sprintf("user%04d", i)
	}

	caller := &pagingCaller{accounts: accounts}
	svc := follow.NewService(caller, nil)

	following, err := svc.Following(ctx, "alice")
	require.NoError(t, err)

	assert.Len(t, following, 1500)
	assert.Equal(t, "user0000", following[0])
	assert.Equal(t, "user1499", following[1499])
	assert.Equal(t, 2, caller.calls)
}

func TestFollowingCachesPerSession(t *testing.T) {
	ctx := context.Background()

	caller := &pagingCaller{accounts: []string{"bob", "carol"}}
	svc := follow.NewService(caller, nil)

	_, err := svc.Following(ctx, "alice")
	require.NoError(t, err)

	_, err = svc.Following(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, caller.calls, "the list is fetched once per scope activation")

	svc.Invalidate("alice")

	_, err = svc.Following(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls)
}
