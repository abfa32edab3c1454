package reputation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/snapie/snapengine/reputation"
	"github.com/stretchr/testify/assert"
)

type fakeCaller struct {
	calls      atomic.Int64
	reputation string
	err        error
}

func (c *fakeCaller) Call(_ context.Context, _ string, _ any) (json.RawMessage, error) {
	c.calls.Add(1)

	if c.err != nil {
		return nil, c.err
	}

	return json.RawMessage(fmt.Sprintf(`[{"name":"alice","reputation":%s}]`, c.reputation)), nil
}

func TestPasses(t *testing.T) {
	tests := []struct {
		name       string
		reputation string
		expected   bool
	}{
		{
			name:       "established author",
			reputation: `"133427836569799"`, // score around 62
			expected:   true,
		},
		{
			name:       "fresh account",
			reputation: "0",
			expected:   true,
		},
		{
			name:       "downvoted spammer",
			reputation: `"-21414146977"`, // negative raw, score below 25
			expected:   false,
		},
		{
			name:       "numeric encoding",
			reputation: "133427836569799",
			expected:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := reputation.NewService(&fakeCaller{reputation: tt.reputation}, reputation.DefaultThreshold, nil)

			assert.Equal(t, tt.expected, svc.Passes(context.Background(), "alice"))
		})
	}
}

func TestPassesFailsOpen(t *testing.T) {
	// Availability over strictness: an unreachable reputation source admits
	// the author instead of dropping them. Intentional trade-off.
	svc := reputation.NewService(&fakeCaller{err: errors.New("node down")}, reputation.DefaultThreshold, nil)

	assert.True(t, svc.Passes(context.Background(), "alice"))
}

func TestPassesMemoizesPerAuthor(t *testing.T) {
	caller := &fakeCaller{reputation: "0"}
	svc := reputation.NewService(caller, reputation.DefaultThreshold, nil)

	svc.Passes(context.Background(), "alice")
	svc.Passes(context.Background(), "Alice")
	svc.Passes(context.Background(), "alice")

	assert.EqualValues(t, 1, caller.calls.Load())
}
