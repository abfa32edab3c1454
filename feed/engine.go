package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/snapie/snapengine/kvstore"
)

type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	BatchCall(ctx context.Context, method string, tuples [][]any) ([]json.RawMessage, error)
}

type MuteChecker interface {
	IsMuted(ctx context.Context, author string) bool
}

type ReputationChecker interface {
	Passes(ctx context.Context, author string) bool
}

type FollowingSource interface {
	Following(ctx context.Context, username string) ([]string, error)
}

type State int

const (
	StateIdle State = iota
	StateLoadingFollowing
	StateFetching
)

type Config struct {
	// FeedAccount is the fixed author whose top-level posts act as snap
	// containers.
	FeedAccount string

	// CommunityTag is the tag a snap must carry under ScopeCommunity.
	CommunityTag string

	ContainersPerRound int
	MaxRounds          int
	MinPageSize        int
	SnapshotSize       int
}

const (
	defaultContainersPerRound = 2
	defaultMaxRounds          = 3
	defaultMinPageSize        = 10
	defaultSnapshotSize       = 20

	snapshotKeyPrefix = "snaps_"
)

func (cfg *Config) applyDefaults() {
	if cfg.ContainersPerRound <= 0 {
		cfg.ContainersPerRound = defaultContainersPerRound
	}

	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}

	if cfg.MinPageSize <= 0 {
		cfg.MinPageSize = defaultMinPageSize
	}

	if cfg.SnapshotSize <= 0 {
		cfg.SnapshotSize = defaultSnapshotSize
	}
}

// Engine walks the feed account's containers backward in time and
// accumulates filtered, deduplicated snaps. One engine serves one scope
// instance; Reset switches it to a new scope.
type Engine struct {
	caller  Caller
	muted   MuteChecker
	rep     ReputationChecker
	follows FollowingSource
	session kvstore.Store
	logger  *slog.Logger
	cfg     Config

	mu         sync.Mutex
	state      State
	scope      Scope
	username   string
	generation uint64
	hasMore    bool
	cursor     *Cursor
	seen       map[string]struct{}
	snaps      []*Snap
	following  map[string]struct{}
	seeded     bool
}

func NewEngine(caller Caller, muted MuteChecker, rep ReputationChecker, follows FollowingSource, session kvstore.Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	cfg.applyDefaults()

	return &Engine{
		caller:  caller,
		muted:   muted,
		rep:     rep,
		follows: follows,
		session: session,
		logger:  logger,
		cfg:     cfg,
		scope:   ScopeAll,
		hasMore: true,
		seen:    make(map[string]struct{}),
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

func (e *Engine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.hasMore
}

// Snaps returns a copy of the accumulated feed, newest container first.
func (e *Engine) Snaps() []*Snap {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Snap, len(e.snaps))
	copy(out, e.snaps)

	return out
}

// LoadNextPage runs one fetch cycle: up to MaxRounds container rounds, or
// fewer once MinPageSize filtered snaps have accumulated. It returns the
// number of new snaps merged into the feed.
//
// It is a no-op while another page load is in flight, after exhaustion, and
// while a following-scope engine is still waiting for the following list.
func (e *Engine) LoadNextPage(ctx context.Context) (int, error) {
	e.mu.Lock()

	if e.state != StateIdle || !e.hasMore {
		e.mu.Unlock()

		return 0, nil
	}

	if e.scope == ScopeFollowing && e.following == nil {
		e.mu.Unlock()

		return 0, nil
	}

	gen := e.generation
	scope, username := e.scope, e.username
	followingSet := e.following

	var cursor *Cursor
	if e.cursor != nil {
		c := *e.cursor
		cursor = &c
	}

	e.state = StateFetching
	e.mu.Unlock()

	var (
		acc       []*Snap
		exhausted bool
	)

	for round := 0; round < e.cfg.MaxRounds && len(acc) < e.cfg.MinPageSize; round++ {
		containers, next, err := e.fetchContainers(ctx, cursor)
		if err != nil {
			return e.abort(gen, err)
		}

		if e.stale(gen) {
			return 0, nil
		}

		if len(containers) == 0 {
			exhausted = true

			break
		}

		replies, err := e.fetchReplies(ctx, containers)
		if err != nil {
			return e.abort(gen, err)
		}

		if e.stale(gen) {
			return 0, nil
		}

		for _, snap := range replies {
			if e.accept(ctx, snap, scope, followingSet) {
				acc = append(acc, snap)
			}
		}

		cursor = next
	}

	return e.merge(ctx, gen, scope, username, acc, cursor, exhausted)
}

// Reset switches the engine to a new scope, seeding from the session
// snapshot when one exists, and runs an immediate fetch cycle.
func (e *Engine) Reset(ctx context.Context, scope Scope, username string) error {
	return e.restart(ctx, scope, username, true)
}

// Refresh is Reset for the current scope without snapshot seeding: the
// stored snapshot is dropped and the first page always comes from the chain.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	scope, username := e.scope, e.username
	e.mu.Unlock()

	key := snapshotKey(scope, username)
	if err := e.session.Delete(ctx, key); err != nil {
		e.logger.WarnContext(ctx, "failed to drop feed snapshot", "key", key, "error", err)
	}

	return e.restart(ctx, scope, username, false)
}

func (e *Engine) restart(ctx context.Context, scope Scope, username string, seed bool) error {
	username = strings.ToLower(username)

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.scope = scope
	e.username = username
	e.cursor = nil
	e.seen = make(map[string]struct{})
	e.snaps = nil
	e.hasMore = true
	e.seeded = false
	e.following = nil
	e.state = StateIdle
	e.mu.Unlock()

	if seed {
		if snaps, ok := e.readSnapshot(ctx, scope, username); ok {
			e.mu.Lock()
			if e.generation == gen {
				e.snaps = snaps
				for _, snap := range snaps {
					e.seen[snap.Key()] = struct{}{}
				}
				e.seeded = true
			}
			e.mu.Unlock()
		}
	}

	if scope == ScopeFollowing {
		if err := e.loadFollowing(ctx, gen, username); err != nil {
			return err
		}
	}

	_, err := e.LoadNextPage(ctx)

	return err
}

func (e *Engine) loadFollowing(ctx context.Context, gen uint64, username string) error {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()

		return nil
	}
	e.state = StateLoadingFollowing
	e.mu.Unlock()

	list, err := e.follows.Following(ctx, username)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.generation != gen {
		return nil
	}

	e.state = StateIdle

	if err != nil {
		return fmt.Errorf("failed to load following list: %w", err)
	}

	set := make(map[string]struct{}, len(list))
	for _, account := range list {
		set[strings.ToLower(account)] = struct{}{}
	}

	e.following = set

	return nil
}

// fetchContainers returns the next batch of containers older than the
// cursor, plus the advanced cursor. It never mutates engine state.
func (e *Engine) fetchContainers(ctx context.Context, cursor *Cursor) ([]Container, *Cursor, error) {
	query := map[string]any{
		"tag":   e.cfg.FeedAccount,
		"limit": e.cfg.ContainersPerRound,
	}

	if cursor != nil {
		query["start_author"] = e.cfg.FeedAccount
		query["start_permlink"] = cursor.Permlink
		// The start post is included in the response, so ask for one more.
		query["limit"] = e.cfg.ContainersPerRound + 1
	}

	raw, err := e.caller.Call(ctx, "condenser_api.get_discussions_by_blog", []any{query})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch containers: %w", err)
	}

	var discussions []Container
	if err := json.Unmarshal(raw, &discussions); err != nil {
		return nil, nil, fmt.Errorf("failed to decode containers: %w", err)
	}

	containers := make([]Container, 0, len(discussions))

	for _, d := range discussions {
		// Reblogs show up in the blog listing under other authors.
		if d.Author != e.cfg.FeedAccount {
			continue
		}

		if cursor != nil && d.Permlink == cursor.Permlink {
			continue
		}

		containers = append(containers, d)
	}

	next := cursor
	if len(containers) > 0 {
		last := containers[len(containers)-1]
		next = &Cursor{Permlink: last.Permlink, Date: last.Created}
	}

	return containers, next, nil
}

// fetchReplies batch-fetches the direct replies of every container in input
// order. A container whose reply payload fails to decode contributes
// nothing; that is a data problem, not a feed failure.
func (e *Engine) fetchReplies(ctx context.Context, containers []Container) ([]*Snap, error) {
	tuples := make([][]any, len(containers))
	for i, c := range containers {
		tuples[i] = []any{c.Author, c.Permlink}
	}

	results, err := e.caller.BatchCall(ctx, "condenser_api.get_content_replies", tuples)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch container replies: %w", err)
	}

	var snaps []*Snap

	for i, raw := range results {
		if raw == nil {
			continue
		}

		var replies []*Snap
		if err := json.Unmarshal(raw, &replies); err != nil {
			e.logger.WarnContext(ctx, "skipping undecodable reply payload",
				"container", containers[i].Permlink, "error", err)

			continue
		}

		snaps = append(snaps, replies...)
	}

	return snaps, nil
}

func (e *Engine) accept(ctx context.Context, snap *Snap, scope Scope, following map[string]struct{}) bool {
	switch scope {
	case ScopeCommunity:
		if !snap.HasTag(e.cfg.CommunityTag) {
			return false
		}
	case ScopeFollowing:
		if _, ok := following[strings.ToLower(snap.Author)]; !ok {
			return false
		}
	case ScopeAll:
	}

	if e.muted.IsMuted(ctx, snap.Author) {
		return false
	}

	return e.rep.Passes(ctx, snap.Author)
}

// merge commits one fetch cycle: dedups the accumulator against everything
// seen this session, advances the cursor, and flips hasMore on exhaustion.
// Work from a stale generation is discarded untouched.
func (e *Engine) merge(ctx context.Context, gen uint64, scope Scope, username string, acc []*Snap, cursor *Cursor, exhausted bool) (int, error) {
	e.mu.Lock()

	if e.generation != gen {
		e.mu.Unlock()

		return 0, nil
	}

	// Seeded snapshot results are a placeholder painted before the first
	// live fetch; live results replace them outright.
	if e.seeded && len(acc) > 0 {
		e.snaps = nil
		e.seen = make(map[string]struct{})
	}
	e.seeded = false

	added := 0

	for _, snap := range acc {
		key := snap.Key()
		if _, ok := e.seen[key]; ok {
			continue
		}

		e.seen[key] = struct{}{}
		e.snaps = append(e.snaps, snap)
		added++
	}

	e.cursor = cursor

	if exhausted {
		e.hasMore = false
	}

	e.state = StateIdle

	snapshot := e.snaps
	if len(snapshot) > e.cfg.SnapshotSize {
		snapshot = snapshot[:e.cfg.SnapshotSize]
	}
	snapshot = append([]*Snap(nil), snapshot...)

	e.mu.Unlock()

	e.writeSnapshot(ctx, scope, username, snapshot)

	if added < e.cfg.MinPageSize && !exhausted {
		e.logger.DebugContext(ctx, "sparse page", "added", added, "scope", string(scope))
	}

	return added, nil
}

// abort restores idle state after a failed round without advancing the
// cursor or touching accumulated results.
func (e *Engine) abort(gen uint64, err error) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.generation != gen {
		return 0, nil
	}

	e.state = StateIdle

	return 0, err
}

func (e *Engine) stale(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.generation != gen
}

func snapshotKey(scope Scope, username string) string {
	if username == "" {
		username = "guest"
	}

	return snapshotKeyPrefix + string(scope) + "_" + username
}

func (e *Engine) writeSnapshot(ctx context.Context, scope Scope, username string, snaps []*Snap) {
	if len(snaps) == 0 {
		return
	}

	raw, err := json.Marshal(snaps)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to marshal feed snapshot", "error", err)

		return
	}

	key := snapshotKey(scope, username)
	if err := e.session.Set(ctx, key, string(raw)); err != nil {
		e.logger.WarnContext(ctx, "failed to store feed snapshot", "key", key, "error", err)
	}
}

func (e *Engine) readSnapshot(ctx context.Context, scope Scope, username string) ([]*Snap, bool) {
	key := snapshotKey(scope, username)

	raw, ok, err := e.session.Get(ctx, key)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to read feed snapshot", "key", key, "error", err)

		return nil, false
	}

	if !ok {
		return nil, false
	}

	var snaps []*Snap
	if err := json.Unmarshal([]byte(raw), &snaps); err != nil {
		e.logger.WarnContext(ctx, "discarding malformed feed snapshot", "key", key, "error", err)

		return nil, false
	}

	if len(snaps) == 0 {
		return nil, false
	}

	return snaps, true
}
