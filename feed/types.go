// Package feed implements the snap feed: a backward walk over the feed
// account's container posts, pulling each container's replies, filtering
// them by scope, mute status, and reputation, and accumulating deduplicated
// pages.
package feed

import (
	"encoding/json"
	"strings"
	"time"
)

// blockTimeLayout is the chain's timestamp format: no zone, always UTC.
const blockTimeLayout = "2006-01-02T15:04:05"

type BlockTime struct {
	time.Time
}

func (bt *BlockTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		bt.Time = time.Time{}

		return nil
	}

	parsed, err := time.Parse(blockTimeLayout, s)
	if err != nil {
		return err
	}

	bt.Time = parsed

	return nil
}

func (bt BlockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(bt.Time.Format(blockTimeLayout))
}

// Container is a top-level post under the feed account acting as a time
// bucket for snaps. Read-only; fetched in descending creation order.
type Container struct {
	Author   string    `json:"author"`
	Permlink string    `json:"permlink"`
	Created  BlockTime `json:"created"`
}

type Vote struct {
	Voter string `json:"voter"`
}

// Snap is a reply to a container. Permlinks are only unique per author, so
// identity is the (author, permlink) pair.
type Snap struct {
	Author         string    `json:"author"`
	Permlink       string    `json:"permlink"`
	ParentPermlink string    `json:"parent_permlink"`
	Created        BlockTime `json:"created"`
	Body           string    `json:"body"`
	JSONMetadata   string    `json:"json_metadata"`
	Children       int       `json:"children"`
	ActiveVotes    []Vote    `json:"active_votes"`
}

// Key returns the session-wide dedup key.
func (s *Snap) Key() string {
	return s.Author + "/" + s.Permlink
}

// Tags parses the snap's metadata tags. Malformed metadata yields no tags;
// the snap is then simply treated as not matching any tag filter.
func (s *Snap) Tags() []string {
	if s.JSONMetadata == "" {
		return nil
	}

	var meta struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(s.JSONMetadata), &meta); err != nil {
		return nil
	}

	return meta.Tags
}

func (s *Snap) HasTag(tag string) bool {
	for _, t := range s.Tags() {
		if t == tag {
			return true
		}
	}

	return false
}

// HasVoted reports whether the given account is among the snap's voters.
func (s *Snap) HasVoted(voter string) bool {
	for _, v := range s.ActiveVotes {
		if strings.EqualFold(v.Voter, voter) {
			return true
		}
	}

	return false
}

// Cursor points at the last consumed container. It only ever moves backward
// in time, and only after a fully processed fetch round.
type Cursor struct {
	Permlink string    `json:"permlink"`
	Date     BlockTime `json:"date"`
}

// Scope selects which snaps make it into the feed.
type Scope string

const (
	// ScopeCommunity keeps snaps tagged with the configured community tag.
	ScopeCommunity Scope = "community"
	// ScopeAll keeps everything.
	ScopeAll Scope = "all"
	// ScopeFollowing keeps snaps from authors the user follows.
	ScopeFollowing Scope = "following"
)
