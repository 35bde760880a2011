package ranking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"agentboard/internal/domain"
)

// wrapperFields are the keys under which a wrapper object may carry the list.
var wrapperFields = []string{"agents", "data", "leaderboard", "results"}

// DecodeLeaderboard normalizes a bare list or a wrapper object into records.
// Entries without an identity are dropped. Returns ErrUnexpectedShape for anything else.
func DecodeLeaderboard(body []byte) ([]*domain.AgentRecord, error) {
	items, err := extractList(body)
	if err != nil {
		return nil, err
	}

	agents := make([]*domain.AgentRecord, 0, len(items))
	for _, raw := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		if a := decodeAgent(fields); a != nil {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

func extractList(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrUnexpectedShape
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return items, nil
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		for _, field := range wrapperFields {
			raw, ok := wrapper[field]
			if !ok {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("%w: field %q is not a list", ErrUnexpectedShape, field)
			}
			return items, nil
		}
	}
	return nil, ErrUnexpectedShape
}

func decodeAgent(f map[string]json.RawMessage) *domain.AgentRecord {
	username := firstString(f, "username", "handle", "name")
	if domain.NormalizeUsername(username) == "" {
		return nil
	}

	a := &domain.AgentRecord{
		Username: strings.TrimPrefix(strings.TrimSpace(username), "@"),
	}
	if score, ok := firstNumber(f, "score", "points", "total_score"); ok {
		a.Score = score
	}
	a.Followers = optInt(f, "followers", "followers_count")
	a.Likes = optInt(f, "likes", "like_count")
	a.Retweets = optInt(f, "retweets", "retweet_count")
	a.Replies = optInt(f, "replies", "reply_count")

	a.Bio = optString(f, "bio")
	a.WalletAddress = optString(f, "wallet_address", "wallet")
	a.AvatarURL = optString(f, "avatar_url", "avatar")
	a.LastBioUpdate = optTime(f, "last_bio_update")
	a.LastClaim = optTime(f, "last_claim")
	return a
}

// DecodeAgentDetail decodes the detail payload. A wrapper {"agent": {...}} is accepted.
func DecodeAgentDetail(body []byte) (*domain.AgentDetail, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if inner, ok := fields["agent"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil {
			if posts, ok := fields["posts"]; ok {
				nested["posts"] = posts
			}
			fields = nested
		}
	}

	d := &domain.AgentDetail{
		Username:      firstString(fields, "username", "handle", "name"),
		Bio:           optString(fields, "bio"),
		WalletAddress: optString(fields, "wallet_address", "wallet"),
		AvatarURL:     optString(fields, "avatar_url", "avatar"),
		LastBioUpdate: optTime(fields, "last_bio_update"),
		LastClaim:     optTime(fields, "last_claim"),
	}

	if raw, ok := fields["posts"]; ok {
		var posts []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &posts); err == nil {
			for _, p := range posts {
				post := domain.Post{
					ID:   firstString(p, "id"),
					Text: firstString(p, "text", "content"),
				}
				if t := optTime(p, "created_at"); t != nil {
					post.CreatedAt = *t
				}
				if v := optInt(p, "likes", "like_count"); v != nil {
					post.Likes = *v
				}
				if v := optInt(p, "retweets", "retweet_count"); v != nil {
					post.Retweets = *v
				}
				if v := optInt(p, "replies", "reply_count"); v != nil {
					post.Replies = *v
				}
				d.Posts = append(d.Posts, post)
			}
		}
	}
	return d, nil
}

func firstString(f map[string]json.RawMessage, keys ...string) string {
	if s := optString(f, keys...); s != nil {
		return *s
	}
	return ""
}

func optString(f map[string]json.RawMessage, keys ...string) *string {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return &s
		}
	}
	return nil
}

// firstNumber accepts JSON numbers and numeric strings.
// Non-finite strings such as "NaN" or "Inf" count as absent.
func firstNumber(f map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok {
			continue
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
				return n, true
			}
		}
	}
	return 0, false
}

func optInt(f map[string]json.RawMessage, keys ...string) *int64 {
	n, ok := firstNumber(f, keys...)
	if !ok {
		return nil
	}
	v := int64(n)
	return &v
}

// optTime accepts RFC3339 strings and unix seconds or milliseconds.
func optTime(f map[string]json.RawMessage, keys ...string) *time.Time {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				t = t.UTC()
				return &t
			}
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
			var t time.Time
			if n > 1e12 {
				t = time.UnixMilli(n).UTC()
			} else {
				t = time.Unix(n, 0).UTC()
			}
			return &t
		}
	}
	return nil
}
