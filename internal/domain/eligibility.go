package domain

import (
	"strconv"
	"time"
)

// Candidate — новость вместе с данными источника, нужными для отбора.
type Candidate struct {
	News             NewsItem
	SourceName       string
	SourceBlocked    bool
	ReliabilityScore int
	// ReadFull — пользователь уже дочитал новость.
	ReadFull bool
}

// EligibilityPolicy задаёт настраиваемые пороги отбора.
type EligibilityPolicy struct {
	// NegativeCutoff — новости с тональностью не выше порога скрываются в безопасном режиме.
	NegativeCutoff float64
	// AdultTags — теги, которые безопасный режим скрывает всегда.
	AdultTags []string
}

// DefaultEligibilityPolicy возвращает пороги по умолчанию.
func DefaultEligibilityPolicy() EligibilityPolicy {
	return EligibilityPolicy{NegativeCutoff: -0.6, AdultTags: []string{"18+", "nsfw"}}
}

// Rejection описывает причину, по которой новость не попала в ленту.
type Rejection string

const (
	RejectNone          Rejection = ""
	RejectExpired       Rejection = "expired"
	RejectArchived      Rejection = "archived"
	RejectDuplicate     Rejection = "duplicate"
	RejectNotApproved   Rejection = "not_approved"
	RejectSourceBlocked Rejection = "source_blocked"
	RejectUserBlock     Rejection = "user_block"
	RejectFilter        Rejection = "filter"
	RejectReadFull      Rejection = "read_full"
	RejectSafeMode      Rejection = "safe_mode"
)

// Eligible сообщает, может ли новость попасть в ленту пользователя в момент now.
func Eligible(c Candidate, p Preferences, policy EligibilityPolicy, now time.Time) bool {
	return Check(c, p, policy, now) == RejectNone
}

// Check возвращает первую сработавшую причину отказа или RejectNone.
func Check(c Candidate, p Preferences, policy EligibilityPolicy, now time.Time) Rejection {
	n := c.News
	switch {
	case n.Expired(now):
		return RejectExpired
	case n.Archived():
		return RejectArchived
	case n.IsDuplicate:
		return RejectDuplicate
	case n.ModerationStatus != StatusApproved:
		return RejectNotApproved
	case c.SourceBlocked:
		return RejectSourceBlocked
	}
	for _, b := range p.Blocks {
		if blockMatches(b, c) {
			return RejectUserBlock
		}
	}
	if !filtersMatch(p.EffectiveFilters(), c) {
		return RejectFilter
	}
	if p.User.ViewMode == ViewModeAuto && c.ReadFull {
		return RejectReadFull
	}
	if p.User.SafeMode && unsafe(n, policy) {
		return RejectSafeMode
	}
	return RejectNone
}

func unsafe(n NewsItem, policy EligibilityPolicy) bool {
	if n.IsFake {
		return true
	}
	if n.SentimentScore <= policy.NegativeCutoff {
		return true
	}
	for _, tag := range n.Tags {
		for _, adult := range policy.AdultTags {
			if normalizeValue(tag) == normalizeValue(adult) {
				return true
			}
		}
	}
	return false
}

func blockMatches(b Block, c Candidate) bool {
	value := normalizeValue(b.Value)
	switch b.Type {
	case BlockTag, BlockCategory:
		return containsValue(c.News.Tags, value) || containsValue(c.News.Topics, value)
	case BlockSource:
		return sourceMatches(c, value)
	case BlockLanguage:
		return normalizeValue(c.News.Language) == value
	}
	return false
}

func filtersMatch(set FilterSet, c Candidate) bool {
	for t, values := range set {
		if len(values) == 0 {
			continue
		}
		matched := false
		for _, v := range values {
			if filterMatches(t, v, c) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func filterMatches(t FilterType, value string, c Candidate) bool {
	value = normalizeValue(value)
	n := c.News
	switch t {
	case FilterTag:
		return containsValue(n.Tags, value)
	case FilterCategory:
		return containsValue(n.Tags, value) || containsValue(n.Topics, value)
	case FilterSource:
		return sourceMatches(c, value)
	case FilterLanguage:
		return normalizeValue(n.Language) == value
	case FilterCountry:
		return normalizeValue(n.Country) == value
	case FilterContentType:
		return normalizeValue(string(n.MediaType)) == value
	}
	return false
}

func sourceMatches(c Candidate, value string) bool {
	if value == strconv.FormatInt(c.News.SourceID, 10) {
		return true
	}
	name := c.SourceName
	if name == "" {
		name = c.News.SourceName
	}
	return name != "" && normalizeValue(name) == value
}

func containsValue(values []string, want string) bool {
	for _, v := range values {
		if normalizeValue(v) == want {
			return true
		}
	}
	return false
}
