package domain

import (
	"sort"
	"strings"
	"time"
)

// FilterType описывает измерение пользовательского фильтра.
type FilterType string

const (
	FilterTag         FilterType = "tag"
	FilterCategory    FilterType = "category"
	FilterSource      FilterType = "source"
	FilterLanguage    FilterType = "language"
	FilterCountry     FilterType = "country"
	FilterContentType FilterType = "content_type"
)

// Valid сообщает, входит ли тип фильтра в закрытый перечень.
func (t FilterType) Valid() bool {
	switch t {
	case FilterTag, FilterCategory, FilterSource, FilterLanguage, FilterCountry, FilterContentType:
		return true
	}
	return false
}

// BlockType описывает измерение пользовательской блокировки.
type BlockType string

const (
	BlockTag      BlockType = "tag"
	BlockCategory BlockType = "category"
	BlockSource   BlockType = "source"
	BlockLanguage BlockType = "language"
)

// Valid сообщает, входит ли тип блокировки в закрытый перечень.
func (t BlockType) Valid() bool {
	switch t {
	case BlockTag, BlockCategory, BlockSource, BlockLanguage:
		return true
	}
	return false
}

// Filter — одно условие отбора.
type Filter struct {
	Type  FilterType `json:"type"`
	Value string     `json:"value"`
}

// FilterSet хранит условия, сгруппированные по типу: внутри типа ИЛИ, между типами И.
type FilterSet map[FilterType][]string

// NewFilterSet собирает набор из отдельных условий, нормализуя значения и отбрасывая повторы.
func NewFilterSet(filters []Filter) (FilterSet, error) {
	set := FilterSet{}
	for _, f := range filters {
		if !f.Type.Valid() {
			return nil, Validationf("неизвестный тип фильтра %q", f.Type)
		}
		value := normalizeValue(f.Value)
		if value == "" {
			return nil, Validationf("пустое значение фильтра %q", f.Type)
		}
		set.add(f.Type, value)
	}
	return set, nil
}

func (s FilterSet) add(t FilterType, value string) {
	for _, existing := range s[t] {
		if existing == value {
			return
		}
	}
	s[t] = append(s[t], value)
	sort.Strings(s[t])
}

// Empty сообщает, что набор не ограничивает выдачу.
func (s FilterSet) Empty() bool {
	for _, values := range s {
		if len(values) > 0 {
			return false
		}
	}
	return true
}

// Filters разворачивает набор в плоский список в стабильном порядке.
func (s FilterSet) Filters() []Filter {
	types := make([]string, 0, len(s))
	for t := range s {
		types = append(types, string(t))
	}
	sort.Strings(types)
	var out []Filter
	for _, t := range types {
		for _, v := range s[FilterType(t)] {
			out = append(out, Filter{Type: FilterType(t), Value: v})
		}
	}
	return out
}

// Block — пользовательская блокировка.
type Block struct {
	UserID    int64     `json:"user_id"`
	Type      BlockType `json:"type"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomFeed — именованный набор фильтров пользователя.
type CustomFeed struct {
	ID        int64
	UserID    int64
	Name      string
	Filters   FilterSet
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserViewRecord хранит историю показа новости пользователю.
type UserViewRecord struct {
	UserID           int64
	NewsID           int64
	Shown            bool
	ReadFull         bool
	FirstSeenAt      time.Time
	LastSeenAt       time.Time
	TimeSpentSeconds int
}

// Preferences собирает всё, что нужно для проверки допустимости новости для пользователя.
type Preferences struct {
	User       User
	Filters    FilterSet
	Blocks     []Block
	ActiveFeed *CustomFeed
	// MissingFeedID — активная подборка, которой больше нет.
	MissingFeedID *int64
}

// EffectiveFilters возвращает фильтры активной подборки, если она задана, иначе личные фильтры.
func (p Preferences) EffectiveFilters() FilterSet {
	if p.ActiveFeed != nil {
		return p.ActiveFeed.Filters
	}
	return p.Filters
}

// NormalizeValue приводит значение фильтра или блокировки к каноническому виду.
func NormalizeValue(v string) string {
	return normalizeValue(v)
}

func normalizeValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
