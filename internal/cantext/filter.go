package cantext

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kstaniek/go-can-dispatch/internal/filter"
)

// ErrUnsupportedFilter is returned for filter text that matches no form.
var ErrUnsupportedFilter = errors.New("cantext: unsupported filter")

// Filter text forms. IDs are written like headers (3 digits standard, 8
// digits extended); masks are plain hex numbers.
//
//	ID          exact id, standard/extended class ignored
//	ID:MASK     key & MASK == ID & MASK
//	ID~MASK     inverted mask match
//	MIN-MAX     MIN <= key <= MAX
//	MIN_MAX     inverted range
const filterDelims = ":~-_"

// ParseFilter parses one filter expression.
func ParseFilter(s string) (filter.FrameFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("filter: %w: empty", ErrUnsupportedFilter)
	}
	i := strings.IndexAny(s, filterDelims)
	if i < 0 {
		h, err := ParseHeader(s)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s, err)
		}
		return filter.NewID(h.Key()), nil
	}
	first, err := ParseHeader(s[:i])
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", s, err)
	}
	rest := s[i+1:]
	switch s[i] {
	case ':', '~':
		mask, err := parseHex32(rest)
		if err != nil {
			return nil, fmt.Errorf("filter %q mask: %w", s, err)
		}
		return filter.NewMask(first.Key(), mask, s[i] == '~'), nil
	default:
		last, err := ParseHeader(rest)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s, err)
		}
		return filter.NewRange(first.Key(), last.Key(), s[i] == '_'), nil
	}
}

// FilterValue is the set of inputs ToFilter accepts: filter text or a bare
// numeric id.
type FilterValue interface {
	string | uint32
}

// ToFilter builds a filter from text (see ParseFilter) or from a numeric id,
// which yields an exact-id MaskFilter.
func ToFilter[T FilterValue](v T) (filter.FrameFilter, error) {
	switch x := any(v).(type) {
	case string:
		return ParseFilter(x)
	case uint32:
		return filter.NewID(x), nil
	}
	return nil, ErrUnsupportedFilter
}

// ToFilters maps ToFilter over vs, keeping order.
func ToFilters[T FilterValue](vs []T) ([]filter.FrameFilter, error) {
	out := make([]filter.FrameFilter, 0, len(vs))
	for i, v := range vs {
		f, err := ToFilter(v)
		if err != nil {
			return nil, fmt.Errorf("filter #%d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}
