package event

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Filter is a NIP-01 subscription filter. Tag filters are keyed by the
// single-letter tag name without the leading '#'.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string
	Since   *int64
	Until   *int64
	Limit   int
}

// Matches reports whether ev satisfies every condition of the filter.
// Limit is not considered.
func (f Filter) Matches(ev Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	for key, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		if !slices.ContainsFunc(values, func(v string) bool { return ev.Tags.Has(key, v) }) {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

// MarshalJSON encodes the filter in relay wire form.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for key, values := range f.Tags {
		m["#"+key] = values
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a filter from relay wire form.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Filter
	for key, value := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(value, &out.IDs)
		case key == "authors":
			err = json.Unmarshal(value, &out.Authors)
		case key == "kinds":
			err = json.Unmarshal(value, &out.Kinds)
		case key == "since":
			out.Since = new(int64)
			err = json.Unmarshal(value, out.Since)
		case key == "until":
			out.Until = new(int64)
			err = json.Unmarshal(value, out.Until)
		case key == "limit":
			err = json.Unmarshal(value, &out.Limit)
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var values []string
			err = json.Unmarshal(value, &values)
			if out.Tags == nil {
				out.Tags = make(map[string][]string)
			}
			out.Tags[key[1:]] = values
		}
		if err != nil {
			return fmt.Errorf("filter field %q: %w", key, err)
		}
	}

	*f = out
	return nil
}
