package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// TagMarker is the marker of the only trailing pair decoded into Item.Tags.
const TagMarker = "t"

// TagPair is a trailing ["marker", "value"] entry of a wire item.
type TagPair struct {
	Marker string
	Value  string
}

// WireItem is the compact encoding of an Item:
//
//	[title, summary, timestamp, urls, ["t", tag], ...]
//
// The first four positions are required. Trailing entries that are not
// two-string arrays are dropped on decode.
type WireItem struct {
	Title     string
	Summary   string
	Timestamp int64
	URLs      []string
	Pairs     []TagPair
}

// EncodeItem converts an Item to its wire form.
func EncodeItem(it Item) WireItem {
	pairs := make([]TagPair, len(it.Tags))
	for i, tag := range it.Tags {
		pairs[i] = TagPair{Marker: TagMarker, Value: tag}
	}
	return WireItem{
		Title:     it.Title,
		Summary:   it.Summary,
		Timestamp: it.Timestamp,
		URLs:      append([]string{}, it.URLs...),
		Pairs:     pairs,
	}
}

// DecodeItem converts a wire item back to an Item. Pairs with a marker
// other than "t" are ignored.
func DecodeItem(w WireItem) Item {
	tags := make([]string, 0, len(w.Pairs))
	for _, p := range w.Pairs {
		if p.Marker == TagMarker {
			tags = append(tags, p.Value)
		}
	}
	urls := w.URLs
	if urls == nil {
		urls = []string{}
	}
	return Item{
		Title:     w.Title,
		Summary:   w.Summary,
		Timestamp: w.Timestamp,
		URLs:      append([]string{}, urls...),
		Tags:      tags,
	}
}

// MarshalJSON encodes the item as a positional array. HTML characters are
// left unescaped, though json.Marshal re-escapes them when it calls this;
// use an Encoder with SetEscapeHTML(false) for byte-exact output.
func (w WireItem) MarshalJSON() ([]byte, error) {
	urls := w.URLs
	if urls == nil {
		urls = []string{}
	}
	tuple := make([]any, 0, 4+len(w.Pairs))
	tuple = append(tuple, w.Title, w.Summary, w.Timestamp, urls)
	for _, p := range w.Pairs {
		tuple = append(tuple, [2]string{p.Marker, p.Value})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tuple); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes a positional array.
func (w *WireItem) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("wire item must be an array: %w", err)
	}
	if len(raw) < 4 {
		return fmt.Errorf("wire item needs at least 4 fields, got %d", len(raw))
	}

	var out WireItem
	if err := json.Unmarshal(raw[0], &out.Title); err != nil {
		return fmt.Errorf("title: %w", err)
	}
	if err := json.Unmarshal(raw[1], &out.Summary); err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	var ts float64
	if err := json.Unmarshal(raw[2], &ts); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return fmt.Errorf("timestamp: not finite")
	}
	// float64(MaxInt64) rounds up to 2^63, which int64 cannot hold
	if ts < math.MinInt64 || ts >= math.MaxInt64 {
		return fmt.Errorf("timestamp: out of range")
	}
	out.Timestamp = int64(ts)
	if err := json.Unmarshal(raw[3], &out.URLs); err != nil {
		return fmt.Errorf("urls: %w", err)
	}
	if out.URLs == nil {
		return fmt.Errorf("urls: must be an array")
	}

	for _, entry := range raw[4:] {
		var pair []string
		if err := json.Unmarshal(entry, &pair); err != nil || len(pair) != 2 {
			continue
		}
		out.Pairs = append(out.Pairs, TagPair{Marker: pair[0], Value: pair[1]})
	}

	*w = out
	return nil
}
