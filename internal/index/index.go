// Package index holds the content index document model: the canonical
// Document/Item types, their compact wire encoding, and file loading.
package index

// Document is a content index: optional descriptive fields, an
// author-chosen primary key, and an ordered list of items.
// Fields are plain strings; the empty string means "absent".
type Document struct {
	// Title is an optional human-readable title
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Summary is an optional description of the index
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	// URL optionally points at the site the index describes
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// PrimaryKey identifies this document among an author's documents
	PrimaryKey string `json:"primaryKey" yaml:"primaryKey" validate:"required,excludes=:"`

	// ItemCount is len(Items) for loaded and assembled documents.
	// Metadata events carry a declared count that is informational only.
	ItemCount int `json:"-" yaml:"-"`

	// ChunkCount is 0 until the document has been chunked for publishing
	ChunkCount int `json:"-" yaml:"-"`

	// Items are positionally ordered
	Items []Item `json:"items" yaml:"items" validate:"dive"`
}

// Item is one indexed entry.
type Item struct {
	Title     string   `json:"title" yaml:"title"`
	Summary   string   `json:"summary" yaml:"summary"`
	Timestamp int64    `json:"timestamp" yaml:"timestamp"` // seconds; 0 means unknown
	URLs      []string `json:"urls" yaml:"urls"`
	Tags      []string `json:"tags" yaml:"tags"`
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	out.Items = make([]Item, len(d.Items))
	for i, it := range d.Items {
		out.Items[i] = it.clone()
	}
	return out
}

func (it Item) clone() Item {
	out := it
	out.URLs = append([]string{}, it.URLs...)
	out.Tags = append([]string{}, it.Tags...)
	return out
}
