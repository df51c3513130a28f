package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/nci/internal/errors"
)

const yamlIndex = `title: My Blog
summary: Posts about Go
url: https://blog.example.com
primaryKey: blog
items:
  - title: First post
    summary: Hello
    timestamp: 1700000000
    urls: [https://blog.example.com/1]
    tags: [intro, go]
  - title: Second post
    summary: Again
    timestamp: 0
`

const jsonIndex = `{
  "primaryKey": "notes",
  "items": [
    {"title": "Note", "summary": "text", "timestamp": 5, "urls": [], "tags": ["a"]}
  ]
}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	doc, err := LoadFile(writeTemp(t, "index.yaml", yamlIndex))
	require.NoError(t, err)

	assert.Equal(t, "My Blog", doc.Title)
	assert.Equal(t, "Posts about Go", doc.Summary)
	assert.Equal(t, "https://blog.example.com", doc.URL)
	assert.Equal(t, "blog", doc.PrimaryKey)
	assert.Equal(t, 2, doc.ItemCount)
	assert.Equal(t, 0, doc.ChunkCount)
	require.Len(t, doc.Items, 2)
	assert.Equal(t, []string{"intro", "go"}, doc.Items[0].Tags)

	// Missing urls/tags default to empty lists
	assert.Equal(t, []string{}, doc.Items[1].URLs)
	assert.Equal(t, []string{}, doc.Items[1].Tags)
}

func TestLoadFile_JSON(t *testing.T) {
	doc, err := LoadFile(writeTemp(t, "index.json", jsonIndex))
	require.NoError(t, err)

	assert.Equal(t, "notes", doc.PrimaryKey)
	assert.Empty(t, doc.Title)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, int64(5), doc.Items[0].Timestamp)
}

func TestLoadFile_UnknownExtensionGuesses(t *testing.T) {
	doc, err := LoadFile(writeTemp(t, "index.txt", jsonIndex))
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.PrimaryKey)

	doc, err = LoadFile(writeTemp(t, "index", yamlIndex))
	require.NoError(t, err)
	assert.Equal(t, "blog", doc.PrimaryKey)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestParse_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"missing primary key", `{"items": []}`},
		{"primary key with colon", `{"primaryKey": "a:b", "items": []}`},
		{"missing items", `{"primaryKey": "k"}`},
		{"bad json", `{"primaryKey": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.json))
			assert.True(t, errors.Is(err, errors.ErrInvalidDocument), "got %v", err)
		})
	}
}

func TestWriteFile_RoundTrips(t *testing.T) {
	orig, err := ParseYAML([]byte(yamlIndex))
	require.NoError(t, err)

	for _, name := range []string{"out.yaml", "out.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, WriteFile(path, *orig))

			back, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, orig, back)
		})
	}
}

func TestEmptyItemTitle_LoadsAndRoundTrips(t *testing.T) {
	doc, err := ParseJSON([]byte(`{"primaryKey": "k", "items": [{"title": "", "summary": "untitled", "timestamp": 0, "urls": [], "tags": []}]}`))
	require.NoError(t, err)
	require.Len(t, doc.Items, 1)
	assert.Empty(t, doc.Items[0].Title)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, WriteFile(path, Document{
		PrimaryKey: "k",
		Items:      []Item{{Title: "", Summary: "from another client"}},
	}))

	back, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, back.Items, 1)
	assert.Empty(t, back.Items[0].Title)
	assert.Equal(t, "from another client", back.Items[0].Summary)
}

func TestDocument_Clone(t *testing.T) {
	doc := Document{PrimaryKey: "k", Items: []Item{{Title: "a", URLs: []string{"u"}, Tags: []string{"t"}}}}
	cp := doc.Clone()
	cp.Items[0].Tags[0] = "changed"
	cp.Items[0].URLs = append(cp.Items[0].URLs, "v")

	assert.Equal(t, "t", doc.Items[0].Tags[0])
	assert.Len(t, doc.Items[0].URLs, 1)
}
