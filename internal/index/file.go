package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/hpungsan/nci/internal/errors"
)

var validate = validator.New()

// LoadFile loads a JSON or YAML content index file. The extension picks the
// format; unknown extensions are tried as YAML first, then JSON.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(path)
		}
		return nil, errors.NewInternal(err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yml", ".yaml":
		return ParseYAML(data)
	default:
		if doc, err := ParseYAML(data); err == nil {
			return doc, nil
		}
		return ParseJSON(data)
	}
}

// ParseJSON parses and validates a content index from JSON.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewInvalidDocument(fmt.Sprintf("invalid JSON: %v", err), nil)
	}
	return finish(&doc)
}

// ParseYAML parses and validates a content index from YAML.
func ParseYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewInvalidDocument(fmt.Sprintf("invalid YAML: %v", err), nil)
	}
	return finish(&doc)
}

// finish validates a freshly parsed document and fills derived fields.
func finish(doc *Document) (*Document, error) {
	if err := validate.Struct(doc); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, errors.NewInvalidDocument(err.Error(), nil)
		}
		fields := make(map[string]string, len(verrs))
		for _, e := range verrs {
			fields[e.Namespace()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return nil, errors.NewInvalidDocument("content index failed validation", fields)
	}
	if doc.Items == nil {
		return nil, errors.NewInvalidDocument("items is required", map[string]string{"Document.Items": "failed on 'required' tag"})
	}

	for i := range doc.Items {
		if doc.Items[i].URLs == nil {
			doc.Items[i].URLs = []string{}
		}
		if doc.Items[i].Tags == nil {
			doc.Items[i].Tags = []string{}
		}
	}
	doc.ItemCount = len(doc.Items)
	doc.ChunkCount = 0
	return doc, nil
}

// Marshal encodes doc in the load-file format. The extension of path picks
// JSON or YAML; anything other than .json is YAML.
func Marshal(path string, doc Document) ([]byte, error) {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		return append(data, '\n'), nil
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return data, nil
}

// WriteFile writes doc in the load-file format, picking the format the way
// Marshal does.
func WriteFile(path string, doc Document) error {
	data, err := Marshal(path, doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
