package ops

import (
	"fmt"
	"strings"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/keys"
)

const (
	locatorPrefix = "nci:"
	locatorKeySep = "?k="
)

// Locator addresses one published document: nci:<author>?k=<primaryKey>.
type Locator struct {
	// Author is the hex public key
	Author     string `json:"author"`
	PrimaryKey string `json:"primary_key"`
}

// String returns the URI form with the hex author.
func (l Locator) String() string {
	return FormatLocator(l.Author, l.PrimaryKey)
}

// FormatLocator builds the URI of a document.
func FormatLocator(author, primaryKey string) string {
	return locatorPrefix + author + locatorKeySep + primaryKey
}

// IsLocator reports whether s has the locator shape. Anything else is a
// local file path.
func IsLocator(s string) bool {
	_, _, ok := splitLocator(s)
	return ok
}

// ParseLocator parses a locator. The author may be an npub or hex key.
func ParseLocator(s string) (Locator, error) {
	author, key, ok := splitLocator(s)
	if !ok {
		return Locator{}, errors.NewInvalidRequest(
			fmt.Sprintf("invalid locator %q, expected nci:<author>?k=<primaryKey>", s))
	}
	pub, err := keys.ParsePublicKey(author)
	if err != nil {
		return Locator{}, err
	}
	return Locator{Author: pub, PrimaryKey: key}, nil
}

func splitLocator(s string) (author, key string, ok bool) {
	rest, ok := strings.CutPrefix(s, locatorPrefix)
	if !ok {
		return "", "", false
	}
	author, key, ok = strings.Cut(rest, locatorKeySep)
	if !ok || author == "" || key == "" || strings.Contains(author, "?") {
		return "", "", false
	}
	return author, key, true
}
