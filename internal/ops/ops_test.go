package ops

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/nci/internal/config"
	"github.com/hpungsan/nci/internal/db"
	"github.com/hpungsan/nci/internal/index"
	"github.com/hpungsan/nci/internal/keys"
	"github.com/hpungsan/nci/internal/relay"
	"github.com/hpungsan/nci/internal/relay/relaytest"
)

const (
	goodRelay = relaytest.GoodRelay
	badRelay  = relaytest.BadRelay
)

func newTestEnv(t *testing.T, endpoints ...string) (Env, *relaytest.Pool) {
	t.Helper()
	if len(endpoints) == 0 {
		endpoints = []string{goodRelay}
	}
	pool := &relaytest.Pool{}
	tr, err := relay.New(endpoints, relay.WithPool(pool), relay.WithThrottle(relay.NoThrottle{}))
	if err != nil {
		t.Fatalf("relay.New() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	return Env{
		Transport: tr,
		Cache:     newTestCache(t),
		Config:    config.DefaultConfig(),
	}, pool
}

func newTestCache(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestKey(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return kp
}

func testDocument(primaryKey string, n int) index.Document {
	doc := index.Document{
		Title:      "Notes on " + primaryKey,
		Summary:    "A <small> index",
		URL:        "https://example.com/" + primaryKey,
		PrimaryKey: primaryKey,
		Items:      make([]index.Item, n),
	}
	for i := range doc.Items {
		doc.Items[i] = index.Item{
			Title:     fmt.Sprintf("Item %d", i),
			Summary:   fmt.Sprintf("Summary of item number %d", i),
			Timestamp: int64(1700000000 + i),
			URLs:      []string{fmt.Sprintf("https://example.com/%d", i)},
			Tags:      []string{"tag" + fmt.Sprint(i%3)},
		}
	}
	doc.ItemCount = n
	return doc
}

func publishDocument(t *testing.T, env Env, kp keys.Signer, doc index.Document) *PublishOutput {
	t.Helper()
	out, err := Publish(context.Background(), env, PublishInput{Document: doc, Signer: kp})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return out
}

func writeDocumentFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
