package policies

import (
	"context"
	"time"
)

// AuditArchive keeps raw artifacts outside the primary store for audits.
type AuditArchive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

type NopArchive struct{}

func (NopArchive) Put(context.Context, string, []byte, string) error { return nil }

// ArchiveKey builds a dated object key such as webhooks/2025/06/01/stripe/evt_1.json.
func ArchiveKey(kind string, at time.Time, parts ...string) string {
	key := kind + "/" + at.UTC().Format("2006/01/02")
	for _, p := range parts {
		key += "/" + p
	}
	return key + ".json"
}
