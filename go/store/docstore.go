// Package store persists harvested entity documents and operational
// counters. Documents live in Redis, one namespace per source interface,
// with an optimistic per-document revision used for conflict detection.
// Counters and cursors live in a single SQLite file.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	namespaceRegistry = "pubscraper:namespaces"

	upsertRetries = 3
	conflictSleep = 5 * time.Second
)

// Doc is an entity document: source payload plus the system fields
// _id, _rev, type, update_date, update_count, serialized, sent,
// class_id, variant_id and multi_result.
type Doc = map[string]any

// DocStore is the Redis-backed document store shared by all namespaces.
type DocStore struct {
	rdb *redis.Client

	// conflictWait is overridable in tests.
	conflictWait time.Duration
}

// OpenDocs connects to Redis and verifies the connection. Auth errors
// fail fast here rather than on first use.
func OpenDocs(ctx context.Context, addr, password string, db int) (*DocStore, error) {
	var rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "connecting to document store at %s", addr)
	}
	return &DocStore{rdb: rdb, conflictWait: conflictSleep}, nil
}

// NewDocStoreWithClient wraps an existing client. Used by tests.
func NewDocStoreWithClient(rdb *redis.Client) *DocStore {
	return &DocStore{rdb: rdb, conflictWait: conflictSleep}
}

// Namespace registers and returns the handler of the named namespace,
// creating it on first touch.
func (s *DocStore) Namespace(ctx context.Context, name string) (*Namespace, error) {
	if err := s.rdb.SAdd(ctx, namespaceRegistry, name).Err(); err != nil {
		return nil, errors.Wrapf(err, "registering namespace %s", name)
	}
	return &Namespace{s: s, name: name}, nil
}

// Namespaces enumerates every registered namespace.
func (s *DocStore) Namespaces(ctx context.Context) ([]string, error) {
	var names, err = s.rdb.SMembers(ctx, namespaceRegistry).Result()
	if err != nil {
		return nil, errors.Wrap(err, "listing namespaces")
	}
	return names, nil
}

// Close releases the underlying client.
func (s *DocStore) Close() error { return s.rdb.Close() }

// Namespace is the per-source document database. Each source adapter owns
// the namespace named by its interface identifier.
type Namespace struct {
	s    *DocStore
	name string
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

func (n *Namespace) docKey(id string) string { return "pubscraper:" + n.name + ":doc:" + id }

func (n *Namespace) idsKey() string { return "pubscraper:" + n.name + ":ids" }

// Get returns the identified document, or nil when it does not exist.
func (n *Namespace) Get(ctx context.Context, id string) (Doc, error) {
	var raw, err = n.s.rdb.Get(ctx, n.docKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "fetching document %s", id)
	}

	var doc Doc
	if err = json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrapf(err, "decoding document %s", id)
	}
	return doc, nil
}

// IDs enumerates the identifiers of every document in the namespace.
func (n *Namespace) IDs(ctx context.Context) ([]string, error) {
	var ids, err = n.s.rdb.SMembers(ctx, n.idsKey()).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "listing documents of %s", n.name)
	}
	return ids, nil
}

// Upsert writes doc under id, stamping _id, type and update_date, bumping
// update_count, and advancing the _rev revision. A write that races another
// writer fails its transaction and is retried up to three times with a
// five second sleep, after which the conflict propagates.
func (n *Namespace) Upsert(ctx context.Context, docType, id string, doc Doc) error {
	var key = n.docKey(id)

	var attempt = func() error {
		return n.s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			var rev, count int64
			var raw, err = tx.Get(ctx, key).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			if err == nil {
				var existing Doc
				if err = json.Unmarshal([]byte(raw), &existing); err != nil {
					return errors.Wrapf(err, "decoding existing document %s", id)
				}
				rev = asInt64(existing["_rev"])
				count = asInt64(existing["update_count"])
			}

			doc["_id"] = id
			doc["type"] = docType
			doc["update_date"] = time.Now().Format("2006-01-02 15:04:05")
			doc["update_count"] = count + 1
			doc["_rev"] = rev + 1

			var buf []byte
			if buf, err = json.Marshal(doc); err != nil {
				return errors.Wrapf(err, "encoding document %s", id)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, buf, 0)
				pipe.SAdd(ctx, n.idsKey(), id)
				return nil
			})
			return err
		}, key)
	}

	for retry := 0; retry < upsertRetries; retry++ {
		var err = attempt()
		if err == nil {
			log.WithFields(log.Fields{
				"namespace": n.name,
				"type":      docType,
				"id":        id,
			}).Debug("document saved")
			return nil
		}
		if err == redis.TxFailedErr {
			log.WithFields(log.Fields{
				"namespace": n.name,
				"id":        id,
				"retry":     retry + 1,
			}).Warn("conflict while saving document, retrying")
			select {
			case <-time.After(n.s.conflictWait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return err
	}
	return fmt.Errorf("failed to save document %s of type %s after %d retries",
		id, docType, upsertRetries)
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		var n, _ = t.Int64()
		return n
	default:
		return 0
	}
}
