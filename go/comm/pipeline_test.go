package comm

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type seqStub struct {
	mu sync.Mutex
	n  map[string]uint64
}

func (s *seqStub) NextID(msgType string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == nil {
		s.n = make(map[string]uint64)
	}
	s.n[msgType]++
	return s.n[msgType], nil
}

type sentRecord struct {
	env      message.Envelope
	priority int
}

type busRecorder struct {
	mu    sync.Mutex
	sends []sentRecord
}

func (b *busRecorder) Send(env message.Envelope, priority int, _, _ time.Duration) {
	b.mu.Lock()
	b.sends = append(b.sends, sentRecord{env: env, priority: priority})
	b.mu.Unlock()
}

func (b *busRecorder) SendLater(env message.Envelope, priority int, dmin, dmax time.Duration) {
	b.Send(env, priority, dmin, dmax)
}

func (b *busRecorder) all() []sentRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentRecord(nil), b.sends...)
}

func testDocs(t *testing.T) *store.DocStore {
	t.Helper()
	var mr = miniredis.RunT(t)
	var rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewDocStoreWithClient(rdb)
}

func TestSerializationStampsAndEmitsPackaging(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var bus = &busRecorder{}
	var unit = &SerializationUnit{
		Store:    docs,
		Bus:      bus,
		Messages: message.NewFactory(&seqStub{}),
	}

	var ns, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "author_alice",
		store.Doc{"name": "Alice", "serialized": false}))

	var m = NewSerializeEntity(unit.Messages, "scholar", "author_alice", 1000, 1)
	require.NoError(t, unit.Process(ctx, m))

	doc, err := ns.Get(ctx, "author_alice")
	require.NoError(t, err)
	require.EqualValues(t, 1000, doc["class_id"])
	require.EqualValues(t, 1, doc["variant_id"])
	require.Equal(t, true, doc["serialized"])
	require.Equal(t, false, doc["sent"])

	var sends = bus.all()
	require.Len(t, sends, 1)
	require.Equal(t, message.PrioEntityPackageReq, sends[0].priority)
	var pkg, ok = sends[0].env.(*PackageEntity)
	require.True(t, ok)
	require.Equal(t, "author_alice", pkg.DocID)
}

func TestSerializationIsIdempotent(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var bus = &busRecorder{}
	var unit = &SerializationUnit{
		Store:    docs,
		Bus:      bus,
		Messages: message.NewFactory(&seqStub{}),
	}

	var ns, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "a1",
		store.Doc{"serialized": true, "class_id": 1000, "variant_id": 1}))

	require.NoError(t, unit.Process(ctx, NewSerializeEntity(unit.Messages, "scholar", "a1", 1000, 1)))
	require.Empty(t, bus.all())
}

func TestPackagingEmitsNewlineFreePayload(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var bus = &busRecorder{}
	var unit = &PackagingUnit{
		Store:    docs,
		Bus:      bus,
		Messages: message.NewFactory(&seqStub{}),
	}

	var ns, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "a1",
		store.Doc{"name": "Alice\nBob", "serialized": true, "sent": false}))

	require.NoError(t, unit.Process(ctx, NewPackageEntity(unit.Messages, "scholar", "a1")))

	var sends = bus.all()
	require.Len(t, sends, 1)
	require.Equal(t, message.PrioEntitySendReq, sends[0].priority)
	var send, ok = sends[0].env.(*SendEntity)
	require.True(t, ok)
	require.NotEmpty(t, send.Payload)
	require.NotContains(t, string(send.Payload), "\n",
		"JSON payloads must stay newline-free for the wire framing")
	require.True(t, bytes.Contains(send.Payload, []byte(`Alice\nBob`)))
}

func TestPackagingSkipsSentDocuments(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var bus = &busRecorder{}
	var unit = &PackagingUnit{
		Store:    docs,
		Bus:      bus,
		Messages: message.NewFactory(&seqStub{}),
	}

	var ns, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "a1",
		store.Doc{"serialized": true, "sent": true}))

	require.NoError(t, unit.Process(ctx, NewPackageEntity(unit.Messages, "scholar", "a1")))
	require.Empty(t, bus.all())
}

func TestLoadStateBlendsAndThrottles(t *testing.T) {
	var load = NewLoadState()
	require.Equal(t, 0.0, load.Load())
	require.Equal(t, time.Duration(0), load.Throttle())

	load.Update(50, 100, false)
	require.Equal(t, 80.0, load.Load())
	require.Greater(t, load.Throttle(), time.Duration(0))

	load.Update(200, 200, false)
	require.Equal(t, 100.0, load.Load())

	load.Update(0, 0, true)
	require.Greater(t, load.Throttle(), time.Duration(0), "keepdown forces a pause")
}
