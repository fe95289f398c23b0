package comm

import (
	"context"
	"testing"
	"time"

	"github.com/Gawain27/PubScraper/go/store"
	"github.com/stretchr/testify/require"
)

func TestRecoveryShipsOnlyUndeliveredDocuments(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var sink = newFrameSink(t)

	var ns, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "delivered",
		store.Doc{"name": "Alice", "serialized": true, "sent": true}))
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "stranded",
		store.Doc{"name": "Bob", "serialized": true, "sent": false}))

	var rec = NewRecovery(docs, NewSynchroSocket(sink.addr()))
	rec.pause = time.Millisecond
	require.NoError(t, rec.Run(ctx))

	var frames = sink.wait(t, 1)
	require.Len(t, frames, 1)
	require.Contains(t, frames[0], `"Bob"`)

	doc, err := ns.Get(ctx, "stranded")
	require.NoError(t, err)
	require.Equal(t, true, doc["sent"])
}

func TestRecoveryIsSoundAfterCleanRun(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var sink = newFrameSink(t)

	var ns, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "a1",
		store.Doc{"sent": true}))
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "a2",
		store.Doc{"sent": true}))

	var rec = NewRecovery(docs, NewSynchroSocket(sink.addr()))
	rec.pause = time.Millisecond
	require.NoError(t, rec.Run(ctx))

	time.Sleep(50 * time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Empty(t, sink.frames, "a clean store must recover nothing")
}

func TestRecoveryRunsBackToBack(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var sink = newFrameSink(t)

	var ns, err = docs.Namespace(ctx, "scimago")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "journal_fetch", "j1",
		store.Doc{"records": []any{}, "sent": false}))

	var rec = NewRecovery(docs, NewSynchroSocket(sink.addr()))
	rec.pause = time.Millisecond

	require.NoError(t, rec.Run(ctx))
	sink.wait(t, 1)

	// The first pass marked everything sent; the second ships nothing.
	require.NoError(t, rec.Run(ctx))
	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.frames, 1)
}
