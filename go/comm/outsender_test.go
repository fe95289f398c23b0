package comm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/stretchr/testify/require"
)

func TestOutSenderDeliversAndMarksSent(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var sink = newFrameSink(t)
	var messages = message.NewFactory(&seqStub{})

	var ns, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "a1",
		store.Doc{"name": "Alice", "serialized": true, "sent": false}))

	var payload, _ = json.Marshal(store.Doc{"name": "Alice"})
	var sender = NewOutSender(docs, NewSynchroSocket(sink.addr()))
	go sender.Run(ctx)
	defer sender.Stop()

	sender.Enqueue(NewSendEntity(messages, "scholar", "a1", payload))

	var frames = sink.wait(t, 1)
	require.JSONEq(t, string(payload), frames[0])

	require.Eventually(t, func() bool {
		var doc, err = ns.Get(ctx, "a1")
		if err != nil || doc == nil {
			return false
		}
		var sent, _ = doc["sent"].(bool)
		return sent
	}, 5*time.Second, 10*time.Millisecond, "document was never marked sent")
}

func TestOutSenderDrainsInOrder(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var sink = newFrameSink(t)
	var messages = message.NewFactory(&seqStub{})

	var ns, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "a1", store.Doc{}))
	require.NoError(t, ns.Upsert(ctx, "author_fetch", "a2", store.Doc{}))

	var sender = NewOutSender(docs, NewSynchroSocket(sink.addr()))
	sender.Enqueue(NewSendEntity(messages, "scholar", "a1", []byte(`"first"`)))
	sender.Enqueue(NewSendEntity(messages, "scholar", "a2", []byte(`"second"`)))
	require.Equal(t, 2, sender.Pending())

	go sender.Run(ctx)
	defer sender.Stop()

	var frames = sink.wait(t, 2)
	require.Equal(t, []string{`"first"`, `"second"`}, frames)
}

func TestOutSenderSkipsVanishedDocuments(t *testing.T) {
	var ctx = context.Background()
	var docs = testDocs(t)
	var sink = newFrameSink(t)
	var messages = message.NewFactory(&seqStub{})

	var _, err = docs.Namespace(ctx, "scholar")
	require.NoError(t, err)

	var sender = NewOutSender(docs, NewSynchroSocket(sink.addr()))
	sender.Enqueue(NewSendEntity(messages, "scholar", "ghost", []byte(`{}`)))

	var done = make(chan struct{})
	go func() {
		sender.Run(ctx)
		close(done)
	}()
	sender.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("out sender did not drain and stop")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Empty(t, sink.frames, "a vanished document must not be sent")
}
