package adapter

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Gawain27/PubScraper/go/comm"
	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

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

// fakeSource expands authors into publications and coauthors, counting
// fetches, without any page access.
type fakeSource struct {
	mu      sync.Mutex
	fetches int
	doc     store.Doc
}

func (s *fakeSource) InterfaceID() string { return "fake" }
func (s *fakeSource) VariantType() int    { return 9 }
func (s *fakeSource) ClassOf(ref int) int { return ref }

func (s *fakeSource) GeneratePhase(code int, args []string, expectedID string) Phase {
	return Phase{Iface: "fake", Ref: code, Args: args, ExpectedID: expectedID, Fetch: s.fetch}
}

func (s *fakeSource) fetch(context.Context, []string) (store.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	var doc = store.Doc{}
	for k, v := range s.doc {
		doc[k] = v
	}
	return doc, nil
}

func (s *fakeSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *fakeSource) PrepareNextPhase(f *Fetcher, phaseRef int, doc store.Doc, depth int) ([]NextPhase, error) {
	if phaseRef != ClassAuthor {
		return nil, nil
	}
	var nexts []NextPhase
	for _, id := range stringList(doc["publications"]) {
		if np, ok := f.PhaseWithPriority(s, ClassPublication, message.PrioPubReq,
			[]string{id}, "pub_"+id); ok {
			nexts = append(nexts, np)
		}
	}
	for _, name := range stringList(doc["coauthors"]) {
		if np, ok := f.PhaseWithPriority(s, ClassCoauthor, message.PrioAuthorReq,
			[]string{name}, "author_"+name); ok {
			nexts = append(nexts, np)
		}
	}
	return nexts, nil
}

func (s *fakeSource) StartCollectors(f *Fetcher, seeds []string) {
	for _, name := range seeds {
		f.Seed(s, ClassAuthor, message.PrioInterfaceReq, []string{name}, "author_"+name)
	}
}

func testFetcher(t *testing.T) (*Fetcher, *busRecorder) {
	t.Helper()
	var mr = miniredis.RunT(t)
	var rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var stats, err = store.OpenStats(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = stats.Close() })

	var bus = &busRecorder{}
	return &Fetcher{
		Store:     store.NewDocStoreWithClient(rdb),
		Stats:     stats,
		Bus:       bus,
		Messages:  message.NewFactory(stats),
		Seen:      NewSeenIDs(),
		Freshness: time.Hour,
	}, bus
}

func TestFreshDocumentSkipsFetchAndExpansion(t *testing.T) {
	var ctx = context.Background()
	var f, bus = testFetcher(t)
	var src = &fakeSource{doc: store.Doc{"publications": []string{"p1"}}}

	// The stored author is serialized, sent, and freshly dated.
	var ns, err = f.Store.Namespace(ctx, "fake")
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, TypeAuthorFetch, "author_alice", store.Doc{
		"name":         "Alice",
		"publications": []string{"p1"},
		"coauthors":    []string{"Bob"},
		"serialized":   true,
		"sent":         true,
	}))

	var msg = NewFetchMessage(f.Messages, TypeAuthorFetch, "fake",
		src.GeneratePhase(ClassAuthor, []string{"Alice"}, "author_alice"))
	msg.Depth = 0

	require.NoError(t, f.FetchGeneralData(ctx, src, msg))
	require.Equal(t, 0, src.fetchCount())
	require.Empty(t, bus.all())
}

func TestStaleDocumentIsFetchedSerializedAndExpanded(t *testing.T) {
	var ctx = context.Background()
	var f, bus = testFetcher(t)
	var src = &fakeSource{doc: store.Doc{
		"name":         "Alice",
		"publications": []string{"p1", "p2"},
		"coauthors":    []string{"Bob"},
	}}

	var msg = NewFetchMessage(f.Messages, TypeAuthorFetch, "fake",
		src.GeneratePhase(ClassAuthor, []string{"Alice"}, "author_alice"))
	msg.Depth = 0

	require.NoError(t, f.FetchGeneralData(ctx, src, msg))
	require.Equal(t, 1, src.fetchCount())

	// Persisted with serialized=false, awaiting the pipeline.
	var ns, err = f.Store.Namespace(ctx, "fake")
	require.NoError(t, err)
	doc, err := ns.Get(ctx, "author_alice")
	require.NoError(t, err)
	require.Equal(t, false, doc["serialized"])

	var serials, fetches int
	for _, s := range bus.all() {
		switch env := s.env.(type) {
		case *comm.SerializeEntity:
			serials++
			require.Equal(t, message.PrioEntitySerialReq, s.priority)
			require.Equal(t, ClassAuthor, env.ClassID)
			require.Equal(t, 9, env.VariantID)
		case *FetchMessage:
			fetches++
			require.True(t, env.Delayed)
			require.Equal(t, 0, env.Depth, "expansions carry the parent depth; the router increments")
		}
	}
	require.Equal(t, 1, serials)
	require.Equal(t, 3, fetches, "two publications and one coauthor")
}

func TestSeenIDsCollapseSharedCoauthors(t *testing.T) {
	var ctx = context.Background()
	var f, bus = testFetcher(t)

	// Two distinct authors share the coauthor Carol.
	var alice = &fakeSource{doc: store.Doc{"coauthors": []string{"Carol"}}}
	var msgA = NewFetchMessage(f.Messages, TypeAuthorFetch, "fake",
		alice.GeneratePhase(ClassAuthor, []string{"Alice"}, "author_alice"))
	msgA.Depth = 0
	require.NoError(t, f.FetchGeneralData(ctx, alice, msgA))

	var bob = &fakeSource{doc: store.Doc{"coauthors": []string{"Carol"}}}
	var msgB = NewFetchMessage(f.Messages, TypeAuthorFetch, "fake",
		bob.GeneratePhase(ClassAuthor, []string{"Bea"}, "author_bea"))
	msgB.Depth = 0
	require.NoError(t, f.FetchGeneralData(ctx, bob, msgB))

	var carols int
	for _, s := range bus.all() {
		if fm, ok := s.env.(*FetchMessage); ok && fm.Phase.ExpectedID == "author_Carol" {
			carols++
		}
	}
	require.Equal(t, 1, carols, "a shared coauthor is scheduled once")
}

func TestRollOverDepthDecrements(t *testing.T) {
	var ctx = context.Background()
	var f, bus = testFetcher(t)

	var src = &rolloverSource{}
	var msg = NewFetchMessage(f.Messages, TypePubFetch, "roll",
		src.GeneratePhase(ClassPublication, []string{"p1"}, "pub_p1"))
	msg.Depth = 2

	require.NoError(t, f.FetchGeneralData(ctx, src, msg))

	var found bool
	for _, s := range bus.all() {
		if fm, ok := s.env.(*FetchMessage); ok {
			found = true
			require.Equal(t, 1, fm.Depth, "roll-over work starts one level shallower")
		}
	}
	require.True(t, found)
}

// rolloverSource expands one publication into a roll-over citations phase.
type rolloverSource struct{ fakeSource }

func (s *rolloverSource) InterfaceID() string { return "roll" }

func (s *rolloverSource) GeneratePhase(code int, args []string, expectedID string) Phase {
	var p = s.fakeSource.GeneratePhase(code, args, expectedID)
	p.Iface = "roll"
	if code == ClassCitation {
		p.RollOverDepth = true
	}
	return p
}

func (s *rolloverSource) PrepareNextPhase(f *Fetcher, phaseRef int, doc store.Doc, depth int) ([]NextPhase, error) {
	if phaseRef != ClassPublication {
		return nil, nil
	}
	var np, ok = f.PhaseWithPriority(s, ClassCitation, message.PrioPubReq,
		[]string{"p1"}, "cit_p1")
	if !ok {
		return nil, nil
	}
	return []NextPhase{np}, nil
}

func TestIsStaleCoversEveryCause(t *testing.T) {
	var f = &Fetcher{Freshness: time.Hour}
	var fresh = time.Now().Format(updateDateLayout)
	var old = time.Now().Add(-2 * time.Hour).Format(updateDateLayout)

	require.True(t, f.isStale(nil), "missing")
	require.True(t, f.isStale(store.Doc{"serialized": true}), "no update date")
	require.True(t, f.isStale(store.Doc{"update_date": fresh}), "not serialized")
	require.True(t, f.isStale(store.Doc{"update_date": old, "serialized": true}), "outside window")
	require.True(t, f.isStale(store.Doc{"update_date": "garbage", "serialized": true}), "bad date")
	require.False(t, f.isStale(store.Doc{"update_date": fresh, "serialized": true}))
}

func TestMsgTypeForClass(t *testing.T) {
	require.Equal(t, TypeAuthorFetch, msgTypeForClass(ClassAuthor))
	require.Equal(t, TypeAuthorFetch, msgTypeForClass(ClassCoauthor))
	require.Equal(t, TypePubFetch, msgTypeForClass(ClassPublication))
	require.Equal(t, TypePubFetch, msgTypeForClass(ClassCitation))
	require.Equal(t, TypeJournalFetch, msgTypeForClass(ClassJournal))
	require.Equal(t, TypeConferenceFetch, msgTypeForClass(ClassConference))
}

func TestSeenIDsAreFirstComeFirstServed(t *testing.T) {
	var seen = NewSeenIDs()
	require.True(t, seen.Add("author_alice"))
	require.False(t, seen.Add("author_alice"))
	require.True(t, seen.Add("author_bob"))
	require.Equal(t, 2, seen.Len())
}
