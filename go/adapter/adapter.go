// Package adapter is the source-adapter framework: each source (author
// index, publication index, journal and conference rankings) describes its
// crawl graph as phases, and the shared Fetcher walks that graph, fetching
// documents, persisting them, and expanding next-phase work.
package adapter

import (
	"context"

	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
)

// Entity class identifiers stamped on serialized documents so the
// downstream aggregator can dispatch by kind.
const (
	ClassAuthor        = 1000
	ClassCoauthor      = 1001
	ClassPublication   = 1010
	ClassVersion       = 1011
	ClassCitation      = 1020
	ClassJournal       = 1030
	ClassJournalSingle = 1031
	ClassConference    = 1040
)

// Per-source variant identifiers.
const (
	VariantScholar = 1
	VariantDblp    = 2
	VariantScimago = 3
	VariantCoreEdu = 4
)

// ErrEndOfIteration signals that a paging source ran out of pages. Benign;
// the scraper queue logs and swallows it.
var ErrEndOfIteration = errors.New("end of iteration reached")

// ErrEntityShape signals a fetched record missing a required field. The
// message is abandoned without retry and only that record's expansion is
// skipped.
var ErrEntityShape = errors.New("fetched entity is missing a required field")

// FetchFunc produces one document (or a multi-record container) from its
// arguments. Implementations wrap page fetching plus parsing.
type FetchFunc func(ctx context.Context, args []string) (store.Doc, error)

// TransformFunc post-processes a fetched document before persistence.
type TransformFunc func(doc store.Doc) (store.Doc, error)

// Phase is the descriptor of one step in a source's crawl graph: which
// fetch function to run, with which arguments, and what identity the fetch
// will produce.
type Phase struct {
	// Iface is the source-adapter identifier and document-store namespace.
	Iface string
	// Ref identifies the phase within the source.
	Ref int
	// Fetch produces the document.
	Fetch FetchFunc
	// Args are passed to Fetch.
	Args []string
	// Transform optionally post-processes the fetched document.
	Transform TransformFunc
	// MultiResult marks the document as a container of records.
	MultiResult bool
	// ExpectedID is the persistent identity the fetch will produce.
	ExpectedID string
	// RollOverDepth decrements the next message's depth by one, so deeper
	// but same-cost work does not count against the depth cap.
	RollOverDepth bool
}

// NextPhase pairs a generated phase with its scheduling priority.
type NextPhase struct {
	Phase    Phase
	Priority int
}

// Source is implemented by each concrete source adapter.
type Source interface {
	// InterfaceID returns the adapter identifier, also its store namespace.
	InterfaceID() string
	// VariantType returns the per-source variant tag.
	VariantType() int
	// ClassOf maps a phase reference to the entity class it produces.
	ClassOf(phaseRef int) int
	// GeneratePhase constructs the phase descriptor for phaseCode with the
	// given fetch arguments and expected identity.
	GeneratePhase(phaseCode int, args []string, expectedID string) Phase
	// PrepareNextPhase computes the follow-up work implied by a fetched
	// document.
	PrepareNextPhase(f *Fetcher, phaseRef int, doc store.Doc, depth int) ([]NextPhase, error)
	// StartCollectors emits one initial fetch message per seed.
	StartCollectors(f *Fetcher, seeds []string)
}
