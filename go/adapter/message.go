package adapter

import (
	"fmt"

	"github.com/Gawain27/PubScraper/go/message"
)

// Fetch message types, one per entity kind. The type doubles as the stat
// label bumped by the scraper queue.
const (
	TypeAuthorFetch     = "author_fetch"
	TypePubFetch        = "pub_fetch"
	TypeJournalFetch    = "journal_fetch"
	TypeConferenceFetch = "conference_fetch"
)

// FetchMessage asks the scraper queue to run one phase of a source's crawl
// graph.
type FetchMessage struct {
	message.Message
	// Source is the adapter identifier resolved by the scraper queue.
	Source string
	// Phase is the descriptor of the work to run.
	Phase Phase
}

// NewFetchMessage mints a FetchMessage of msgType for the given source and
// phase. Depth starts at -1 so the router's increment lands seeds at zero.
func NewFetchMessage(f *message.Factory, msgType, source string, phase Phase) *FetchMessage {
	var m = &FetchMessage{
		Message: f.New(msgType, msgType),
		Source:  source,
		Phase:   phase,
	}
	m.Depth = -1
	m.Destination = message.DestScraper
	return m
}

// Base implements message.Envelope.
func (m *FetchMessage) Base() *message.Message { return &m.Message }

// Signature identifies the work, not the message instance: two fetches of
// the same phase and identity are duplicates.
func (m *FetchMessage) Signature() string {
	return fmt.Sprintf("fetch:%s:%d:%s", m.Source, m.Phase.Ref, m.Phase.ExpectedID)
}
