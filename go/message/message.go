// Package message holds the shared message vocabulary of the harvester:
// the base Message carried by every unit of work, the Envelope contract
// implemented by concrete message kinds, and the routing Bus through which
// components hand messages back to the scheduler.
package message

import (
	"fmt"
	"time"
)

// Destination queue names. Every message names the queue that processes it.
const (
	DestScraper   = "scraper"
	DestOutSender = "outsender"
	DestSystem    = "system"
)

// Scheduling priorities. Lower values are dispatched earlier.
const (
	// PrioEntitySendReq: if data is ready, send it asap, it's retained in memory.
	PrioEntitySendReq = 10
	// PrioEntitySerialReq adjusts an entity with correct metadata.
	PrioEntitySerialReq = 30
	// PrioEntityPackageReq: compression is done after serialization.
	PrioEntityPackageReq = 31
	// PrioSystemReq regulates traffic and must beat scrape work.
	PrioSystemReq = 70
	// PrioInterfaceReq: keep at low priority, many requests of this type.
	PrioInterfaceReq = 100

	// Scraping priorities - less authors, more data.
	PrioPubReq        = 101
	PrioAuthorReq     = 102
	PrioJournalReq    = 102
	PrioConferenceReq = 102
)

// Message is the base of every unit of work moving through the router.
// Concrete kinds embed it and add their payload.
type Message struct {
	Type        string
	ID          string
	Content     string
	Depth       int
	Priority    int
	Timestamp   time.Time
	Delayed     bool
	System      bool
	Destination string
}

func (m *Message) String() string {
	return fmt.Sprintf("Message Type: %s, Message ID: %s", m.Type, m.ID)
}

// Envelope is implemented by every concrete message kind. Signature is the
// stable dedup identity of the message; two messages with equal signatures
// describe the same work.
type Envelope interface {
	Base() *Message
	Signature() string
}

// Bus is the scheduling surface exposed by the router. Send enqueues with
// the given priority; SendLater does the same on a fresh task so the caller
// never blocks on the delivery delay.
type Bus interface {
	Send(env Envelope, priority int, delayMin, delayMax time.Duration)
	SendLater(env Envelope, priority int, delayMin, delayMax time.Duration)
}

// Sequencer allocates the persistent per-type message counter. Restarts
// continue the sequence.
type Sequencer interface {
	NextID(msgType string) (uint64, error)
}

// Factory mints messages with store-backed identifiers.
type Factory struct {
	seq Sequencer
}

// NewFactory returns a Factory drawing identifiers from seq.
func NewFactory(seq Sequencer) *Factory {
	return &Factory{seq: seq}
}

// New returns a base Message of the given type and content, stamped with
// the next identifier of its type and the current time.
func (f *Factory) New(msgType, content string) Message {
	var n, err = f.seq.NextID(msgType)
	if err != nil {
		// The sequence is best-effort identity, not correctness: fall back
		// to a zero counter rather than failing message construction.
		n = 0
	}
	return Message{
		Type:      msgType,
		ID:        fmt.Sprintf("%s_%d", msgType, n),
		Content:   content,
		Priority:  -99, // internal, stamped on enqueue
		Timestamp: time.Now(),
	}
}
