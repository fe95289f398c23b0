package comm

import (
	"context"
	"sync"

	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// OutSender is the final pipeline stage: an unbounded FIFO drained by one
// dedicated worker that ships each payload over the socket and marks the
// document sent. Enqueue never blocks the pipeline.
type OutSender struct {
	Store  *store.DocStore
	Socket *SynchroSocket

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*SendEntity
	closed  bool
}

// NewOutSender returns an OutSender; call Run on its worker goroutine.
func NewOutSender(docs *store.DocStore, socket *SynchroSocket) *OutSender {
	var o = &OutSender{Store: docs, Socket: socket}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Enqueue appends m to the send FIFO.
func (o *OutSender) Enqueue(m *SendEntity) {
	o.mu.Lock()
	o.pending = append(o.pending, m)
	o.cond.Signal()
	o.mu.Unlock()
}

// Pending reports the FIFO length.
func (o *OutSender) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Stop wakes the worker and makes Run return once the FIFO drains.
func (o *OutSender) Stop() {
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
}

// Run drains the FIFO until Stop. Send failures are logged and the message
// dropped; the socket's own retry policy is the only retry.
func (o *OutSender) Run(ctx context.Context) {
	for {
		o.mu.Lock()
		for len(o.pending) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.pending) == 0 && o.closed {
			o.mu.Unlock()
			return
		}
		var m = o.pending[0]
		o.pending = o.pending[1:]
		o.mu.Unlock()

		if err := o.deliver(ctx, m); err != nil {
			sendErrors.Inc()
			log.WithFields(log.Fields{
				"iface": m.Iface,
				"id":    m.DocID,
				"err":   err,
			}).Error("failed to deliver entity")
			continue
		}
		entitiesSent.Inc()
	}
}

func (o *OutSender) deliver(ctx context.Context, m *SendEntity) error {
	var ns, err = o.Store.Namespace(ctx, m.Iface)
	if err != nil {
		return err
	}
	var doc store.Doc
	if doc, err = ns.Get(ctx, m.DocID); err != nil {
		return err
	}
	if doc == nil {
		return errors.Errorf("document %s of %s vanished before send", m.DocID, m.Iface)
	}

	if err = o.Socket.Send(m.Payload); err != nil {
		return err
	}

	doc["sent"] = true
	var docType, _ = doc["type"].(string)
	if err = ns.Upsert(ctx, docType, m.DocID, doc); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"iface": m.Iface,
		"id":    m.DocID,
		"bytes": len(m.Payload),
	}).Info("entity delivered")
	return nil
}
