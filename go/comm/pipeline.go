package comm

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SerializationUnit is the first pipeline stage: it stamps class and
// variant tags on a persisted document and hands it to packaging. The
// stage is idempotent; a document already serialized is left alone.
type SerializationUnit struct {
	Store    *store.DocStore
	Bus      message.Bus
	Messages *message.Factory
}

// Process runs the serialize-tag stage for one document.
func (u *SerializationUnit) Process(ctx context.Context, m *SerializeEntity) error {
	var ns, err = u.Store.Namespace(ctx, m.Iface)
	if err != nil {
		return err
	}
	var doc store.Doc
	if doc, err = ns.Get(ctx, m.DocID); err != nil {
		return err
	}
	if doc == nil {
		return errors.Errorf("document %s of %s vanished before serialization", m.DocID, m.Iface)
	}
	if serialized, _ := doc["serialized"].(bool); serialized {
		log.WithFields(log.Fields{
			"iface": m.Iface,
			"id":    m.DocID,
		}).Debug("document already serialized")
		return nil
	}

	doc["class_id"] = m.ClassID
	doc["variant_id"] = m.VariantID
	doc["serialized"] = true
	doc["sent"] = false

	var docType, _ = doc["type"].(string)
	if err = ns.Upsert(ctx, docType, m.DocID, doc); err != nil {
		return err
	}

	u.Bus.Send(NewPackageEntity(u.Messages, m.Iface, m.DocID),
		message.PrioEntityPackageReq, 0, 0)
	return nil
}

// PackagingUnit is the compress stage: it encodes the document to JSON
// bytes and hands them to the out sender. Documents already sent are left
// alone. When the downstream aggregator reports load, packaging slows down
// so the sender does not pile onto a struggling receiver.
type PackagingUnit struct {
	Store    *store.DocStore
	Bus      message.Bus
	Messages *message.Factory
	Load     *LoadState
}

// Process runs the compress stage for one document.
func (u *PackagingUnit) Process(ctx context.Context, m *PackageEntity) error {
	var ns, err = u.Store.Namespace(ctx, m.Iface)
	if err != nil {
		return err
	}
	var doc store.Doc
	if doc, err = ns.Get(ctx, m.DocID); err != nil {
		return err
	}
	if doc == nil {
		return errors.Errorf("document %s of %s vanished before packaging", m.DocID, m.Iface)
	}
	if sent, _ := doc["sent"].(bool); sent {
		log.WithFields(log.Fields{
			"iface": m.Iface,
			"id":    m.DocID,
		}).Debug("document already sent")
		return nil
	}

	if u.Load != nil {
		if pause := u.Load.Throttle(); pause > 0 {
			log.WithField("pause", pause.String()).Debug("downstream under load, slowing packaging")
			time.Sleep(pause)
		}
	}

	var payload []byte
	if payload, err = json.Marshal(doc); err != nil {
		return errors.Wrapf(err, "encoding document %s", m.DocID)
	}

	u.Bus.Send(NewSendEntity(u.Messages, m.Iface, m.DocID, payload),
		message.PrioEntitySendReq, 0, 0)
	return nil
}

// LoadState is the last load report received from the downstream
// aggregator over the status port.
type LoadState struct {
	mu       sync.Mutex
	cpu      float64
	db       float64
	keepdown bool
}

// NewLoadState returns an idle LoadState.
func NewLoadState() *LoadState { return &LoadState{} }

// Update records a decoded status frame.
func (l *LoadState) Update(cpu, db float64, keepdown bool) {
	l.mu.Lock()
	l.cpu, l.db, l.keepdown = cpu, db, keepdown
	l.mu.Unlock()
}

// Load blends CPU and database load into one figure on [0, 100]. Database
// pressure weighs more because the aggregator is write-bound.
func (l *LoadState) Load() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var v = 0.4*l.cpu + 0.6*l.db
	return math.Min(v, 100)
}

// Keepdown reports whether the aggregator asked the harvester to hold off.
func (l *LoadState) Keepdown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keepdown
}

// Throttle converts the blended load into a packaging pause, growing
// exponentially with load and capped near three seconds.
func (l *LoadState) Throttle() time.Duration {
	var load = l.Load()
	if l.Keepdown() {
		load = 100
	}
	if load <= 0 {
		return 0
	}
	return time.Duration(100*math.Pow(2, load/20)) * time.Millisecond
}
