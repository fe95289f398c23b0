package comm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// recoveryPause spaces recovered sends so a restart does not burst the
// aggregator.
const recoveryPause = time.Second

// Recovery is the startup pass that ships every persisted document the
// previous run fetched but never delivered. It writes through the socket
// directly, without going back through the pipeline stages.
type Recovery struct {
	Store  *store.DocStore
	Socket *SynchroSocket

	// pause is overridable in tests.
	pause time.Duration
}

// NewRecovery returns a Recovery over docs and socket.
func NewRecovery(docs *store.DocStore, socket *SynchroSocket) *Recovery {
	return &Recovery{Store: docs, Socket: socket, pause: recoveryPause}
}

// Run walks every namespace and delivers every document with sent != true,
// marking each sent afterwards. Per-document failures are logged and the
// pass continues.
func (r *Recovery) Run(ctx context.Context) error {
	var namespaces, err = r.Store.Namespaces(ctx)
	if err != nil {
		return errors.Wrap(err, "enumerating namespaces for recovery")
	}

	var recovered int
	for _, name := range namespaces {
		var ns *store.Namespace
		if ns, err = r.Store.Namespace(ctx, name); err != nil {
			return err
		}
		var ids []string
		if ids, err = ns.IDs(ctx); err != nil {
			return err
		}

		for _, id := range ids {
			var doc store.Doc
			if doc, err = ns.Get(ctx, id); err != nil {
				log.WithFields(log.Fields{"namespace": name, "id": id, "err": err}).
					Error("recovery could not load document")
				continue
			}
			if doc == nil {
				continue
			}
			if sent, _ := doc["sent"].(bool); sent {
				continue
			}

			if err = r.deliver(ctx, ns, id, doc); err != nil {
				log.WithFields(log.Fields{"namespace": name, "id": id, "err": err}).
					Error("recovery could not deliver document")
				continue
			}
			recovered++
			recoveredDocs.Inc()

			select {
			case <-time.After(r.pause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	log.WithField("recovered", recovered).Info("recovery pass completed")
	return nil
}

func (r *Recovery) deliver(ctx context.Context, ns *store.Namespace, id string, doc store.Doc) error {
	var payload, err = json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encoding document %s", id)
	}
	if err = r.Socket.Send(payload); err != nil {
		return err
	}

	doc["sent"] = true
	var docType, _ = doc["type"].(string)
	return ns.Upsert(ctx, docType, id, doc)
}
