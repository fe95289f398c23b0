package adapter

import (
	"context"
	"time"

	"github.com/Gawain27/PubScraper/go/comm"
	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// updateDateLayout matches the stamp written by the document store.
const updateDateLayout = "2006-01-02 15:04:05"

// Fetcher runs the shared fetch algorithm on behalf of every source:
// freshness check, fetch, persist, emit serialization work, expand next
// phases. One instance is shared by all sources.
type Fetcher struct {
	Store    *store.DocStore
	Stats    *store.StatStore
	Bus      message.Bus
	Messages *message.Factory
	Seen     *SeenIDs

	// Freshness is the window below which a stored document is reused
	// without refetch.
	Freshness time.Duration
	// DelayMin and DelayMax bound the delivery delay of next-phase work.
	DelayMin time.Duration
	DelayMax time.Duration
}

// FetchGeneralData runs one phase: resolve the namespace, check freshness,
// fetch and persist when stale, emit a serialization request for refreshed
// documents, and schedule the follow-up phases the document implies.
func (f *Fetcher) FetchGeneralData(ctx context.Context, src Source, msg *FetchMessage) error {
	var phase = msg.Phase
	var fields = log.Fields{
		"source": msg.Source,
		"phase":  phase.Ref,
		"id":     phase.ExpectedID,
		"depth":  msg.Depth,
	}

	var ns, err = f.Store.Namespace(ctx, phase.Iface)
	if err != nil {
		return errors.Wrapf(err, "resolving namespace %s", phase.Iface)
	}

	var doc store.Doc
	if doc, err = ns.Get(ctx, phase.ExpectedID); err != nil {
		return errors.Wrapf(err, "looking up %s", phase.ExpectedID)
	}

	var refreshed bool
	if f.isStale(doc) {
		var fetched store.Doc
		if fetched, err = phase.Fetch(ctx, phase.Args); err != nil {
			log.WithFields(fields).WithField("err", err).Error("fetch failed")
			return err
		}
		if phase.Transform != nil {
			if fetched, err = phase.Transform(fetched); err != nil {
				log.WithFields(fields).WithField("err", err).Error("transform failed")
				return err
			}
		}
		if fetched != nil {
			fetched["serialized"] = false
			if phase.MultiResult {
				fetched["multi_result"] = true
			}
			if err = ns.Upsert(ctx, msg.Content, phase.ExpectedID, fetched); err != nil {
				return errors.Wrapf(err, "persisting %s", phase.ExpectedID)
			}
			doc = fetched
			refreshed = true
		}
	} else {
		log.WithFields(fields).Debug("document is fresh, skipping fetch")
	}

	if refreshed && doc != nil {
		var serial = comm.NewSerializeEntity(f.Messages, phase.Iface, phase.ExpectedID,
			src.ClassOf(phase.Ref), src.VariantType())
		f.Bus.Send(serial, message.PrioEntitySerialReq, 0, 0)
	}

	// A fresh document was expanded when it was first fetched; only
	// refreshed documents produce follow-up work.
	var nexts []NextPhase
	if refreshed {
		if nexts, err = src.PrepareNextPhase(f, phase.Ref, doc, msg.Depth); err != nil {
			log.WithFields(fields).WithField("err", err).Error("next-phase expansion failed")
			return err
		}
	}
	for _, np := range nexts {
		var next = NewFetchMessage(f.Messages,
			msgTypeForClass(src.ClassOf(np.Phase.Ref)), src.InterfaceID(), np.Phase)
		next.Depth = msg.Depth
		if np.Phase.RollOverDepth {
			next.Depth--
		}
		next.Delayed = true
		f.Bus.SendLater(next, np.Priority, f.DelayMin, f.DelayMax)
	}

	log.WithFields(fields).WithFields(log.Fields{
		"refreshed":   refreshed,
		"next_phases": len(nexts),
	}).Info("phase completed")
	return nil
}

// isStale reports whether a stored document must be refetched: missing,
// never dated, never serialized, or dated outside the freshness window.
func (f *Fetcher) isStale(doc store.Doc) bool {
	if doc == nil {
		return true
	}
	var raw, ok = doc["update_date"].(string)
	if !ok {
		return true
	}
	if serialized, _ := doc["serialized"].(bool); !serialized {
		return true
	}
	var when, err = time.Parse(updateDateLayout, raw)
	if err != nil {
		return true
	}
	return time.Since(when) >= f.Freshness
}

// PhaseWithPriority is the dedup gate for work expansion: identities
// already scheduled produce nothing; new ones are recorded and wrapped in a
// prioritized phase.
func (f *Fetcher) PhaseWithPriority(src Source, phaseCode, priority int,
	args []string, expectedID string) (NextPhase, bool) {

	if !f.Seen.Add(expectedID) {
		return NextPhase{}, false
	}
	return NextPhase{
		Phase:    src.GeneratePhase(phaseCode, args, expectedID),
		Priority: priority,
	}, true
}

// Seed builds and schedules one root fetch message.
func (f *Fetcher) Seed(src Source, phaseCode, priority int, args []string, expectedID string) {
	var np, ok = f.PhaseWithPriority(src, phaseCode, priority, args, expectedID)
	if !ok {
		return
	}
	var msg = NewFetchMessage(f.Messages,
		msgTypeForClass(src.ClassOf(np.Phase.Ref)), src.InterfaceID(), np.Phase)
	f.Bus.SendLater(msg, np.Priority, 0, 0)
}

func msgTypeForClass(class int) string {
	switch class {
	case ClassAuthor, ClassCoauthor:
		return TypeAuthorFetch
	case ClassPublication, ClassVersion, ClassCitation:
		return TypePubFetch
	case ClassJournal, ClassJournalSingle:
		return TypeJournalFetch
	case ClassConference:
		return TypeConferenceFetch
	default:
		return TypePubFetch
	}
}
