package router

import (
	"context"

	"github.com/Gawain27/PubScraper/go/adapter"
	"github.com/Gawain27/PubScraper/go/comm"
	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/scrape"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ScraperQueue routes fetch messages to their source adapter and applies
// the scrape error policy: captcha and iteration-end outcomes are benign,
// shape faults abandon the record, everything else engages the retry loop.
type ScraperQueue struct {
	Stats   *store.StatStore
	Fetcher *adapter.Fetcher
	Sources map[string]adapter.Source
}

// Name implements Processor.
func (q *ScraperQueue) Name() string { return message.DestScraper }

// OnMessage implements Processor.
func (q *ScraperQueue) OnMessage(ctx context.Context, env message.Envelope) error {
	var m, ok = env.(*adapter.FetchMessage)
	if !ok {
		return errors.Errorf("scraper queue cannot process %T", env)
	}

	if _, err := q.Stats.BumpLastUpdate(m.Content); err != nil {
		log.WithFields(log.Fields{"content": m.Content, "err": err}).
			Warn("could not bump last-update stat")
	}

	var src = q.Sources[m.Source]
	if src == nil {
		return errors.Errorf("no source adapter registered for %s", m.Source)
	}

	var err = q.Fetcher.FetchGeneralData(ctx, src, m)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scrape.ErrIgnoreCaptcha), errors.Is(err, scrape.ErrUnimplementedCaptcha):
		log.WithFields(log.Fields{"type": m.Type, "id": m.ID, "err": err}).
			Warn("captcha outcome, skipping page")
		return nil
	case errors.Is(err, adapter.ErrEndOfIteration):
		log.WithFields(log.Fields{"type": m.Type, "id": m.ID, "err": err}).
			Error("iteration ended")
		return nil
	case errors.Is(err, adapter.ErrEntityShape):
		log.WithFields(log.Fields{"type": m.Type, "id": m.ID, "err": err}).
			Error("entity not processable")
		return nil
	default:
		return err
	}
}

// OutSenderQueue hands send messages to the out sender's FIFO.
type OutSenderQueue struct {
	Sender *comm.OutSender
}

// Name implements Processor.
func (q *OutSenderQueue) Name() string { return message.DestOutSender }

// OnMessage implements Processor.
func (q *OutSenderQueue) OnMessage(ctx context.Context, env message.Envelope) error {
	var m, ok = env.(*comm.SendEntity)
	if !ok {
		return errors.Errorf("out-sender queue cannot process %T", env)
	}
	q.Sender.Enqueue(m)
	return nil
}

// SystemQueue runs the pipeline's system messages inline: serialize-tag,
// compress, and aggregator status reports.
type SystemQueue struct {
	Serializer *comm.SerializationUnit
	Packager   *comm.PackagingUnit
	Load       *comm.LoadState
}

// Name implements Processor.
func (q *SystemQueue) Name() string { return message.DestSystem }

// OnMessage implements Processor.
func (q *SystemQueue) OnMessage(ctx context.Context, env message.Envelope) error {
	switch m := env.(type) {
	case *comm.SerializeEntity:
		return q.Serializer.Process(ctx, m)
	case *comm.PackageEntity:
		return q.Packager.Process(ctx, m)
	case *comm.StatusReq:
		q.Load.Update(m.CPULoad, m.DBLoad, m.Keepdown)
		log.WithFields(log.Fields{
			"cpu_load": m.CPULoad,
			"db_load":  m.DBLoad,
			"keepdown": m.Keepdown,
		}).Debug("aggregator status updated")
		return nil
	default:
		return errors.Errorf("system queue cannot process %T", env)
	}
}
