// Package router schedules every unit of work: it pulls from the master
// priority queue, runs system messages inline, fans process messages out to
// a bounded worker pool, and owns duplicate suppression, the global
// worktime cap, and the per-message retry loop.
package router

import (
	"context"
	"math/rand"
	"time"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/queue"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/minio/highwayhash"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// emptySleep is how long the dispatcher idles when both heaps are empty.
	emptySleep = 5 * time.Second
	// debugDelaySleep is inserted before every send when debugging delivery.
	debugDelaySleep = 10 * time.Second
	// dupTrackerSize bounds the duplicate tracker; a long run evicts the
	// oldest signatures rather than growing without bound.
	dupTrackerSize = 1 << 20
)

// dupKey is the fixed HighwayHash key of the duplicate tracker. The hash
// only needs to be stable within one process.
var dupKey = make([]byte, 32)

// Processor handles every message routed to one destination queue.
type Processor interface {
	Name() string
	OnMessage(ctx context.Context, env message.Envelope) error
}

// Config carries the scheduling knobs of the router.
type Config struct {
	// MaxActiveThreads bounds the worker pool.
	MaxActiveThreads int
	// MaxWorktime stops production of new scrape work after this long;
	// zero or negative means uncapped.
	MaxWorktime time.Duration
	// MaxBufferRetries and RetryWait drive the per-message retry loop.
	MaxBufferRetries int
	RetryWait        time.Duration
	// DebugDelay inserts a fixed sleep before every send.
	DebugDelay bool
	// PollInterval is the dispatcher's idle sleep; zero means the default.
	PollInterval time.Duration
}

// Router implements message.Bus over the master priority queue.
type Router struct {
	cfg        Config
	queue      *queue.MasterQueue
	processors map[string]Processor
	dup        *lru.Cache[uint64, struct{}]
	sem        chan struct{}
	started    time.Time
}

// New returns a Router dispatching to processors by destination name.
func New(cfg Config, master *queue.MasterQueue, processors map[string]Processor) (*Router, error) {
	var dup, err = lru.New[uint64, struct{}](dupTrackerSize)
	if err != nil {
		return nil, errors.Wrap(err, "building duplicate tracker")
	}
	if cfg.MaxActiveThreads < 1 {
		cfg.MaxActiveThreads = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = emptySleep
	}
	return &Router{
		cfg:        cfg,
		queue:      master,
		processors: processors,
		dup:        dup,
		sem:        make(chan struct{}, cfg.MaxActiveThreads),
		started:    time.Now(),
	}, nil
}

// Send applies the routing policy and enqueues env on the master queue:
// worktime cap on new scrape work, optional debug and delivery delays,
// depth increment, duplicate suppression for process messages.
func (r *Router) Send(env message.Envelope, priority int, delayMin, delayMax time.Duration) {
	var base = env.Base()

	if r.cfg.MaxWorktime > 0 && time.Since(r.started) > r.cfg.MaxWorktime &&
		base.Destination == message.DestScraper {
		worktimeDrops.Inc()
		return
	}
	if r.cfg.DebugDelay {
		time.Sleep(debugDelaySleep)
	}
	if base.Delayed && delayMax > 0 {
		// An inverted window (misconfigured min above max) still delivers.
		if delayMin > delayMax {
			delayMin, delayMax = delayMax, delayMin
		}
		time.Sleep(delayMin + time.Duration(rand.Int63n(int64(delayMax-delayMin)+1)))
	}

	base.Depth++

	if !base.System {
		var sig = highwayhash.Sum64([]byte(env.Signature()), dupKey)
		if _, dup := r.dup.Get(sig); dup {
			dupDrops.Inc()
			log.WithFields(log.Fields{
				"type":      base.Type,
				"id":        base.ID,
				"signature": env.Signature(),
			}).Debug("duplicate message dropped")
			return
		}
		r.dup.Add(sig, struct{}{})
	}

	base.Priority = priority
	r.queue.Send(priority, env)
}

// SendLater runs Send on a fresh goroutine so the caller never blocks on
// the delivery delay.
func (r *Router) SendLater(env message.Envelope, priority int, delayMin, delayMax time.Duration) {
	go r.Send(env, priority, delayMin, delayMax)
}

// Run is the dispatcher loop: system messages run inline, process messages
// go through the bounded worker pool. It returns when ctx is done.
func (r *Router) Run(ctx context.Context) {
	log.WithField("workers", r.cfg.MaxActiveThreads).Info("router started")

	for {
		if ctx.Err() != nil {
			return
		}

		var priority, env, ok = r.queue.Receive()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}

		var base = env.Base()
		var proc = r.processors[base.Destination]
		if proc == nil {
			log.WithFields(log.Fields{
				"type":        base.Type,
				"destination": base.Destination,
			}).Error("no processor for destination, dropping message")
			continue
		}

		if base.System {
			r.process(ctx, proc, priority, env)
			continue
		}

		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func() {
			defer func() { <-r.sem }()
			r.process(ctx, proc, priority, env)
		}()
	}
}

// process drives the retry loop of one message. Timeouts re-enqueue the
// message directly on the master queue, consuming no retry; other failures
// burn retries until exhaustion.
func (r *Router) process(ctx context.Context, proc Processor, priority int, env message.Envelope) {
	var base = env.Base()
	var retries = r.cfg.MaxBufferRetries

	for {
		var err = proc.OnMessage(ctx, env)
		if err == nil {
			processed.WithLabelValues(proc.Name()).Inc()
			return
		}

		if errors.Is(err, message.ErrTimeout) {
			log.WithFields(log.Fields{
				"queue": proc.Name(),
				"type":  base.Type,
				"id":    base.ID,
			}).Warn("message timed out, requeueing without consuming a retry")
			// Straight back onto the queue: no depth bump, no duplicate
			// check, so the retried work is not suppressed as a duplicate.
			r.queue.Send(priority, env)
			return
		}

		retries--
		retriesBurned.WithLabelValues(proc.Name()).Inc()
		if retries <= 0 {
			log.WithFields(log.Fields{
				"queue": proc.Name(),
				"type":  base.Type,
				"id":    base.ID,
				"err":   err,
			}).Error("critical: retries exhausted, abandoning message")
			return
		}

		log.WithFields(log.Fields{
			"queue":   proc.Name(),
			"type":    base.Type,
			"id":      base.ID,
			"retries": retries,
			"err":     err,
		}).Error("message failed, will retry")

		select {
		case <-time.After(r.cfg.RetryWait):
		case <-ctx.Done():
			return
		}
	}
}
