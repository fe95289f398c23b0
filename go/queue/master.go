// Package queue implements the master priority queue feeding the router:
// two heaps (system and process) ordered by (depth, priority, age), with
// a hard depth cap and periodic aging to keep deep low-priority work from
// starving behind ever-arriving roots.
package queue

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/Gawain27/PubScraper/go/message"
	log "github.com/sirupsen/logrus"
)

// agingInterval is the number of successful receives between aging passes.
const agingInterval = 100

type item struct {
	depth    int
	priority int
	ts       int64 // creation time, nanoseconds; older dequeues first
	env      message.Envelope
}

type msgHeap []*item

func (h msgHeap) Len() int { return len(h) }

func (h msgHeap) Less(i, j int) bool {
	if h[i].depth != h[j].depth {
		return h[i].depth < h[j].depth
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].ts < h[j].ts
}

func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *msgHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *msgHeap) Pop() any {
	var old = *h
	var n = len(old)
	var it = old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// MasterQueue is the two-tier priority queue. System messages always
// strictly precede process messages at the dispatcher; within a tier the
// (depth, priority, age) tuple is a strict total order, modulo aging.
type MasterQueue struct {
	maxDepth int

	sysMu  sync.Mutex
	system msgHeap

	procMu  sync.Mutex
	process msgHeap

	received atomic.Uint64
}

// NewMaster returns a MasterQueue dropping messages deeper than maxDepth.
func NewMaster(maxDepth int) *MasterQueue {
	return &MasterQueue{maxDepth: maxDepth}
}

// Send inserts env at the given priority. Messages beyond the depth cap
// are dropped with a warning and never enqueued.
func (q *MasterQueue) Send(priority int, env message.Envelope) {
	var base = env.Base()
	if base.Depth > q.maxDepth {
		depthDrops.Inc()
		log.WithFields(log.Fields{
			"type":  base.Type,
			"id":    base.ID,
			"depth": base.Depth,
		}).Warn("depth max reached, dropping message")
		return
	}

	var it = &item{
		depth:    base.Depth,
		priority: priority,
		ts:       base.Timestamp.UnixNano(),
		env:      env,
	}

	if base.System {
		q.sysMu.Lock()
		heap.Push(&q.system, it)
		q.sysMu.Unlock()
	} else {
		q.procMu.Lock()
		heap.Push(&q.process, it)
		q.procMu.Unlock()
	}

	log.WithFields(log.Fields{
		"type":     base.Type,
		"id":       base.ID,
		"depth":    base.Depth,
		"priority": priority,
		"system":   base.System,
	}).Debug("message enqueued")
}

// Receive pops the next message, preferring the system heap. It returns
// ok=false when both heaps are empty; the caller sleeps and retries.
func (q *MasterQueue) Receive() (int, message.Envelope, bool) {
	var it *item

	q.sysMu.Lock()
	if len(q.system) > 0 {
		it = heap.Pop(&q.system).(*item)
	}
	q.sysMu.Unlock()

	if it == nil {
		q.procMu.Lock()
		if len(q.process) > 0 {
			it = heap.Pop(&q.process).(*item)
		}
		q.procMu.Unlock()
	}

	if it == nil {
		return 0, nil, false
	}

	if n := q.received.Add(1); n%agingInterval == 0 {
		q.age()
	}
	return it.priority, it.env, true
}

// Lens reports the current system and process heap sizes.
func (q *MasterQueue) Lens() (system, process int) {
	q.sysMu.Lock()
	system = len(q.system)
	q.sysMu.Unlock()
	q.procMu.Lock()
	process = len(q.process)
	q.procMu.Unlock()
	return
}

// age improves the priority of every queued message by one and
// re-establishes both heaps. Locks are taken in a fixed order.
func (q *MasterQueue) age() {
	q.sysMu.Lock()
	for _, it := range q.system {
		it.priority--
	}
	heap.Init(&q.system)
	q.sysMu.Unlock()

	q.procMu.Lock()
	for _, it := range q.process {
		it.priority--
	}
	heap.Init(&q.process)
	q.procMu.Unlock()

	agingPasses.Inc()
	log.Debug("decreased priorities of all queued messages")
}
