package store

import (
	"sync"

	"github.com/banshee-data/presence.report/internal/monitoring"
)

// asyncQueueDepth bounds the pending-write queue. At one location upsert per
// person per tick this covers several seconds of backlog.
const asyncQueueDepth = 1024

// AsyncRecorder decouples the camera workers from sqlite write latency. It
// implements the same recorder methods as Store but queues each write to a
// single background goroutine; when the queue is full the write is dropped
// and logged rather than stalling a tracking tick.
type AsyncRecorder struct {
	store *Store

	queue chan func() error
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewAsyncRecorder starts the background writer.
func NewAsyncRecorder(store *Store) *AsyncRecorder {
	r := &AsyncRecorder{
		store: store,
		queue: make(chan func() error, asyncQueueDepth),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()
	for fn := range r.queue {
		if err := fn(); err != nil {
			monitoring.Logf("store: async write failed: %v", err)
		}
	}
}

// Close stops accepting writes, drains the queue, and waits for the writer
// to finish.
func (r *AsyncRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}

func (r *AsyncRecorder) enqueue(op string, fn func() error) {
	select {
	case r.queue <- fn:
	default:
		monitoring.Logf("store: write queue full, dropping %s", op)
	}
}

func (r *AsyncRecorder) UpsertPersonLocation(personID, room string) error {
	r.enqueue("location upsert", func() error { return r.store.UpsertPersonLocation(personID, room) })
	return nil
}

func (r *AsyncRecorder) ClearPersonLocation(personID string) error {
	r.enqueue("location clear", func() error { return r.store.ClearPersonLocation(personID) })
	return nil
}

func (r *AsyncRecorder) StartVisit(personID, room string) error {
	r.enqueue("visit start", func() error { return r.store.StartVisit(personID, room) })
	return nil
}

func (r *AsyncRecorder) EndVisit(personID, room string) error {
	r.enqueue("visit end", func() error { return r.store.EndVisit(personID, room) })
	return nil
}

func (r *AsyncRecorder) RecordMovement(personID, fromRoom, toRoom string) error {
	r.enqueue("movement", func() error { return r.store.RecordMovement(personID, fromRoom, toRoom) })
	return nil
}

func (r *AsyncRecorder) RecordGroupMovement(groupID string, members []string, fromRoom, toRoom string) error {
	memberCopy := append([]string(nil), members...)
	r.enqueue("group movement", func() error {
		return r.store.RecordGroupMovement(groupID, memberCopy, fromRoom, toRoom)
	})
	return nil
}
