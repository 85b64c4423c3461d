package sim

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultEventCapacity = 4096                   // Ring size
	MaxEventsPerSec      = 10000                  // Global rate limit, tick boundaries exempt
	MaxContactsPerTick   = 256                    // Contact transitions logged per tick
	FlushBatch           = 128                    // Pending events that wake the writer early
	FlushInterval        = 100 * time.Millisecond // Writer period when the log is quiet
)

// EventLog records world events into a bounded ring and streams them to a
// JSONL file from a background writer.
//
// Contacts are logged as begin/end transitions, so a pile of bodies that
// stays in contact costs nothing after the first tick. A pile that forms all
// at once is cut off by the per-tick contact budget; tick boundaries are
// always kept so a replay can still find its place.
type EventLog struct {
	mu      sync.Mutex
	ring    []Event
	head    int // Oldest pending event
	pending int
	seq     uint64

	tick       uint64 // Tick the contact budget belongs to
	tickBudget int
	limiter    *rate.Limiter

	total     uint64
	dropped   uint64 // Overwritten or rate limited
	throttled uint64 // Over the contact budget

	running  atomic.Bool
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Writer goroutine only
	file    *os.File
	out     *bufio.Writer
	enc     *json.Encoder
	scratch []Event
}

// NewEventLog creates a log holding up to capacity unwritten events.
func NewEventLog(capacity int) *EventLog {
	if capacity < 1 {
		capacity = DefaultEventCapacity
	}
	return &EventLog{
		ring:       make([]Event, capacity),
		tickBudget: MaxContactsPerTick,
		limiter:    rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins the async writer. An empty path discards events once they
// leave the ring.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		el.file = file
		el.out = bufio.NewWriter(file)
		el.enc = json.NewEncoder(el.out)
	}

	el.running.Store(true)
	go el.writerLoop()
	return nil
}

// Stop writes everything still pending and closes the file.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		wasRunning := el.running.Swap(false)
		close(el.stop)
		if wasRunning {
			<-el.done
		}
		if el.file != nil {
			el.file.Close()
		}
	})
}

// Record logs an event for tick. bodies names the bodies involved; payload is
// encoded as JSON and may be nil. It returns false when the log is stopped or
// the event was dropped by a limit.
func (el *EventLog) Record(tick uint64, typ EventType, payload interface{}, bodies ...string) bool {
	if !el.running.Load() {
		return false
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		raw = data
	}

	el.mu.Lock()
	ok := el.pushLocked(Event{
		Version: EventVersion,
		Type:    typ,
		Time:    time.Now().UnixNano(),
		Tick:    tick,
		Bodies:  bodies,
		Payload: raw,
	})
	full := el.pending >= FlushBatch
	el.mu.Unlock()

	if full {
		select {
		case el.wake <- struct{}{}:
		default:
		}
	}
	return ok
}

func (el *EventLog) pushLocked(ev Event) bool {
	if ev.Tick != el.tick {
		el.tick = ev.Tick
		el.tickBudget = MaxContactsPerTick
	}

	if ev.Type.contact() {
		if el.tickBudget == 0 {
			el.throttled++
			return false
		}
		el.tickBudget--
	}
	if ev.Type != EventTypeTick && !el.limiter.Allow() {
		el.dropped++
		return false
	}

	// Full: the oldest unwritten event is lost
	if el.pending == len(el.ring) {
		el.head = (el.head + 1) % len(el.ring)
		el.pending--
		el.dropped++
	}

	el.seq++
	ev.Sequence = el.seq
	el.ring[(el.head+el.pending)%len(el.ring)] = ev
	el.pending++
	el.total++
	return true
}

// drain moves every pending event into dst, oldest first.
func (el *EventLog) drain(dst []Event) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	for ; el.pending > 0; el.pending-- {
		dst = append(dst, el.ring[el.head])
		el.ring[el.head] = Event{}
		el.head = (el.head + 1) % len(el.ring)
	}
	return dst
}

func (el *EventLog) writerLoop() {
	defer close(el.done)

	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-el.stop:
			el.flush()
			return
		case <-el.wake:
			el.flush()
		case <-ticker.C:
			el.flush()
		}
	}
}

// flush writes the pending events. Only the writer goroutine calls it.
func (el *EventLog) flush() {
	el.scratch = el.drain(el.scratch[:0])
	if el.enc == nil || len(el.scratch) == 0 {
		return
	}
	for i := range el.scratch {
		el.enc.Encode(&el.scratch[i])
	}
	el.out.Flush()
}

// EventLogStats reports event log counters
type EventLogStats struct {
	Total     uint64 `json:"total"`
	Dropped   uint64 `json:"dropped"`
	Throttled uint64 `json:"throttled"`
	Pending   int    `json:"pending"`
	Running   bool   `json:"running"`
}

// Stats returns counters for monitoring
func (el *EventLog) Stats() EventLogStats {
	el.mu.Lock()
	defer el.mu.Unlock()

	return EventLogStats{
		Total:     el.total,
		Dropped:   el.dropped,
		Throttled: el.throttled,
		Pending:   el.pending,
		Running:   el.running.Load(),
	}
}
