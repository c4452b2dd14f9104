package dispatch

import (
	"sync"

	"github.com/linusyang/pjabberd/phase"
	xm "github.com/linusyang/pjabberd/xmpp"
)

// Sink receives the buffered output of a finished Message and is
// responsible for actually writing it to the network — the only place a
// socket write happens, mirroring pjs/events.py's pickupResults, which is
// the sole consumer of resultQ.
type Sink interface {
	Send(connID, data string)
}

// Dispatcher classifies parsed elements into phases via a phase.Table and
// runs them through the dispatch pipeline, enforcing that at most one
// Message runs per connection at a time: a stanza arriving for a
// connection that's already mid-chain (typically suspended on the worker
// pool) is queued instead of started, exactly mirroring the original's
// _runningMessages/_processingQ pair.
type Dispatcher struct {
	table    *phase.Table
	registry *Registry
	sink     Sink

	mu      sync.Mutex
	running map[string]*Message
	queued  map[string][]*Message
}

// New builds a Dispatcher over table, resolving handler chains through
// registry and flushing finished output through sink.
func New(table *phase.Table, registry *Registry, sink Sink) *Dispatcher {
	return &Dispatcher{
		table:    table,
		registry: registry,
		sink:     sink,
		running:  make(map[string]*Message),
		queued:   make(map[string][]*Message),
	}
}

// Dispatch classifies root against the dispatcher's phase table and either
// starts processing it immediately, or — if connID already has a Message
// running — queues it to run once that one finishes.
func (d *Dispatcher) Dispatch(root *xm.Element, connID string) {
	d.DispatchCtx(root, connID, "", nil)
}

// DispatchKnown dispatches root directly into the named phase, bypassing
// classification — used when the caller (e.g. the parser reporting a
// stream-open event) already knows which core phase applies.
func (d *Dispatcher) DispatchKnown(root *xm.Element, connID, knownPhase string) {
	d.DispatchCtx(root, connID, knownPhase, nil)
}

// DispatchCtx is Dispatch/DispatchKnown with an opaque per-connection ctx
// (see Message.Ctx) attached to the resulting Message.
func (d *Dispatcher) DispatchCtx(root *xm.Element, connID, knownPhase string, ctx interface{}) {
	var entry phase.Entry
	if knownPhase != "" {
		e, ok := d.table.Get(knownPhase)
		if !ok {
			return
		}
		entry = e
	} else {
		entry = d.table.Classify(root)
	}

	handlers := d.registry.Resolve(entry.Handlers)
	errorHandlers := d.registry.Resolve(entry.ErrorHandlers)
	msg := NewMessage(root, connID, entry.Name, ctx, handlers, errorHandlers, d.registry, d.finish)

	d.mu.Lock()
	if _, busy := d.running[connID]; busy {
		d.queued[connID] = append(d.queued[connID], msg)
		d.mu.Unlock()
		return
	}
	d.running[connID] = msg
	d.mu.Unlock()

	msg.Process()
}

// finish is the Message's onFinish callback: it flushes buffered output
// through the sink, clears the connection's running slot, and promotes the
// next queued Message for that connection, if any — mirroring
// pickupResults()'s conn.send followed by _runMessages().
func (d *Dispatcher) finish(connID, output string) {
	if output != "" && d.sink != nil {
		d.sink.Send(connID, output)
	}

	d.mu.Lock()
	delete(d.running, connID)
	var next *Message
	if q := d.queued[connID]; len(q) > 0 {
		next = q[0]
		d.queued[connID] = q[1:]
		if len(d.queued[connID]) == 0 {
			delete(d.queued, connID)
		}
		d.running[connID] = next
	}
	d.mu.Unlock()

	if next != nil {
		next.Process()
	}
}

// Forget drops any queued or running state for connID, called once a
// connection is torn down so a stray resume callback can't resurrect it.
func (d *Dispatcher) Forget(connID string) {
	d.mu.Lock()
	delete(d.running, connID)
	delete(d.queued, connID)
	d.mu.Unlock()
}
