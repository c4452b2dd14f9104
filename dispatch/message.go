// Package dispatch implements the phase/handler pipeline's execution
// engine: the Message state machine that runs a stanza through its
// (handler, errorHandler) chain, and the Dispatcher that classifies
// incoming elements into phases and keeps at most one Message running per
// connection at a time.
package dispatch

import "strings"

// Outcome is what a HandlerFunc returns after one execution step.
type Outcome struct {
	// Value becomes the next handler's input (mirrors the original's
	// lastRetVal passed down the chain).
	Value interface{}

	// Err, if non-nil, routes execution to the current pair's error
	// handler instead of continuing the normal chain.
	Err error

	// Async, if non-nil, means this handler's work is running on the
	// worker pool (component L) rather than completing inline; Process
	// returns without advancing further, and resume is the callback to
	// invoke once the work is done (this module's handlers pass it to
	// workerpool's Submit, which calls it on the worker goroutine that ran
	// the job), handing back the value that would otherwise have gone in
	// Outcome.Value/Err.
	Async func(resume func(value interface{}, err error))
}

// HandlerFunc is the unit of work a phase names in its handler/
// error-handler chains.
type HandlerFunc func(m *Message) Outcome

type pair struct {
	handler    HandlerFunc
	errHandler HandlerFunc
}

// Message runs one stanza (or core stream element) through its phase's
// handler chain, exactly mirroring pjs/events.py's Message class: handlers
// are popped (not iterated) so a handler can schedule more, a running
// (handler, errorHandler) pair is remembered across a suspension, and a
// handler that raises routes its own pair's remaining work to the paired
// error handler rather than aborting the whole chain.
type Message struct {
	Tree   interface{} // the classified element (usually *xmpp.Element)
	ConnID string
	Phase  string

	// Ctx is opaque to dispatch — it's the owning *conn.Connection,
	// threaded through so handler/ can reach per-connection protocol
	// state without dispatch importing conn (which itself imports
	// dispatch to drive its actor loop).
	Ctx interface{}

	registry *Registry

	handlers      []HandlerFunc
	errorHandlers []HandlerFunc
	current       *pair

	stopChain    bool
	lastRetVal   interface{}
	gotException bool

	output strings.Builder

	onFinish func(connID string, output string)
}

// NewMessage builds a Message ready to Process.
func NewMessage(tree interface{}, connID, phaseName string, ctx interface{}, handlers, errorHandlers []HandlerFunc, registry *Registry, onFinish func(connID, output string)) *Message {
	return &Message{
		Tree:          tree,
		ConnID:        connID,
		Phase:         phaseName,
		Ctx:           ctx,
		registry:      registry,
		handlers:      append([]HandlerFunc(nil), handlers...),
		errorHandlers: append([]HandlerFunc(nil), errorHandlers...),
		onFinish:      onFinish,
	}
}

// AddTextOutput buffers data for the write handler to flush once the chain
// completes.
func (m *Message) AddTextOutput(data string) { m.output.WriteString(data) }

// Output returns the buffer accumulated so far via AddTextOutput, the same
// text a finished chain's onFinish callback receives.
func (m *Message) Output() string { return m.output.String() }

// LastValue returns the previous handler's (or error handler's) return
// value, the chain's threaded "lastRetVal".
func (m *Message) LastValue() interface{} { return m.lastRetVal }

// StopChain signals Process to stop running further handlers immediately,
// discarding the remaining queue.
func (m *Message) StopChain() { m.stopChain = true }

// SetNextHandler schedules handlerName (and optionally errorHandlerName)
// to run next, ahead of whatever's already queued — used by handlers that
// need to hand off to another named phase's handler mid-chain (e.g.
// scheduling a roster-push after a subscription update).
func (m *Message) SetNextHandler(handlerName, errorHandlerName string) {
	if fn, ok := m.registry.Get(handlerName); ok {
		m.handlers = append([]HandlerFunc{fn}, m.handlers...)
	}
	if errorHandlerName != "" {
		if fn, ok := m.registry.Get(errorHandlerName); ok {
			m.errorHandlers = append([]HandlerFunc{fn}, m.errorHandlers...)
		}
	}
}

// Process runs handlers until the chain is exhausted, stopChain is set, or
// a handler suspends onto the worker pool. It is safe to call again (by
// the pool's resume callback) to continue a suspended chain.
func (m *Message) Process() {
	for {
		if m.stopChain {
			break
		}
		if m.current == nil {
			if len(m.handlers) == 0 {
				break
			}
			h := m.handlers[0]
			m.handlers = m.handlers[1:]
			var eh HandlerFunc
			if len(m.errorHandlers) > 0 {
				eh = m.errorHandlers[0]
				m.errorHandlers = m.errorHandlers[1:]
			}
			m.current = &pair{handler: h, errHandler: eh}
		}
		if m.execLink() {
			return // suspended; resume() will call Process again
		}
	}
	if m.onFinish != nil {
		m.onFinish(m.ConnID, m.output.String())
	}
}

// execLink runs one step of the current pair and reports whether it
// suspended (true) and Process should return without advancing further.
func (m *Message) execLink() bool {
	p := m.current

	if m.gotException {
		if p.errHandler == nil {
			// no error handler for this pair: drop the failure and let the
			// next pair's normal handler run.
			m.gotException = false
			m.current = nil
			return false
		}
		out := p.errHandler(m)
		if out.Async != nil {
			out.Async(func(v interface{}, err error) { m.resumeFrom(v, err, true); m.Process() })
			return true
		}
		m.applyOutcome(out)
		m.current = nil
		return false
	}

	out := p.handler(m)
	if out.Async != nil {
		out.Async(func(v interface{}, err error) { m.resumeFrom(v, err, false); m.Process() })
		return true
	}
	m.applyOutcome(out)
	if !m.gotException {
		m.current = nil
	}
	return false
}

func (m *Message) applyOutcome(out Outcome) {
	if out.Err != nil {
		m.gotException = true
		m.lastRetVal = out.Err
	} else {
		m.gotException = false
		m.lastRetVal = out.Value
	}
}

// resumeFrom applies an async handler's result. wasErrorPath mirrors the
// branch execLink suspended from: an error handler always clears the
// running pair once it resumes (success or not); a normal handler only
// clears it on success, so a failure falls through to that same pair's
// error handler on the next Process() iteration.
func (m *Message) resumeFrom(value interface{}, err error, wasErrorPath bool) {
	if err != nil {
		m.gotException = true
		m.lastRetVal = err
	} else {
		m.gotException = false
		m.lastRetVal = value
	}
	if wasErrorPath || !m.gotException {
		m.current = nil
	}
}
