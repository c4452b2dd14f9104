package handler

import (
	"github.com/linusyang/pjabberd/dispatch"
	xm "github.com/linusyang/pjabberd/xmpp"
)

// Write serializes the chain's accumulated return value onto the
// message's output buffer, mirroring pjs/handlers/write.py's
// WriteHandler: lastRetVal may be a single element, a slice of elements
// (when an earlier handler chained more than one reply via
// chainOutput-equivalent composition), a raw string, or nil.
func Write(m *dispatch.Message) dispatch.Outcome {
	switch v := m.LastValue().(type) {
	case nil:
	case *xm.Element:
		m.AddTextOutput(v.String())
	case []*xm.Element:
		for _, e := range v {
			m.AddTextOutput(e.String())
		}
	case string:
		m.AddTextOutput(v)
	}
	return dispatch.Outcome{}
}

// chain appends next to whatever prev already holds, matching
// pjs/handlers/base.py's chainOutput: the running list of values a
// handler chain is building up to hand to Write.
func chain(prev interface{}, next interface{}) []*xm.Element {
	var out []*xm.Element
	switch v := prev.(type) {
	case *xm.Element:
		out = append(out, v)
	case []*xm.Element:
		out = append(out, v...)
	}
	if e, ok := next.(*xm.Element); ok && e != nil {
		out = append(out, e)
	}
	return out
}
