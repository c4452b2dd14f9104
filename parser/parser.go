// Package parser implements the incremental XML stream parser: it turns a
// byte stream into the sequence of events the phase/handler pipeline reacts
// to (stream open, stream reinit, stanza, stream end).
//
// Unlike the original's expat-based push parser, this parser reads from an
// io.Reader with encoding/xml.Decoder as the token source — the same
// substrate the rest of the retrieved pack's client libraries use for
// incremental XMPP parsing — rather than buffering raw bytes itself.
package parser

import (
	"encoding/xml"
	"io"
	"regexp"

	pkgerrors "github.com/pkg/errors"

	xm "github.com/linusyang/pjabberd/xmpp"
)

// Namespace kinds a stream can open under.
const (
	NSClient = "jabber:client"
	NSServer = "jabber:server"
	NSStream = "http://etherx.jabber.org/streams"
)

var (
	c2sStanzaName = regexp.MustCompile(`^(iq|message|presence)$`)
)

// EventKind identifies which of the five pipeline-visible events occurred.
type EventKind int

// The five event kinds the dispatcher's phase tables match on.
const (
	EventInStreamInit EventKind = iota
	EventOutStreamInit
	EventInStreamReinit
	EventStanza
	EventStreamEnd
)

// Event is one parsed unit of input, handed to the dispatcher.
type Event struct {
	Kind   EventKind
	Stream *xm.Element // the <stream:stream> open element; set on every event
	Stanza *xm.Element // set only for EventStanza: the top-level stanza element
	NS     string       // the stream's resolved default namespace (client/server)
}

// ErrClosed is returned by Next once the stream has ended and close has
// been observed.
var ErrClosed = pkgerrors.New("parser: stream closed")

// Parser consumes a single connection's XML stream and emits Events.
// It is not safe for concurrent use; callers (the connection's actor loop)
// must serialize calls to Next.
type Parser struct {
	dec    *xml.Decoder
	depth  int
	ns     string
	stream *xm.Element
	stack  []*xm.Element

	quirksApplied bool
	closed        bool
}

// New creates a Parser reading tokens from r.
func New(r io.Reader) *Parser {
	return &Parser{dec: xml.NewDecoder(r)}
}

// Next blocks until a complete event can be produced, or returns an error
// (io.EOF when the underlying reader is exhausted without a clean
// </stream:stream>, or a parse error).
func (p *Parser) Next() (*Event, error) {
	if p.closed {
		return nil, ErrClosed
	}
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if ev := p.handleStart(t); ev != nil {
				return ev, nil
			}
		case xml.EndElement:
			if ev := p.handleEnd(t); ev != nil {
				return ev, nil
			}
		case xml.CharData:
			p.handleText(t)
		}
	}
}

func (p *Parser) handleStart(t xml.StartElement) *Event {
	p.depth++

	if p.depth == 1 {
		if t.Name.Local != "stream" {
			// Quirks mode: the peer sent a stanza without opening a stream
			// first (RFC 3920 §6.2 says this should be implicit after an
			// in-band stream restart, but some clients never restart at
			// all). Fabricate the stream the peer should have opened,
			// prime the parser for jabber:client, and treat the element
			// we just saw as the first stanza of that fabricated stream,
			// rather than literally re-feeding buffered bytes the way the
			// original expat-based parser does.
			p.quirksApplied = true
			p.stream = xm.NewElementNamespace("stream", NSStream)
			p.stream.SetAttribute("version", "1.0")
			p.ns = NSClient
			p.depth = 2
			el := p.newElement(t)
			p.stack = []*xm.Element{el}
			return nil
		}
		return p.startStream(t)
	}

	el := p.newElement(t)
	if p.depth == 2 {
		p.stack = []*xm.Element{el}
		return nil
	}
	parent := p.stack[len(p.stack)-1]
	parent.AppendElement(el)
	p.stack = append(p.stack, el)
	return nil
}

func (p *Parser) startStream(t xml.StartElement) *Event {
	wasOpen := p.stream != nil

	el := xm.NewElementNamespace("stream", NSStream)
	for _, a := range t.Attr {
		if isXMLNSAttr(a) {
			if a.Name.Local == "xmlns" || a.Name.Space == "" {
				p.ns = a.Value
			}
			continue
		}
		el.SetAttribute(a.Name.Local, a.Value)
	}
	if p.ns == "" {
		p.ns = NSClient
	}

	if wasOpen {
		// A second <stream:stream> on the same connection: the peer is
		// restarting the stream in place (post-TLS or post-SASL), per
		// RFC 3920 §6/§7. The old stream element is discarded; the new
		// one replaces it.
		p.stream = el
		return &Event{Kind: EventInStreamReinit, Stream: el, NS: p.ns}
	}

	p.stream = el
	kind := EventInStreamInit
	if el.Attributes().Has("id") {
		kind = EventOutStreamInit
	}
	return &Event{Kind: kind, Stream: el, NS: p.ns}
}

func (p *Parser) handleEnd(t xml.EndElement) *Event {
	p.depth--
	switch {
	case p.depth == 0:
		ev := &Event{Kind: EventStreamEnd, Stream: p.stream, NS: p.ns}
		p.resetStream()
		return ev
	case p.depth == 1:
		root := p.stack[0]
		p.stack = nil
		return &Event{Kind: EventStanza, Stream: p.stream, Stanza: root, NS: p.ns}
	default:
		p.stack = p.stack[:len(p.stack)-1]
		return nil
	}
}

func (p *Parser) handleText(t xml.CharData) {
	if p.depth <= 1 {
		return
	}
	if len(p.stack) == 0 {
		return
	}
	top := p.stack[len(p.stack)-1]
	top.SetText(top.Text() + string(t))
}

func (p *Parser) newElement(t xml.StartElement) *xm.Element {
	ns := t.Name.Space
	el := xm.NewElementNamespace(t.Name.Local, ns)
	for _, a := range t.Attr {
		if isXMLNSAttr(a) {
			continue
		}
		el.SetAttribute(a.Name.Local, a.Value)
	}
	return el
}

func isXMLNSAttr(a xml.Attr) bool {
	return a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns")
}

// IsClientStanza reports whether name (a stanza's local element name) is a
// recognized top-level C2S stanza kind, for the parser.EventStanza dispatch
// split between C2S and S2S stanza dispatchers.
func IsClientStanza(localName string) bool { return c2sStanzaName.MatchString(localName) }

// resetStream clears per-stream state but keeps the underlying decoder, so
// a fresh <stream:stream> can reuse this Parser (in-place restart).
func (p *Parser) resetStream() {
	p.depth = 0
	p.stream = nil
	p.stack = nil
	p.ns = ""
}

// Close marks the parser closed; further Next calls return ErrClosed.
func (p *Parser) Close() { p.closed = true }

// QuirksApplied reports whether this parser ever had to fabricate a stream
// open because the peer skipped it, for tests and diagnostics.
func (p *Parser) QuirksApplied() bool { return p.quirksApplied }
