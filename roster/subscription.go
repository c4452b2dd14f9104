// Package roster implements the persistent roster store and the nine-state
// presence-subscription automaton (RFC 3921 §8–9).
package roster

// Subscription is the nine-state presence-subscription automaton's state,
// stored per roster entry. The numeric values and names mirror
// pjs/roster.py's Subscription class so the on-disk representation is
// stable across the set of states that class already enumerated.
type Subscription int

// The nine subscription states. "to" means the local user receives the
// contact's presence; "from" means the contact receives the local user's
// presence; "_pending_*" tracks an outstanding subscription request that
// hasn't been approved or denied yet.
const (
	SubNone Subscription = iota
	SubNonePendingOut
	SubNonePendingIn
	SubNonePendingInOut
	SubTo
	SubToPendingIn
	SubFrom
	SubFromPendingOut
	SubBoth
)

// primaryNames maps every state to the roster <item subscription='...'/>
// value a client is sent, per pjs/roster.py's state2primaryName.
var primaryNames = map[Subscription]string{
	SubNone:             "none",
	SubNonePendingOut:   "none",
	SubNonePendingIn:    "none",
	SubNonePendingInOut: "none",
	SubTo:               "to",
	SubToPendingIn:      "to",
	SubFrom:             "from",
	SubFromPendingOut:   "from",
	SubBoth:             "both",
}

// PrimaryName returns the roster-item subscription attribute value for s.
func (s Subscription) PrimaryName() string {
	if name, ok := primaryNames[s]; ok {
		return name
	}
	return "none"
}

// HasAskPending reports whether this state carries an outstanding outbound
// subscription request (the roster item's 'ask' attribute).
func (s Subscription) HasAskPending() bool {
	switch s {
	case SubNonePendingOut, SubNonePendingInOut, SubFromPendingOut:
		return true
	}
	return false
}

// OnSendSubscribe applies the transition for the local user sending
// <presence type='subscribe'/> to the contact (requesting the 'to'
// relationship), per RFC 3921 §9.2.
func (s Subscription) OnSendSubscribe() Subscription {
	switch s {
	case SubNone:
		return SubNonePendingOut
	case SubNonePendingIn:
		return SubNonePendingInOut
	case SubFrom:
		return SubFromPendingOut
	default:
		return s
	}
}

// OnReceiveSubscribed applies the transition for the contact approving the
// local user's outstanding subscribe request.
func (s Subscription) OnReceiveSubscribed() Subscription {
	switch s {
	case SubNonePendingOut:
		return SubTo
	case SubNonePendingInOut:
		return SubToPendingIn
	case SubFromPendingOut:
		return SubBoth
	default:
		return s
	}
}

// OnReceiveUnsubscribed and OnSendUnsubscribe both tear down the 'to'
// relationship (the local user no longer receives the contact's presence),
// whether that's because the contact revoked it or the local user canceled
// their own request/subscription.
func (s Subscription) OnReceiveUnsubscribed() Subscription { return s.tearDownTo() }
func (s Subscription) OnSendUnsubscribe() Subscription     { return s.tearDownTo() }

func (s Subscription) tearDownTo() Subscription {
	switch s {
	case SubTo, SubNonePendingOut:
		return SubNone
	case SubToPendingIn, SubNonePendingInOut:
		return SubNonePendingIn
	case SubBoth, SubFromPendingOut:
		return SubFrom
	default:
		return s
	}
}

// OnReceiveSubscribe applies the transition for the contact sending
// <presence type='subscribe'/> to the local user (requesting the 'from'
// relationship, i.e. that they receive the local user's presence).
func (s Subscription) OnReceiveSubscribe() Subscription {
	switch s {
	case SubNone:
		return SubNonePendingIn
	case SubNonePendingOut:
		return SubNonePendingInOut
	case SubTo:
		return SubToPendingIn
	default:
		return s
	}
}

// OnSendSubscribed applies the transition for the local user approving an
// incoming subscribe request, granting the contact the 'from' relationship.
func (s Subscription) OnSendSubscribed() Subscription {
	switch s {
	case SubNonePendingIn:
		return SubFrom
	case SubNonePendingInOut:
		return SubFromPendingOut
	case SubToPendingIn:
		return SubBoth
	default:
		return s
	}
}

// OnSendUnsubscribed and OnReceiveUnsubscribe both tear down the 'from'
// relationship: the local user denying/revoking the contact's access to
// their presence, or the contact itself canceling that access.
func (s Subscription) OnSendUnsubscribed() Subscription { return s.tearDownFrom() }
func (s Subscription) OnReceiveUnsubscribe() Subscription { return s.tearDownFrom() }

func (s Subscription) tearDownFrom() Subscription {
	switch s {
	case SubFrom, SubNonePendingIn:
		return SubNone
	case SubFromPendingOut:
		return SubNonePendingOut
	case SubBoth:
		return SubTo
	case SubToPendingIn:
		return SubTo
	case SubNonePendingInOut:
		return SubNonePendingOut
	default:
		return s
	}
}
