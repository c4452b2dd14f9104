package handler

import "github.com/linusyang/pjabberd/dispatch"

// Register wires every handler name a phase.Table can reference to its
// implementation, the Go counterpart of pjs/conf/handlers.py's HANDLERS
// dict.
func Register(reg *dispatch.Registry, d *Deps) {
	reg.Set("write", Write)

	reg.Set("in-stream-init", InStreamInit(d))
	reg.Set("features-init", FeaturesInit(d))
	reg.Set("in-stream-reinit", InStreamReInit(d))
	reg.Set("out-stream-init", OutStreamInit(d))
	reg.Set("stream-end", StreamEnd(d))
	reg.Set("cleanup-conn", CleanupConn(d))

	reg.Set("sasl-auth", SASLAuth(d))
	reg.Set("sasl-response", SASLResponse(d))
	reg.Set("sasl-error", SASLError(d))

	reg.Set("iq-auth-get", IQAuthGet(d))
	reg.Set("iq-auth-set", IQAuthSet(d))

	reg.Set("iq-bind", IQBind(d))
	reg.Set("iq-session", IQSession(d))
	reg.Set("iq-roster-get", IQRosterGet(d))
	reg.Set("iq-roster-update", IQRosterUpdate(d))
	reg.Set("roster-push", RosterPush(d))
	reg.Set("iq-not-implemented", IQNotImplemented(d))

	reg.Set("c2s-message", C2SMessage(d))
	reg.Set("s2s-message", S2SMessage(d))

	reg.Set("c2s-presence", C2SPresence(d))
	reg.Set("s2s-presence", S2SPresence(d))
	reg.Set("c2s-subscription", C2SSubscription(d))
	reg.Set("s2s-subscription", S2SSubscription(d))
	reg.Set("s2s-probe", S2SProbe(d))
}
