package auth

import "github.com/linusyang/pjabberd/xmpp/streamerror"

// SASLState is the subset of a connection's SASL bookkeeping
// CheckPolicyViolation needs: whether a SASL exchange is under way, has
// completed, or has ever instantiated a mechanism object.
type SASLState struct {
	InProgress bool
	Complete   bool
	HasMechObj bool
}

// CheckPolicyViolation reports whether a jabber:iq:auth attempt arriving
// while SASL is or was in use is a policy violation: SASL and legacy
// iq-auth are mutually exclusive on a single stream once either has been
// touched. It returns nil when there's no violation.
func CheckPolicyViolation(s SASLState) *streamerror.Error {
	if s.InProgress || s.Complete || s.HasMechObj {
		return streamerror.PolicyViolation
	}
	return nil
}
