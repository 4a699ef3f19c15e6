package match

import "github.com/pairline/relay/internal/registry"

// FindInstantPartner implements the instant-chat pairing strategy. Instead of
// a waiting queue it scans the live connections in registration order and
// returns the first user who is not the requester, is not excluded by the
// eligibility check, and still has a live transport. The registration-order
// scan makes the tie-break deterministic.
//
// ineligible reports users that must be skipped (typically: already in an
// active session). It is called for every candidate including ones that
// disconnect mid-scan.
func FindInstantPartner(reg *registry.Registry, requesterID string, ineligible func(userID string) bool) (string, registry.Transport, bool) {
	var (
		partnerID string
		transport registry.Transport
		found     bool
	)

	reg.Each(func(userID string, t registry.Transport) bool {
		if userID == requesterID {
			return true
		}
		if ineligible != nil && ineligible(userID) {
			return true
		}
		partnerID = userID
		transport = t
		found = true
		return false // first eligible wins
	})

	return partnerID, transport, found
}
