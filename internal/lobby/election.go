package lobby

import "math-battle/internal/domain"

// ElectHost picks the host from a presence snapshot: among members flagged
// IsHost, the one with the smallest JoinOrder, ties broken by id. Every
// observer of the same snapshot elects the same host. The second return is
// false while no flagged member is present.
func ElectHost(members []domain.Participant) (string, bool) {
	var (
		best  domain.Participant
		found bool
	)
	for _, m := range members {
		if !m.IsHost {
			continue
		}
		if !found || m.JoinOrder < best.JoinOrder || (m.JoinOrder == best.JoinOrder && m.ID < best.ID) {
			best, found = m, true
		}
	}
	return best.ID, found
}
