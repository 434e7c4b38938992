package health

import (
	"context"
)

// StoreCheck reports the shared store as unhealthy when ping fails
func StoreCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy, Message: "Connected"}
	}
}

// QuorumState is what QuorumCheck needs from the coordinator
type QuorumState func(ctx context.Context) (mode string, quorum, members int, present bool, err error)

// QuorumCheck is unhealthy when a cluster node cannot see a quorum
func QuorumCheck(state QuorumState) CheckFunc {
	return func(ctx context.Context) Check {
		mode, quorum, members, present, err := state(ctx)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		check := Check{
			Details: map[string]any{
				"deployment_mode": mode,
				"quorum":          quorum,
				"members":         members,
				"present":         present,
			},
		}
		switch {
		case !present:
			check.Status = StatusUnhealthy
			check.Message = "Quorum not present"
		case members == quorum && quorum > 1:
			check.Status = StatusDegraded
			check.Message = "No spare members above quorum"
		default:
			check.Status = StatusHealthy
			check.Message = "Quorum present"
		}
		return check
	}
}

// FencingCheck is degraded while the node is fenced: it stays alive but
// refuses coordinator work
func FencingCheck(fenced func() (bool, string)) CheckFunc {
	return func(ctx context.Context) Check {
		if on, reason := fenced(); on {
			return Check{Status: StatusDegraded, Message: "Fenced", Details: map[string]any{"reason": reason}}
		}
		return Check{Status: StatusHealthy, Message: "Not fenced"}
	}
}

// MembershipCheck reports the visible member count and whether this node
// is the oldest
func MembershipCheck(view func() (members int, oldest bool)) CheckFunc {
	return func(ctx context.Context) Check {
		members, oldest := view()
		check := Check{
			Status:  StatusHealthy,
			Message: "Members visible",
			Details: map[string]any{"members": members, "is_oldest": oldest},
		}
		if members == 0 {
			check.Status = StatusUnhealthy
			check.Message = "No members visible"
		}
		return check
	}
}
