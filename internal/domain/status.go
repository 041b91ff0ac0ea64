package domain

import (
	"fmt"
	"strings"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusDenied   RequestStatus = "DENIED"
	StatusRevoked  RequestStatus = "REVOKED"
)

func ParseRequestStatus(s string) (RequestStatus, error) {
	switch RequestStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusDenied:
		return StatusDenied, nil
	case StatusRevoked:
		return StatusRevoked, nil
	default:
		return "", fmt.Errorf("unknown access request status %q", s)
	}
}

// Decision is a patient's answer to a pending access request.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionDeny    Decision = "DENY"
)

func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToUpper(strings.TrimSpace(s))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionDeny:
		return DecisionDeny, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

func (d Decision) TargetStatus() RequestStatus {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusDenied
}

// validTransitions is the full access-request state machine. Denied and
// Revoked deliberately re-enter Pending: the workflow stays re-enterable
// at the cost of a weaker audit trail.
var validTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusDenied},
	StatusApproved: {StatusRevoked},
	StatusDenied:   {StatusPending},
	StatusRevoked:  {StatusPending},
}

func CanTransition(from, to RequestStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
