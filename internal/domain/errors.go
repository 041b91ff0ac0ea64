package domain

import (
	"errors"
	"fmt"
)

// Authorization and state errors are typed so callers can match them
// with errors.As and map them to transport codes without string checks.

type RoleError struct {
	Role Role
	Op   string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("role %s may not perform %s", e.Role, e.Op)
}

type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return e.Reason }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

type InvalidStateError struct {
	Current RequestStatus
	Target  RequestStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid access request transition %s -> %s", e.Current, e.Target)
}

func IsRole(err error) bool {
	var e *RoleError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// Ledger failure kinds. The adapter wraps transport detail around one of
// these sentinels; callers retry (or not) based on errors.Is.
var (
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrLedgerRejected    = errors.New("ledger rejected transaction")
	ErrLedgerTimeout     = errors.New("ledger call timed out")
)
