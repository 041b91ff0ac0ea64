package domain

import "time"

type User struct {
	ID            string
	WalletAddress string
	Role          Role
	Name          string
	Email         string
	Contact       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MedicalRecord is immutable once created: no update or delete path exists.
type MedicalRecord struct {
	ID        string
	PatientID string
	CID       string
	FileName  string
	CreatedAt time.Time
}

type AccessRequest struct {
	ID              string
	MedicalRecordID string
	RequesterID     string
	Status          RequestStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccessRequestDetail joins the request with the record it targets, so
// ownership checks do not need a second round trip.
type AccessRequestDetail struct {
	AccessRequest
	Record MedicalRecord
}

type AuditLog struct {
	ID          string
	ActorUserID string
	Action      string
	TargetType  string
	TargetID    string
	Metadata    string
	CreatedAt   time.Time
}

// Identity is the caller as resolved by the session layer. The core
// trusts it; wallet signatures are checked upstream at login.
type Identity struct {
	User User
}

// LedgerReceipt carries the outcome of one ledger call. Local store
// outcomes and ledger outcomes are always reported side by side, never
// merged: a nil Err with a TxHash means the transaction was submitted,
// not that it was mined.
type LedgerReceipt struct {
	TxHash string
	Err    error
}

func (r LedgerReceipt) OK() bool { return r.Err == nil }
