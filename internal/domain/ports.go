package domain

import "context"

type RecordRepository interface {
	CreateUser(ctx context.Context, value User) (User, error)
	GetUserByWallet(ctx context.Context, wallet string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)

	CreateMedicalRecord(ctx context.Context, value MedicalRecord) (MedicalRecord, error)
	GetMedicalRecordByID(ctx context.Context, id string) (MedicalRecord, error)
	ListMedicalRecordsByPatient(ctx context.Context, patientID string, limit int) ([]MedicalRecord, error)

	CreateAccessRequest(ctx context.Context, value AccessRequest) (AccessRequest, error)
	GetAccessRequestByID(ctx context.Context, id string) (AccessRequestDetail, error)
	// UpdateAccessRequestStatus performs a compare-and-swap: the row is
	// updated only if its status still equals from. A stale precondition
	// surfaces as *InvalidStateError carrying the row's current status.
	UpdateAccessRequestStatus(ctx context.Context, id string, from, to RequestStatus) (AccessRequest, error)
	FindApprovedAccessRequest(ctx context.Context, recordID, requesterID string) (AccessRequest, bool, error)
	ListAccessRequestsByRequester(ctx context.Context, requesterID string, limit int) ([]AccessRequestDetail, error)
	ListAccessRequestsByPatient(ctx context.Context, patientID string, limit int) ([]AccessRequestDetail, error)
	ListAccessRequests(ctx context.Context, limit int) ([]AccessRequestDetail, error)

	CreateAuditLog(ctx context.Context, value AuditLog) error
	ListAuditLogsByActor(ctx context.Context, actorUserID string, limit int) ([]AuditLog, error)
	ListAuditLogs(ctx context.Context, limit int) ([]AuditLog, error)
}

// Ledger is the narrow surface of the on-chain pointer contract. Every
// mutating call is fire-and-forget: a returned tx hash means submitted,
// not mined. Implementations own the connection and signing credential;
// nothing else in the system touches ledger transport.
type Ledger interface {
	UpdatePointer(ctx context.Context, ownerWallet, cid string) (string, error)
	RequestAccess(ctx context.Context, patientWallet, doctorWallet string) (string, error)
	GrantAccess(ctx context.Context, patientWallet, doctorWallet string) (string, error)
	LatestPointer(ctx context.Context, wallet string) (string, error)
}

// ContentStore is content-addressable blob storage: Put returns the
// identifier the payload is retrievable under.
type ContentStore interface {
	Put(ctx context.Context, name string, payload []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
}
