package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/medicrypt/medicrypt/internal/auth"
	"github.com/medicrypt/medicrypt/internal/domain"
	"github.com/medicrypt/medicrypt/internal/sealbox"
)

// RecordService owns the access-request state machine and the single
// read gate in front of record content. Every collaborator arrives
// through its constructor so tests can swap in fakes.
type RecordService struct {
	repo    domain.RecordRepository
	ledger  domain.Ledger
	content domain.ContentStore
	tokens  *auth.TokenAuthority
	siwe    auth.SIWEVerifier
}

func NewRecordService(repo domain.RecordRepository, ledger domain.Ledger, content domain.ContentStore, tokens *auth.TokenAuthority, siwe auth.SIWEVerifier) *RecordService {
	return &RecordService{repo: repo, ledger: ledger, content: content, tokens: tokens, siwe: siwe}
}

type LoginInput struct {
	Wallet    string
	Message   string
	Signature string
	Role      string
	Name      string
	Email     string
	Contact   string
}

// Login verifies the SIWE signature, creates the user on first sight
// and issues a session token. An existing user keeps their stored role;
// the role field only matters on first login.
func (s *RecordService) Login(ctx context.Context, in LoginInput) (domain.User, string, error) {
	if err := s.siwe.Verify(in.Message, in.Signature, in.Wallet); err != nil {
		return domain.User{}, "", fmt.Errorf("siwe verification failed: %w", err)
	}
	wallet, err := auth.NormalizeWallet(in.Wallet)
	if err != nil {
		return domain.User{}, "", err
	}

	user, err := s.repo.GetUserByWallet(ctx, wallet)
	if domain.IsNotFound(err) {
		role, parseErr := domain.ParseRole(in.Role)
		if parseErr != nil {
			return domain.User{}, "", parseErr
		}
		user, err = s.repo.CreateUser(ctx, domain.User{
			WalletAddress: wallet,
			Role:          role,
			Name:          strings.TrimSpace(in.Name),
			Email:         strings.TrimSpace(in.Email),
			Contact:       strings.TrimSpace(in.Contact),
		})
	}
	if err != nil {
		return domain.User{}, "", err
	}

	token, err := s.tokens.Mint(user)
	if err != nil {
		return domain.User{}, "", err
	}

	s.writeAudit(ctx, user.ID, "auth.login", "user", user.ID, "")
	return user, token, nil
}

// ResolveIdentity turns a bearer token into the caller's Identity,
// re-reading the user row so role changes take effect immediately.
func (s *RecordService) ResolveIdentity(ctx context.Context, token string) (domain.Identity, error) {
	session, err := s.tokens.Parse(token)
	if err != nil {
		return domain.Identity{}, errors.New("unauthorized")
	}
	user, err := s.repo.GetUserByID(ctx, session.UserID)
	if err != nil {
		return domain.Identity{}, errors.New("unauthorized")
	}
	return domain.Identity{User: user}, nil
}

// UploadResult reports the three independent outcomes of an upload: the
// stored row, the one-time record key, and the ledger receipt.
type UploadResult struct {
	Record domain.MedicalRecord
	// Key is returned to the uploader exactly once and never persisted.
	Key    []byte
	Ledger domain.LedgerReceipt
}

func (s *RecordService) UploadRecord(ctx context.Context, identity domain.Identity, fileName string, payload []byte) (UploadResult, error) {
	if !identity.User.Role.Can(domain.CapUploadRecord) {
		return UploadResult{}, &domain.RoleError{Role: identity.User.Role, Op: "record.upload"}
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" || len(payload) == 0 {
		return UploadResult{}, errors.New("file name and payload are required")
	}

	envelope, key, err := sealbox.Seal(payload)
	if err != nil {
		return UploadResult{}, err
	}

	cid, err := s.content.Put(ctx, fileName, envelope)
	if err != nil {
		return UploadResult{}, fmt.Errorf("store content: %w", err)
	}

	record, err := s.repo.CreateMedicalRecord(ctx, domain.MedicalRecord{
		PatientID: identity.User.ID,
		CID:       cid,
		FileName:  fileName,
	})
	if err != nil {
		return UploadResult{}, err
	}

	txHash, ledgerErr := s.ledger.UpdatePointer(ctx, identity.User.WalletAddress, cid)
	s.writeAudit(ctx, identity.User.ID, "record.upload", "medical_record", record.ID, "cid="+cid)

	return UploadResult{
		Record: record,
		Key:    key,
		Ledger: domain.LedgerReceipt{TxHash: txHash, Err: ledgerErr},
	}, nil
}

// RequestAccess creates a Pending access request and notifies the
// ledger. The local insert does not depend on the ledger outcome; both
// results travel back to the caller separately.
func (s *RecordService) RequestAccess(ctx context.Context, identity domain.Identity, patientWallet, recordID string) (domain.AccessRequest, domain.LedgerReceipt, error) {
	if !identity.User.Role.Can(domain.CapRequestAccess) {
		return domain.AccessRequest{}, domain.LedgerReceipt{}, &domain.RoleError{Role: identity.User.Role, Op: "access.request"}
	}

	record, err := s.repo.GetMedicalRecordByID(ctx, recordID)
	if err != nil {
		return domain.AccessRequest{}, domain.LedgerReceipt{}, err
	}
	owner, err := s.repo.GetUserByID(ctx, record.PatientID)
	if err != nil {
		return domain.AccessRequest{}, domain.LedgerReceipt{}, err
	}
	if patientWallet != "" && !strings.EqualFold(patientWallet, owner.WalletAddress) {
		return domain.AccessRequest{}, domain.LedgerReceipt{}, fmt.Errorf("wallet %s does not own record %s", patientWallet, recordID)
	}

	request, err := s.repo.CreateAccessRequest(ctx, domain.AccessRequest{
		MedicalRecordID: record.ID,
		RequesterID:     identity.User.ID,
		Status:          domain.StatusPending,
	})
	if err != nil {
		return domain.AccessRequest{}, domain.LedgerReceipt{}, err
	}

	txHash, ledgerErr := s.ledger.RequestAccess(ctx, owner.WalletAddress, identity.User.WalletAddress)
	s.writeAudit(ctx, identity.User.ID, "access.request", "access_request", request.ID, "record="+record.ID)

	return request, domain.LedgerReceipt{TxHash: txHash, Err: ledgerErr}, nil
}

// RespondToAccessRequest applies a patient's Approve or Deny decision.
// Only Pending requests can be decided; the status precondition is
// enforced atomically at the storage layer.
func (s *RecordService) RespondToAccessRequest(ctx context.Context, identity domain.Identity, requestID string, decision domain.Decision) (domain.AccessRequest, domain.LedgerReceipt, error) {
	detail, err := s.ownedRequest(ctx, identity, requestID, "access.decide")
	if err != nil {
		return domain.AccessRequest{}, domain.LedgerReceipt{}, err
	}

	updated, err := s.repo.UpdateAccessRequestStatus(ctx, detail.ID, domain.StatusPending, decision.TargetStatus())
	if err != nil {
		return domain.AccessRequest{}, domain.LedgerReceipt{}, err
	}

	receipt := domain.LedgerReceipt{}
	action := "access.deny"
	if decision == domain.DecisionApprove {
		action = "access.approve"
		requester, err := s.repo.GetUserByID(ctx, detail.RequesterID)
		if err != nil {
			return updated, domain.LedgerReceipt{Err: fmt.Errorf("grant not attempted: %w", err)}, nil
		}
		txHash, ledgerErr := s.ledger.GrantAccess(ctx, identity.User.WalletAddress, requester.WalletAddress)
		receipt = domain.LedgerReceipt{TxHash: txHash, Err: ledgerErr}
	}

	s.writeAudit(ctx, identity.User.ID, action, "access_request", updated.ID, "")
	return updated, receipt, nil
}

// Revoke withdraws a previously granted approval. The contract exposes
// no revoke method, so revocation is off-chain only.
func (s *RecordService) Revoke(ctx context.Context, identity domain.Identity, requestID string) (domain.AccessRequest, error) {
	detail, err := s.ownedRequest(ctx, identity, requestID, "access.revoke")
	if err != nil {
		return domain.AccessRequest{}, err
	}

	updated, err := s.repo.UpdateAccessRequestStatus(ctx, detail.ID, domain.StatusApproved, domain.StatusRevoked)
	if err != nil {
		return domain.AccessRequest{}, err
	}

	s.writeAudit(ctx, identity.User.ID, "access.revoke", "access_request", updated.ID, "")
	return updated, nil
}

// RevertToPending re-opens a Denied or Revoked request. The workflow is
// deliberately re-enterable; see the state machine in domain.
func (s *RecordService) RevertToPending(ctx context.Context, identity domain.Identity, requestID string) (domain.AccessRequest, error) {
	detail, err := s.ownedRequest(ctx, identity, requestID, "access.reopen")
	if err != nil {
		return domain.AccessRequest{}, err
	}
	if !domain.CanTransition(detail.Status, domain.StatusPending) {
		return domain.AccessRequest{}, &domain.InvalidStateError{Current: detail.Status, Target: domain.StatusPending}
	}

	updated, err := s.repo.UpdateAccessRequestStatus(ctx, detail.ID, detail.Status, domain.StatusPending)
	if err != nil {
		return domain.AccessRequest{}, err
	}

	s.writeAudit(ctx, identity.User.ID, "access.reopen", "access_request", updated.ID, "")
	return updated, nil
}

// CanRead is the single authorization gate for record content. Every
// path that returns a record or its payload goes through here.
func (s *RecordService) CanRead(ctx context.Context, identity domain.Identity, recordID string) (bool, error) {
	record, err := s.repo.GetMedicalRecordByID(ctx, recordID)
	if err != nil {
		return false, err
	}

	switch identity.User.Role {
	case domain.RolePatient:
		return record.PatientID == identity.User.ID, nil
	case domain.RoleDoctor:
		_, found, err := s.repo.FindApprovedAccessRequest(ctx, record.ID, identity.User.ID)
		if err != nil {
			return false, err
		}
		return found, nil
	default:
		return false, nil
	}
}

func (s *RecordService) GetRecord(ctx context.Context, identity domain.Identity, recordID string) (domain.MedicalRecord, error) {
	allowed, err := s.CanRead(ctx, identity, recordID)
	if err != nil {
		return domain.MedicalRecord{}, err
	}
	if !allowed {
		return domain.MedicalRecord{}, &domain.ForbiddenError{Reason: "access not granted"}
	}

	record, err := s.repo.GetMedicalRecordByID(ctx, recordID)
	if err != nil {
		return domain.MedicalRecord{}, err
	}

	s.writeAudit(ctx, identity.User.ID, "record.read", "medical_record", record.ID, "")
	return record, nil
}

// GetRecordContent returns the sealed envelope; decryption happens
// client-side with the patient-held key.
func (s *RecordService) GetRecordContent(ctx context.Context, identity domain.Identity, recordID string) (domain.MedicalRecord, []byte, error) {
	record, err := s.GetRecord(ctx, identity, recordID)
	if err != nil {
		return domain.MedicalRecord{}, nil, err
	}
	payload, err := s.content.Get(ctx, record.CID)
	if err != nil {
		return domain.MedicalRecord{}, nil, fmt.Errorf("fetch content %s: %w", record.CID, err)
	}
	return record, payload, nil
}

func (s *RecordService) ListMyRecords(ctx context.Context, identity domain.Identity, limit int) ([]domain.MedicalRecord, error) {
	if identity.User.Role != domain.RolePatient {
		return nil, &domain.RoleError{Role: identity.User.Role, Op: "record.list"}
	}
	return s.repo.ListMedicalRecordsByPatient(ctx, identity.User.ID, clampLimit(limit, 100, 1000))
}

// ListAccessRequests shows a patient the requests against their records
// and a doctor the requests they filed.
func (s *RecordService) ListAccessRequests(ctx context.Context, identity domain.Identity, limit int) ([]domain.AccessRequestDetail, error) {
	limit = clampLimit(limit, 100, 1000)
	switch identity.User.Role {
	case domain.RolePatient:
		return s.repo.ListAccessRequestsByPatient(ctx, identity.User.ID, limit)
	case domain.RoleDoctor:
		return s.repo.ListAccessRequestsByRequester(ctx, identity.User.ID, limit)
	default:
		return nil, &domain.RoleError{Role: identity.User.Role, Op: "access.list"}
	}
}

// LatestPointer reads the caller's on-chain pointer for comparison with
// the relational store; the two can diverge since writes to them are
// not transactional.
func (s *RecordService) LatestPointer(ctx context.Context, identity domain.Identity) (string, error) {
	return s.ledger.LatestPointer(ctx, identity.User.WalletAddress)
}

func (s *RecordService) AuditTrail(ctx context.Context, identity domain.Identity, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogsByActor(ctx, identity.User.ID, clampLimit(limit, 200, 2000))
}

// Operator surface, exposed only on the local inspection socket.

func (s *RecordService) ListAllAccessRequests(ctx context.Context, limit int) ([]domain.AccessRequestDetail, error) {
	return s.repo.ListAccessRequests(ctx, clampLimit(limit, 200, 2000))
}

func (s *RecordService) ListAllAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, clampLimit(limit, 200, 2000))
}

func (s *RecordService) PointerFor(ctx context.Context, wallet string) (string, error) {
	return s.ledger.LatestPointer(ctx, wallet)
}

// ownedRequest loads an access request and enforces the two layers of
// the decision precondition: the caller must hold the decide capability
// and must own the record the request targets.
func (s *RecordService) ownedRequest(ctx context.Context, identity domain.Identity, requestID, op string) (domain.AccessRequestDetail, error) {
	if !identity.User.Role.Can(domain.CapDecideAccess) {
		return domain.AccessRequestDetail{}, &domain.RoleError{Role: identity.User.Role, Op: op}
	}
	detail, err := s.repo.GetAccessRequestByID(ctx, requestID)
	if err != nil {
		return domain.AccessRequestDetail{}, err
	}
	if detail.Record.PatientID != identity.User.ID {
		return domain.AccessRequestDetail{}, &domain.ForbiddenError{Reason: "request does not target your record"}
	}
	return detail, nil
}

func (s *RecordService) writeAudit(ctx context.Context, actorID, action, targetType, targetID, metadata string) {
	_ = s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUserID: actorID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Metadata:    metadata,
	})
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
