package application

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/medicrypt/medicrypt/internal/adapters/content"
	"github.com/medicrypt/medicrypt/internal/adapters/db/sqlite"
	"github.com/medicrypt/medicrypt/internal/adapters/ledger/memledger"
	"github.com/medicrypt/medicrypt/internal/auth"
	"github.com/medicrypt/medicrypt/internal/domain"
	"github.com/medicrypt/medicrypt/internal/sealbox"
)

type fixture struct {
	service *RecordService
	repo    *sqlite.RecordRepository
	ledger  *memledger.Ledger
	store   *content.MemoryStore

	patient  domain.Identity
	patient2 domain.Identity
	doctor   domain.Identity
	doctor2  domain.Identity
	research domain.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "medicrypt_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := sqlite.RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	repo := sqlite.NewRecordRepository(db)
	ledger := memledger.New()
	store := content.NewMemoryStore()
	tokens, err := auth.NewTokenAuthority("test-secret")
	if err != nil {
		t.Fatalf("token authority: %v", err)
	}

	f := &fixture{
		service: NewRecordService(repo, ledger, store, tokens, auth.SIWEVerifier{SkipVerify: true}),
		repo:    repo,
		ledger:  ledger,
		store:   store,
	}
	f.patient = f.mustCreateUser(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1", domain.RolePatient)
	f.patient2 = f.mustCreateUser(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa2", domain.RolePatient)
	f.doctor = f.mustCreateUser(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb1", domain.RoleDoctor)
	f.doctor2 = f.mustCreateUser(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2", domain.RoleDoctor)
	f.research = f.mustCreateUser(t, "0xccccccccccccccccccccccccccccccccccccccc1", domain.RoleResearcher)
	return f
}

func (f *fixture) mustCreateUser(t *testing.T, wallet string, role domain.Role) domain.Identity {
	t.Helper()
	user, err := f.repo.CreateUser(context.Background(), domain.User{WalletAddress: wallet, Role: role})
	if err != nil {
		t.Fatalf("create user %s: %v", wallet, err)
	}
	return domain.Identity{User: user}
}

func (f *fixture) mustUpload(t *testing.T, who domain.Identity, name string) UploadResult {
	t.Helper()
	result, err := f.service.UploadRecord(context.Background(), who, name, []byte("payload of "+name))
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return result
}

func (f *fixture) canRead(t *testing.T, who domain.Identity, recordID string) bool {
	t.Helper()
	allowed, err := f.service.CanRead(context.Background(), who, recordID)
	if err != nil {
		t.Fatalf("can read: %v", err)
	}
	return allowed
}

func TestAccessWorkflowScenarios(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.mustUpload(t, f.patient, "scan.pdf").Record

	// Scenario A: doctor requests access, request is Pending, no read yet.
	request, receipt, err := f.service.RequestAccess(ctx, f.doctor, f.patient.User.WalletAddress, record.ID)
	if err != nil {
		t.Fatalf("request access: %v", err)
	}
	if request.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", request.Status)
	}
	if !receipt.OK() || receipt.TxHash == "" {
		t.Fatalf("expected ledger receipt with tx hash, got %+v", receipt)
	}
	if f.canRead(t, f.doctor, record.ID) {
		t.Fatalf("pending request must not grant read")
	}

	// Scenario B: patient approves, doctor can read.
	approved, grantReceipt, err := f.service.RespondToAccessRequest(ctx, f.patient, request.ID, domain.DecisionApprove)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", approved.Status)
	}
	if !grantReceipt.OK() || grantReceipt.TxHash == "" {
		t.Fatalf("expected grant receipt, got %+v", grantReceipt)
	}
	if f.ledger.GrantCount() != 1 {
		t.Fatalf("expected exactly one grantAccess call, got %d", f.ledger.GrantCount())
	}
	if !f.canRead(t, f.doctor, record.ID) {
		t.Fatalf("approved doctor must read")
	}

	// Scenario C: patient revokes, read access disappears.
	revoked, err := f.service.Revoke(ctx, f.patient, request.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != domain.StatusRevoked {
		t.Fatalf("expected REVOKED, got %s", revoked.Status)
	}
	if f.canRead(t, f.doctor, record.ID) {
		t.Fatalf("revoked doctor must not read")
	}

	// Scenario D: reopen puts the request back to Pending, still no read.
	reopened, err := f.service.RevertToPending(ctx, f.patient, request.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", reopened.Status)
	}
	if f.canRead(t, f.doctor, record.ID) {
		t.Fatalf("reopened request must not grant read")
	}

	// Scenario E: a doctor who never asked has no access either way.
	if f.canRead(t, f.doctor2, record.ID) {
		t.Fatalf("stranger doctor must not read")
	}
}

func TestRequestAccessRoleAndExistenceChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.mustUpload(t, f.patient, "scan.pdf").Record

	_, _, err := f.service.RequestAccess(ctx, f.patient, "", record.ID)
	if !domain.IsRole(err) {
		t.Fatalf("expected RoleError for patient requester, got %v", err)
	}
	_, _, err = f.service.RequestAccess(ctx, f.research, "", record.ID)
	if !domain.IsRole(err) {
		t.Fatalf("expected RoleError for researcher requester, got %v", err)
	}
	_, _, err = f.service.RequestAccess(ctx, f.doctor, "", "no-such-record")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	_, _, err = f.service.RequestAccess(ctx, f.doctor, f.patient2.User.WalletAddress, record.ID)
	if err == nil {
		t.Fatalf("expected error for wallet that does not own the record")
	}
}

func TestRespondRequiresOwningPatient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.mustUpload(t, f.patient, "scan.pdf").Record
	request, _, err := f.service.RequestAccess(ctx, f.doctor, "", record.ID)
	if err != nil {
		t.Fatalf("request access: %v", err)
	}

	// Wrong role always fails with RoleError, even for missing requests.
	_, _, err = f.service.RespondToAccessRequest(ctx, f.doctor, request.ID, domain.DecisionApprove)
	if !domain.IsRole(err) {
		t.Fatalf("expected RoleError, got %v", err)
	}
	_, _, err = f.service.RespondToAccessRequest(ctx, f.doctor, "no-such-request", domain.DecisionApprove)
	if !domain.IsRole(err) {
		t.Fatalf("expected RoleError regardless of request existence, got %v", err)
	}

	// Right role, wrong owner.
	_, _, err = f.service.RespondToAccessRequest(ctx, f.patient2, request.ID, domain.DecisionApprove)
	if !domain.IsForbidden(err) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}

	// Right role, missing request.
	_, _, err = f.service.RespondToAccessRequest(ctx, f.patient, "no-such-request", domain.DecisionApprove)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestStateMachinePreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.mustUpload(t, f.patient, "scan.pdf").Record
	request, _, err := f.service.RequestAccess(ctx, f.doctor, "", record.ID)
	if err != nil {
		t.Fatalf("request access: %v", err)
	}

	// Revoke and reopen both need a non-Pending source state.
	if _, err := f.service.Revoke(ctx, f.patient, request.ID); !domain.IsInvalidState(err) {
		t.Fatalf("expected InvalidStateError revoking Pending, got %v", err)
	}
	if _, err := f.service.RevertToPending(ctx, f.patient, request.ID); !domain.IsInvalidState(err) {
		t.Fatalf("expected InvalidStateError reopening Pending, got %v", err)
	}

	if _, _, err := f.service.RespondToAccessRequest(ctx, f.patient, request.ID, domain.DecisionDeny); err != nil {
		t.Fatalf("deny: %v", err)
	}

	// Deciding twice is illegal from any non-Pending state.
	_, _, err = f.service.RespondToAccessRequest(ctx, f.patient, request.ID, domain.DecisionApprove)
	if !domain.IsInvalidState(err) {
		t.Fatalf("expected InvalidStateError deciding Denied request, got %v", err)
	}
	// So is revoking a Denied request.
	if _, err := f.service.Revoke(ctx, f.patient, request.ID); !domain.IsInvalidState(err) {
		t.Fatalf("expected InvalidStateError revoking Denied, got %v", err)
	}

	// Denied reopens to Pending, then the approve path still works.
	if _, err := f.service.RevertToPending(ctx, f.patient, request.ID); err != nil {
		t.Fatalf("reopen denied: %v", err)
	}
	if _, _, err := f.service.RespondToAccessRequest(ctx, f.patient, request.ID, domain.DecisionApprove); err != nil {
		t.Fatalf("approve reopened: %v", err)
	}
}

func TestLedgerFailureIsReportedSeparately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.mustUpload(t, f.patient, "scan.pdf").Record

	// Ledger down during request: the local Pending row still lands.
	f.ledger.FailNext(domain.ErrLedgerUnavailable)
	request, receipt, err := f.service.RequestAccess(ctx, f.doctor, "", record.ID)
	if err != nil {
		t.Fatalf("request access must succeed locally: %v", err)
	}
	if request.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", request.Status)
	}
	if receipt.OK() || !errors.Is(receipt.Err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected unavailable receipt, got %+v", receipt)
	}

	// Scenario F: ledger down during approve. The status change and the
	// ledger outcome come back as two distinct results.
	f.ledger.FailNext(domain.ErrLedgerUnavailable)
	updated, grantReceipt, err := f.service.RespondToAccessRequest(ctx, f.patient, request.ID, domain.DecisionApprove)
	if err != nil {
		t.Fatalf("approve must succeed locally: %v", err)
	}
	if updated.Status != domain.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", updated.Status)
	}
	if grantReceipt.OK() || !errors.Is(grantReceipt.Err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected unavailable grant receipt, got %+v", grantReceipt)
	}
	if !f.canRead(t, f.doctor, record.ID) {
		t.Fatalf("local approval stands even when the ledger call failed")
	}
}

func TestUploadRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload := []byte("blood panel: hemoglobin 14.1")
	result, err := f.service.UploadRecord(ctx, f.patient, "panel.txt", payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Record.PatientID != f.patient.User.ID {
		t.Fatalf("record owned by wrong patient: %+v", result.Record)
	}
	if !result.Ledger.OK() || result.Ledger.TxHash == "" {
		t.Fatalf("expected pointer update receipt, got %+v", result.Ledger)
	}

	// The on-chain pointer now references the uploaded envelope.
	pointer, err := f.service.LatestPointer(ctx, f.patient)
	if err != nil {
		t.Fatalf("latest pointer: %v", err)
	}
	if pointer != result.Record.CID {
		t.Fatalf("pointer %s does not match cid %s", pointer, result.Record.CID)
	}

	// The stored envelope opens only with the returned one-time key.
	_, envelope, err := f.service.GetRecordContent(ctx, f.patient, result.Record.ID)
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	plain, err := sealbox.Open(envelope, result.Key)
	if err != nil {
		t.Fatalf("open envelope: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Fatalf("decrypted payload mismatch: %q", plain)
	}

	// Doctors cannot upload.
	if _, err := f.service.UploadRecord(ctx, f.doctor, "x.txt", []byte("y")); !domain.IsRole(err) {
		t.Fatalf("expected RoleError for doctor upload, got %v", err)
	}
}

func TestGetRecordEnforcesGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.mustUpload(t, f.patient, "scan.pdf").Record

	if _, err := f.service.GetRecord(ctx, f.patient, record.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := f.service.GetRecord(ctx, f.patient2, record.ID); !domain.IsForbidden(err) {
		t.Fatalf("expected ForbiddenError for other patient, got %v", err)
	}
	if _, err := f.service.GetRecord(ctx, f.doctor, record.ID); !domain.IsForbidden(err) {
		t.Fatalf("expected ForbiddenError for unapproved doctor, got %v", err)
	}
	if _, err := f.service.GetRecord(ctx, f.research, record.ID); !domain.IsForbidden(err) {
		t.Fatalf("expected ForbiddenError for researcher, got %v", err)
	}
	if _, err := f.service.GetRecord(ctx, f.patient, "no-such-record"); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestLoginCreatesUserOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	wallet := "0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD1"
	user, token, err := f.service.Login(ctx, LoginInput{
		Wallet:    wallet,
		Message:   "sign-in",
		Signature: "ignored-in-skip-mode",
		Role:      "patient",
		Name:      "Dana",
	})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if token == "" {
		t.Fatalf("expected session token")
	}
	if user.Role != domain.RolePatient {
		t.Fatalf("expected PATIENT role, got %s", user.Role)
	}
	if user.WalletAddress != "0xddddddddddddddddddddddddddddddddddddddd1" {
		t.Fatalf("wallet not normalized: %s", user.WalletAddress)
	}

	// Second login finds the same user; the submitted role is ignored.
	again, _, err := f.service.Login(ctx, LoginInput{Wallet: wallet, Message: "sign-in", Signature: "x", Role: "doctor"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if again.ID != user.ID || again.Role != domain.RolePatient {
		t.Fatalf("expected same user with original role, got %+v", again)
	}

	// The issued token resolves back to the user.
	identity, err := f.service.ResolveIdentity(ctx, token)
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if identity.User.ID != user.ID {
		t.Fatalf("identity mismatch: %+v", identity.User)
	}

	if _, err := f.service.ResolveIdentity(ctx, "garbage-token"); err == nil {
		t.Fatalf("expected error for garbage token")
	}
}

func TestListAccessRequestsPerRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.mustUpload(t, f.patient, "scan.pdf").Record
	record2 := f.mustUpload(t, f.patient2, "other.pdf").Record

	if _, _, err := f.service.RequestAccess(ctx, f.doctor, "", record.ID); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, _, err := f.service.RequestAccess(ctx, f.doctor, "", record2.ID); err != nil {
		t.Fatalf("request: %v", err)
	}

	incoming, err := f.service.ListAccessRequests(ctx, f.patient, 0)
	if err != nil {
		t.Fatalf("patient list: %v", err)
	}
	if len(incoming) != 1 || incoming[0].Record.ID != record.ID {
		t.Fatalf("patient must see only requests on own records: %+v", incoming)
	}

	outgoing, err := f.service.ListAccessRequests(ctx, f.doctor, 0)
	if err != nil {
		t.Fatalf("doctor list: %v", err)
	}
	if len(outgoing) != 2 {
		t.Fatalf("doctor must see both filed requests, got %d", len(outgoing))
	}

	if _, err := f.service.ListAccessRequests(ctx, f.research, 0); !domain.IsRole(err) {
		t.Fatalf("expected RoleError for researcher, got %v", err)
	}
}

func TestAuditTrailRecordsWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.mustUpload(t, f.patient, "scan.pdf").Record
	request, _, err := f.service.RequestAccess(ctx, f.doctor, "", record.ID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, _, err := f.service.RespondToAccessRequest(ctx, f.patient, request.ID, domain.DecisionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	trail, err := f.service.AuditTrail(ctx, f.patient, 0)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	actions := make(map[string]bool)
	for _, entry := range trail {
		actions[entry.Action] = true
	}
	if !actions["record.upload"] || !actions["access.approve"] {
		t.Fatalf("expected upload and approve in patient trail, got %v", actions)
	}
	if actions["access.request"] {
		t.Fatalf("doctor actions must not appear in patient trail")
	}
}
