package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/medicrypt/medicrypt/internal/domain"
)

func newTestRepo(t *testing.T) *RecordRepository {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "medicrypt_test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewRecordRepository(db)
}

func TestStatusUpdateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	patient, err := repo.CreateUser(ctx, domain.User{WalletAddress: "0xaaa1", Role: domain.RolePatient})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	doctor, err := repo.CreateUser(ctx, domain.User{WalletAddress: "0xbbb2", Role: domain.RoleDoctor})
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	record, err := repo.CreateMedicalRecord(ctx, domain.MedicalRecord{PatientID: patient.ID, CID: "QmTest", FileName: "scan.pdf"})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	req, err := repo.CreateAccessRequest(ctx, domain.AccessRequest{MedicalRecordID: record.ID, RequesterID: doctor.ID, Status: domain.StatusPending})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	updated, err := repo.UpdateAccessRequestStatus(ctx, req.ID, domain.StatusPending, domain.StatusApproved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != domain.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", updated.Status)
	}

	// Second decision against the same Pending precondition loses.
	_, err = repo.UpdateAccessRequestStatus(ctx, req.ID, domain.StatusPending, domain.StatusDenied)
	var stateErr *domain.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if stateErr.Current != domain.StatusApproved {
		t.Fatalf("expected current=APPROVED in state error, got %+v", stateErr)
	}

	_, err = repo.UpdateAccessRequestStatus(ctx, "no-such-id", domain.StatusPending, domain.StatusApproved)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError for unknown id, got %v", err)
	}
}

func TestFindApprovedAccessRequestMatchesExactPair(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	patient, _ := repo.CreateUser(ctx, domain.User{WalletAddress: "0xaaa3", Role: domain.RolePatient})
	doctor, _ := repo.CreateUser(ctx, domain.User{WalletAddress: "0xbbb4", Role: domain.RoleDoctor})
	other, _ := repo.CreateUser(ctx, domain.User{WalletAddress: "0xccc5", Role: domain.RoleDoctor})
	record, _ := repo.CreateMedicalRecord(ctx, domain.MedicalRecord{PatientID: patient.ID, CID: "QmA", FileName: "a.pdf"})
	record2, _ := repo.CreateMedicalRecord(ctx, domain.MedicalRecord{PatientID: patient.ID, CID: "QmB", FileName: "b.pdf"})

	req, err := repo.CreateAccessRequest(ctx, domain.AccessRequest{MedicalRecordID: record.ID, RequesterID: doctor.ID, Status: domain.StatusPending})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := repo.UpdateAccessRequestStatus(ctx, req.ID, domain.StatusPending, domain.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, found, err := repo.FindApprovedAccessRequest(ctx, record.ID, doctor.ID)
	if err != nil || !found {
		t.Fatalf("expected approved request for exact pair, found=%v err=%v", found, err)
	}

	if _, found, _ := repo.FindApprovedAccessRequest(ctx, record.ID, other.ID); found {
		t.Fatalf("approval must not leak to another requester")
	}
	if _, found, _ := repo.FindApprovedAccessRequest(ctx, record2.ID, doctor.ID); found {
		t.Fatalf("approval must not leak to another record")
	}
}

func TestListAccessRequestsByPatientSeesIncoming(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	patient, _ := repo.CreateUser(ctx, domain.User{WalletAddress: "0xaaa6", Role: domain.RolePatient})
	stranger, _ := repo.CreateUser(ctx, domain.User{WalletAddress: "0xddd7", Role: domain.RolePatient})
	doctor, _ := repo.CreateUser(ctx, domain.User{WalletAddress: "0xbbb8", Role: domain.RoleDoctor})

	mine, _ := repo.CreateMedicalRecord(ctx, domain.MedicalRecord{PatientID: patient.ID, CID: "QmM", FileName: "m.pdf"})
	theirs, _ := repo.CreateMedicalRecord(ctx, domain.MedicalRecord{PatientID: stranger.ID, CID: "QmT", FileName: "t.pdf"})

	if _, err := repo.CreateAccessRequest(ctx, domain.AccessRequest{MedicalRecordID: mine.ID, RequesterID: doctor.ID, Status: domain.StatusPending}); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := repo.CreateAccessRequest(ctx, domain.AccessRequest{MedicalRecordID: theirs.ID, RequesterID: doctor.ID, Status: domain.StatusPending}); err != nil {
		t.Fatalf("create request: %v", err)
	}

	incoming, err := repo.ListAccessRequestsByPatient(ctx, patient.ID, 50)
	if err != nil {
		t.Fatalf("list by patient: %v", err)
	}
	if len(incoming) != 1 {
		t.Fatalf("expected 1 incoming request, got %d", len(incoming))
	}
	if incoming[0].Record.ID != mine.ID {
		t.Fatalf("incoming request joined wrong record: %+v", incoming[0])
	}

	outgoing, err := repo.ListAccessRequestsByRequester(ctx, doctor.ID, 50)
	if err != nil {
		t.Fatalf("list by requester: %v", err)
	}
	if len(outgoing) != 2 {
		t.Fatalf("expected 2 outgoing requests, got %d", len(outgoing))
	}
}

func TestUserUniqueWallet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := repo.CreateUser(ctx, domain.User{WalletAddress: "0xsame", Role: domain.RolePatient}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := repo.CreateUser(ctx, domain.User{WalletAddress: "0xsame", Role: domain.RoleDoctor}); err == nil {
		t.Fatalf("expected unique constraint violation on wallet")
	}

	u, err := repo.GetUserByWallet(ctx, "0xsame")
	if err != nil {
		t.Fatalf("get by wallet: %v", err)
	}
	if u.Role != domain.RolePatient {
		t.Fatalf("expected first insert to win, got role %s", u.Role)
	}

	if _, err := repo.GetUserByWallet(ctx, "0xmissing"); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
