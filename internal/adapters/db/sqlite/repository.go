package sqlite

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/medicrypt/medicrypt/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type RecordRepository struct {
	db *gorm.DB
}

func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) CreateUser(ctx context.Context, value domain.User) (domain.User, error) {
	m := UserModel{
		ID:            uuid.NewString(),
		WalletAddress: value.WalletAddress,
		Role:          string(value.Role),
		Name:          value.Name,
		Email:         value.Email,
		Contact:       value.Contact,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.User{}, err
	}
	return userFromModel(m), nil
}

func (r *RecordRepository) GetUserByWallet(ctx context.Context, wallet string) (domain.User, error) {
	var m UserModel
	err := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, &domain.NotFoundError{Kind: "user", ID: wallet}
	}
	if err != nil {
		return domain.User{}, err
	}
	return userFromModel(m), nil
}

func (r *RecordRepository) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	var m UserModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, &domain.NotFoundError{Kind: "user", ID: id}
	}
	if err != nil {
		return domain.User{}, err
	}
	return userFromModel(m), nil
}

func (r *RecordRepository) CreateMedicalRecord(ctx context.Context, value domain.MedicalRecord) (domain.MedicalRecord, error) {
	m := MedicalRecordModel{
		ID:        uuid.NewString(),
		PatientID: value.PatientID,
		CID:       value.CID,
		FileName:  value.FileName,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.MedicalRecord{}, err
	}
	return recordFromModel(m), nil
}

func (r *RecordRepository) GetMedicalRecordByID(ctx context.Context, id string) (domain.MedicalRecord, error) {
	var m MedicalRecordModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.MedicalRecord{}, &domain.NotFoundError{Kind: "medical record", ID: id}
	}
	if err != nil {
		return domain.MedicalRecord{}, err
	}
	return recordFromModel(m), nil
}

func (r *RecordRepository) ListMedicalRecordsByPatient(ctx context.Context, patientID string, limit int) ([]domain.MedicalRecord, error) {
	rows := make([]MedicalRecordModel, 0)
	err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.MedicalRecord, 0, len(rows))
	for _, m := range rows {
		result = append(result, recordFromModel(m))
	}
	return result, nil
}

func (r *RecordRepository) CreateAccessRequest(ctx context.Context, value domain.AccessRequest) (domain.AccessRequest, error) {
	m := AccessRequestModel{
		ID:              uuid.NewString(),
		MedicalRecordID: value.MedicalRecordID,
		RequesterID:     value.RequesterID,
		Status:          string(value.Status),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.AccessRequest{}, err
	}
	return requestFromModel(m), nil
}

func (r *RecordRepository) GetAccessRequestByID(ctx context.Context, id string) (domain.AccessRequestDetail, error) {
	var m AccessRequestModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AccessRequestDetail{}, &domain.NotFoundError{Kind: "access request", ID: id}
	}
	if err != nil {
		return domain.AccessRequestDetail{}, err
	}
	record, err := r.GetMedicalRecordByID(ctx, m.MedicalRecordID)
	if err != nil {
		return domain.AccessRequestDetail{}, err
	}
	return domain.AccessRequestDetail{AccessRequest: requestFromModel(m), Record: record}, nil
}

// UpdateAccessRequestStatus writes the new status only when the current
// status still matches. The single guarded UPDATE is what makes two
// concurrent decisions on the same row safe: the loser of the race sees
// an InvalidStateError instead of silently overwriting.
func (r *RecordRepository) UpdateAccessRequestStatus(ctx context.Context, id string, from, to domain.RequestStatus) (domain.AccessRequest, error) {
	res := r.db.WithContext(ctx).
		Model(&AccessRequestModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return domain.AccessRequest{}, res.Error
	}
	if res.RowsAffected == 0 {
		var m AccessRequestModel
		err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AccessRequest{}, &domain.NotFoundError{Kind: "access request", ID: id}
		}
		if err != nil {
			return domain.AccessRequest{}, err
		}
		return domain.AccessRequest{}, &domain.InvalidStateError{Current: domain.RequestStatus(m.Status), Target: to}
	}

	var m AccessRequestModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return domain.AccessRequest{}, err
	}
	return requestFromModel(m), nil
}

func (r *RecordRepository) FindApprovedAccessRequest(ctx context.Context, recordID, requesterID string) (domain.AccessRequest, bool, error) {
	var m AccessRequestModel
	err := r.db.WithContext(ctx).
		Where("medical_record_id = ? AND requester_id = ? AND status = ?", recordID, requesterID, string(domain.StatusApproved)).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AccessRequest{}, false, nil
	}
	if err != nil {
		return domain.AccessRequest{}, false, err
	}
	return requestFromModel(m), true, nil
}

func (r *RecordRepository) ListAccessRequestsByRequester(ctx context.Context, requesterID string, limit int) ([]domain.AccessRequestDetail, error) {
	rows := make([]AccessRequestModel, 0)
	err := r.db.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.attachRecords(ctx, rows)
}

func (r *RecordRepository) ListAccessRequestsByPatient(ctx context.Context, patientID string, limit int) ([]domain.AccessRequestDetail, error) {
	rows := make([]AccessRequestModel, 0)
	err := r.db.WithContext(ctx).
		Joins("JOIN medical_records ON medical_records.id = access_requests.medical_record_id").
		Where("medical_records.patient_id = ?", patientID).
		Order("access_requests.created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.attachRecords(ctx, rows)
}

func (r *RecordRepository) ListAccessRequests(ctx context.Context, limit int) ([]domain.AccessRequestDetail, error) {
	rows := make([]AccessRequestModel, 0)
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.attachRecords(ctx, rows)
}

func (r *RecordRepository) attachRecords(ctx context.Context, rows []AccessRequestModel) ([]domain.AccessRequestDetail, error) {
	result := make([]domain.AccessRequestDetail, 0, len(rows))
	for _, m := range rows {
		record, err := r.GetMedicalRecordByID(ctx, m.MedicalRecordID)
		if err != nil {
			return nil, err
		}
		result = append(result, domain.AccessRequestDetail{AccessRequest: requestFromModel(m), Record: record})
	}
	return result, nil
}

func (r *RecordRepository) CreateAuditLog(ctx context.Context, value domain.AuditLog) error {
	m := AuditLogModel{
		ID:          uuid.NewString(),
		ActorUserID: value.ActorUserID,
		Action:      value.Action,
		TargetType:  value.TargetType,
		TargetID:    value.TargetID,
		Metadata:    value.Metadata,
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *RecordRepository) ListAuditLogsByActor(ctx context.Context, actorUserID string, limit int) ([]domain.AuditLog, error) {
	rows := make([]AuditLogModel, 0)
	err := r.db.WithContext(ctx).
		Where("actor_user_id = ?", actorUserID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return auditFromModels(rows), nil
}

func (r *RecordRepository) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	rows := make([]AuditLogModel, 0)
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return auditFromModels(rows), nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:            m.ID,
		WalletAddress: m.WalletAddress,
		Role:          domain.Role(m.Role),
		Name:          m.Name,
		Email:         m.Email,
		Contact:       m.Contact,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func recordFromModel(m MedicalRecordModel) domain.MedicalRecord {
	return domain.MedicalRecord{
		ID:        m.ID,
		PatientID: m.PatientID,
		CID:       m.CID,
		FileName:  m.FileName,
		CreatedAt: m.CreatedAt,
	}
}

func requestFromModel(m AccessRequestModel) domain.AccessRequest {
	return domain.AccessRequest{
		ID:              m.ID,
		MedicalRecordID: m.MedicalRecordID,
		RequesterID:     m.RequesterID,
		Status:          domain.RequestStatus(m.Status),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func auditFromModels(rows []AuditLogModel) []domain.AuditLog {
	result := make([]domain.AuditLog, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.AuditLog{
			ID:          m.ID,
			ActorUserID: m.ActorUserID,
			Action:      m.Action,
			TargetType:  m.TargetType,
			TargetID:    m.TargetID,
			Metadata:    m.Metadata,
			CreatedAt:   m.CreatedAt,
		})
	}
	return result
}
