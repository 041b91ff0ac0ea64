package sqlite

import "time"

type UserModel struct {
	ID            string `gorm:"primaryKey"`
	WalletAddress string `gorm:"not null;uniqueIndex"`
	Role          string `gorm:"not null"`
	Name          string
	Email         string
	Contact       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (UserModel) TableName() string { return "users" }

type MedicalRecordModel struct {
	ID        string `gorm:"primaryKey"`
	PatientID string `gorm:"not null;index"`
	CID       string `gorm:"column:cid;not null"`
	FileName  string `gorm:"not null"`
	CreatedAt time.Time
}

func (MedicalRecordModel) TableName() string { return "medical_records" }

type AccessRequestModel struct {
	ID              string `gorm:"primaryKey"`
	MedicalRecordID string `gorm:"not null;index"`
	RequesterID     string `gorm:"not null;index"`
	Status          string `gorm:"not null;default:'PENDING';index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (AccessRequestModel) TableName() string { return "access_requests" }

type AuditLogModel struct {
	ID          string `gorm:"primaryKey"`
	ActorUserID string `gorm:"not null;index"`
	Action      string `gorm:"not null;index"`
	TargetType  string `gorm:"not null"`
	TargetID    string
	Metadata    string
	CreatedAt   time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }
