package domain

import (
	"database/sql"
	"time"
)

// Account 账号领域模型（对应 accounts 表）
type Account struct {
	AccountID    string `db:"account_id"`
	Name         string `db:"name"`
	Email        string `db:"email"` // 小写存储，唯一
	PasswordHash []byte `db:"password_hash"`
	Role         Role   `db:"role"`
	Gender       string `db:"gender"` // "male" | "female"

	// 仅 patient
	Birthday   sql.NullString `db:"birthday"`    // YYYY-MM-DD
	FrontPhoto sql.NullString `db:"front_photo"` // 证件照正面 URL
	BackPhoto  sql.NullString `db:"back_photo"`  // 证件照背面 URL

	// 仅 caretaker：指向 role=patient 的账号
	AssignedPatientID sql.NullString `db:"assigned_patient_id"`

	CreatedAt time.Time `db:"created_at"`
}

// AccountView 账号对外视图（不含密码哈希）
type AccountView struct {
	AccountID         string  `json:"id"`
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	Role              Role    `json:"role"`
	Gender            string  `json:"gender"`
	Birthday          *string `json:"birthday,omitempty"`
	FrontPhoto        *string `json:"frontPhoto,omitempty"`
	BackPhoto         *string `json:"backPhoto,omitempty"`
	AssignedPatientID *string `json:"assignedPatientId,omitempty"`
}

// View 转换为对外视图
func (a *Account) View() AccountView {
	return AccountView{
		AccountID:         a.AccountID,
		Name:              a.Name,
		Email:             a.Email,
		Role:              a.Role,
		Gender:            a.Gender,
		Birthday:          nullStringPtr(a.Birthday),
		FrontPhoto:        nullStringPtr(a.FrontPhoto),
		BackPhoto:         nullStringPtr(a.BackPhoto),
		AssignedPatientID: nullStringPtr(a.AssignedPatientID),
	}
}

// IDPhotos 证件照视图
type IDPhotos struct {
	PatientID   string `json:"patientId"`
	PatientName string `json:"patientName"`
	FrontURL    string `json:"frontUrl"`
	BackURL     string `json:"backUrl"`
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
