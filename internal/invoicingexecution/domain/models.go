package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// SubjectKind names what an execution issues a document for.
type SubjectKind string

const (
	SubjectBillingAccount SubjectKind = "billing_account"
	SubjectComplement     SubjectKind = "billing_invoice_complement"
	SubjectOrder          SubjectKind = "order"
)

func (k SubjectKind) Valid() bool {
	switch k {
	case SubjectBillingAccount, SubjectComplement, SubjectOrder:
		return true
	default:
		return false
	}
}

// Execution is the single state row kept per subject.
type Execution struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	SubjectID   string         `gorm:"size:191;not null;uniqueIndex" json:"subject_id"`
	SubjectKind SubjectKind    `gorm:"type:text;not null" json:"subject_kind"`
	Status      Status         `gorm:"type:text;not null" json:"status"`
	Attempts    int            `gorm:"not null;default:1" json:"attempts"`
	StartedAt   time.Time      `gorm:"not null" json:"started_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	Result      datatypes.JSON `gorm:"type:json" json:"result,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Execution) TableName() string { return "invoicing_executions" }

// DecodeResult parses the stored result payload.
func (e Execution) DecodeResult() (Result, error) {
	var result Result
	raw := strings.TrimSpace(string(e.Result))
	if raw == "" || raw == "null" {
		return result, nil
	}
	err := json.Unmarshal([]byte(raw), &result)
	return result, err
}

// Result is the outcome recorded on a finished execution.
type Result struct {
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Warning    bool      `json:"warning,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Reference  string    `json:"reference,omitempty"`
}

func (r Result) JSON() datatypes.JSON {
	raw, err := json.Marshal(r)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

// Confirmation is what a successful unit of work reports back.
type Confirmation struct {
	DocumentID string
	Reference  string
	Detail     string
}
