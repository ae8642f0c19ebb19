package models

import (
	"time"

	"github.com/lib/pq"
)

// ViolationType is a catalog entry describing one kind of disciplinary
// violation. When UsesFrequencyRules is set, point and letter semantics come
// exclusively from the attached FrequencyRule set and the flat Points value
// is ignored at evaluation time.
type ViolationType struct {
	ID                 string    `db:"id" json:"id"`
	Code               string    `db:"code" json:"code"`
	Name               string    `db:"name" json:"name"`
	Category           string    `db:"category" json:"category"`
	Points             int       `db:"points" json:"points"`
	UsesFrequencyRules bool      `db:"uses_frequency_rules" json:"uses_frequency_rules"`
	Active             bool      `db:"active" json:"active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`

	Rules []FrequencyRule `db:"-" json:"rules,omitempty"`
}

// ViolationTypeFilter constrains catalog listings.
type ViolationTypeFilter struct {
	Search   string
	Category string
	Active   *bool
	Page     int
	PageSize int
}

// FrequencyRule is a threshold band on a violation type's occurrence count.
//
// Matching semantics depend on the band shape:
//   - FrequencyMax nil: matches every count >= FrequencyMin
//   - FrequencyMin == FrequencyMax: matches every positive multiple of the value
//   - otherwise: matches only count == FrequencyMax (one-shot escalation)
type FrequencyRule struct {
	ID              string         `db:"id" json:"id"`
	ViolationTypeID string         `db:"violation_type_id" json:"violation_type_id"`
	FrequencyMin    int            `db:"frequency_min" json:"frequency_min"`
	FrequencyMax    *int           `db:"frequency_max" json:"frequency_max,omitempty"`
	Points          int            `db:"points" json:"points"`
	Sanction        string         `db:"sanction" json:"sanction"`
	TriggersLetter  bool           `db:"triggers_letter" json:"triggers_letter"`
	LetterLevel     int            `db:"letter_level" json:"letter_level"`
	SupervisorRoles pq.StringArray `db:"supervisor_roles" json:"supervisor_roles"`
	DisplayOrder    int            `db:"display_order" json:"display_order"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// ViolationRecord is one logged disciplinary incident for one student.
// Records are soft-deleted; only records with a nil DeletedAt count toward
// frequency and point totals.
type ViolationRecord struct {
	ID              string     `db:"id" json:"id"`
	StudentID       string     `db:"student_id" json:"student_id"`
	ViolationTypeID string     `db:"violation_type_id" json:"violation_type_id"`
	RecorderID      string     `db:"recorder_id" json:"recorder_id"`
	OccurredAt      time.Time  `db:"occurred_at" json:"occurred_at"`
	Note            string     `db:"note" json:"note"`
	EvidenceRef     *string    `db:"evidence_ref" json:"evidence_ref,omitempty"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// ViolationRecordFilter constrains record listings.
type ViolationRecordFilter struct {
	StudentID       string
	ViolationTypeID string
	RecorderID      string
	DateFrom        *time.Time
	DateTo          *time.Time
	IncludeDeleted  bool
	Page            int
	PageSize        int
}

// ViolationRecordDetail decorates a record with display names for listings.
type ViolationRecordDetail struct {
	ViolationRecord
	StudentName       string `db:"student_name" json:"student_name"`
	StudentNIS        string `db:"student_nis" json:"student_nis"`
	ViolationTypeName string `db:"violation_type_name" json:"violation_type_name"`
	RecorderName      string `db:"recorder_name" json:"recorder_name"`
}
