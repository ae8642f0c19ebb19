package models

import (
	"encoding/json"
	"time"
)

// CaseStatus enumerates the follow-up case workflow states.
type CaseStatus string

const (
	CaseStatusNew             CaseStatus = "NEW"
	CaseStatusPendingApproval CaseStatus = "PENDING_APPROVAL"
	CaseStatusApproved        CaseStatus = "APPROVED"
	CaseStatusInProgress      CaseStatus = "IN_PROGRESS"
	CaseStatusCompleted       CaseStatus = "COMPLETED"
)

// ActiveCaseStatuses are the states in which a case still owns the student's
// escalation. At most one case per student may be in any of these states.
var ActiveCaseStatuses = []CaseStatus{
	CaseStatusNew,
	CaseStatusPendingApproval,
	CaseStatusApproved,
	CaseStatusInProgress,
}

// FollowUpCase is the mutable disciplinary follow-up record for a student,
// escalated over time by the rules engine.
type FollowUpCase struct {
	ID         string     `db:"id" json:"id"`
	StudentID  string     `db:"student_id" json:"student_id"`
	Trigger    string     `db:"trigger_description" json:"trigger"`
	Sanction   string     `db:"sanction" json:"sanction"`
	Status     CaseStatus `db:"status" json:"status"`
	ApproverID *string    `db:"approver_id" json:"approver_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`

	Letter *SummonLetter `db:"-" json:"letter,omitempty"`
}

// CaseFilter constrains case listings.
type CaseFilter struct {
	StudentID string
	Status    []CaseStatus
	Page      int
	PageSize  int
}

// CaseDetail decorates a case with student display fields.
type CaseDetail struct {
	FollowUpCase
	StudentName string `db:"student_name" json:"student_name"`
	StudentNIS  string `db:"student_nis" json:"student_nis"`
	ClassName   *string `db:"class_name" json:"class_name,omitempty"`
}

// SupervisorInfo is one resolved supervisor entry on a summon letter.
type SupervisorInfo struct {
	Role    string `json:"role"`
	Name    string `json:"name"`
	IDLabel string `json:"id_label"`
}

// SummonLetter is the level-tagged document artifact attached 1:1 to an
// active case. LetterLevel only moves upward for a given case outside of
// reconciliation.
type SummonLetter struct {
	ID             string    `db:"id" json:"id"`
	CaseID         string    `db:"case_id" json:"case_id"`
	LetterNumber   string    `db:"letter_number" json:"letter_number"`
	LetterLevel    int       `db:"letter_level" json:"letter_level"`
	SupervisorData []byte    `db:"supervisor_data" json:"-"`
	LetterDate     time.Time `db:"letter_date" json:"letter_date"`
	MeetingDate    time.Time `db:"meeting_date" json:"meeting_date"`
	MeetingTime    string    `db:"meeting_time" json:"meeting_time"`
	Purpose        string    `db:"purpose" json:"purpose"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Supervisors decodes the stored supervisor payload.
func (l *SummonLetter) Supervisors() []SupervisorInfo {
	if l == nil || len(l.SupervisorData) == 0 {
		return nil
	}
	var supervisors []SupervisorInfo
	if err := json.Unmarshal(l.SupervisorData, &supervisors); err != nil {
		return nil
	}
	return supervisors
}

// SetSupervisors encodes the supervisor payload for storage.
func (l *SummonLetter) SetSupervisors(supervisors []SupervisorInfo) error {
	raw, err := json.Marshal(supervisors)
	if err != nil {
		return err
	}
	l.SupervisorData = raw
	return nil
}

// MarshalJSON inlines the decoded supervisor list in API payloads.
func (l SummonLetter) MarshalJSON() ([]byte, error) {
	type alias SummonLetter
	return json.Marshal(struct {
		alias
		Supervisors []SupervisorInfo `json:"supervisors"`
	}{alias(l), l.Supervisors()})
}
