package models

import "time"

// Student represents a learner registered in the institution.
type Student struct {
	ID        string    `db:"id" json:"id"`
	NIS       string    `db:"nis" json:"nis"`
	FullName  string    `db:"full_name" json:"full_name"`
	Gender    string    `db:"gender" json:"gender"`
	ClassID   *string   `db:"class_id" json:"class_id,omitempty"`
	Phone     string    `db:"phone" json:"phone"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Class represents an academic class or section.
type Class struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Grade             string    `db:"grade" json:"grade"`
	MajorID           *string   `db:"major_id" json:"major_id,omitempty"`
	HomeroomTeacherID *string   `db:"homeroom_teacher_id" json:"homeroom_teacher_id,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Major represents a vocational program (kompetensi keahlian) with its head teacher.
type Major struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	HeadTeacherID *string   `db:"head_teacher_id" json:"head_teacher_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// SupervisorContext carries the named people reachable through a student's
// class and program relationships, used when assembling summon letters.
type SupervisorContext struct {
	StudentID       string  `db:"student_id" json:"student_id"`
	StudentName     string  `db:"student_name" json:"student_name"`
	StudentNIS      string  `db:"student_nis" json:"student_nis"`
	ClassName       *string `db:"class_name" json:"class_name,omitempty"`
	MajorName       *string `db:"major_name" json:"major_name,omitempty"`
	HomeroomName    *string `db:"homeroom_name" json:"homeroom_name,omitempty"`
	HomeroomNIP     *string `db:"homeroom_nip" json:"homeroom_nip,omitempty"`
	ProgramHeadName *string `db:"program_head_name" json:"program_head_name,omitempty"`
	ProgramHeadNIP  *string `db:"program_head_nip" json:"program_head_nip,omitempty"`
}
