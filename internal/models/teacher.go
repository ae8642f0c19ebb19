package models

import "time"

// Teacher represents a staff member who can be named on summon letters.
type Teacher struct {
	ID        string    `db:"id" json:"id"`
	NIP       string    `db:"nip" json:"nip"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     string    `db:"phone" json:"phone"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StaffAssignment binds a teacher to a school-level supervisory role.
// At most one active holder per role is expected.
type StaffAssignment struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Role      string    `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Supervisory role tags referenced by frequency and coaching rules.
const (
	SupervisorHomeroom       = "HOMEROOM_TEACHER"
	SupervisorCounselor      = "COUNSELOR"
	SupervisorProgramHead    = "PROGRAM_HEAD"
	SupervisorStudentAffairs = "STUDENT_AFFAIRS"
	SupervisorPrincipal      = "PRINCIPAL"
)

// KnownSupervisorRoles lists every role tag rules may reference.
var KnownSupervisorRoles = []string{
	SupervisorHomeroom,
	SupervisorCounselor,
	SupervisorProgramHead,
	SupervisorStudentAffairs,
	SupervisorPrincipal,
}

// IsKnownSupervisorRole reports whether the tag is one the letter assembly can resolve.
func IsKnownSupervisorRole(role string) bool {
	for _, known := range KnownSupervisorRoles {
		if known == role {
			return true
		}
	}
	return false
}

var supervisorRoleLabels = map[string]string{
	SupervisorHomeroom:       "Wali Kelas",
	SupervisorCounselor:      "Guru Bimbingan Konseling",
	SupervisorProgramHead:    "Kepala Program Keahlian",
	SupervisorStudentAffairs: "Waka Kesiswaan",
	SupervisorPrincipal:      "Kepala Sekolah",
}

// SupervisorRoleLabel returns the printed title for a role tag, falling back
// to the raw tag for unknown values.
func SupervisorRoleLabel(role string) string {
	if label, ok := supervisorRoleLabels[role]; ok {
		return label
	}
	return role
}
