package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// StudentRepository provides read access to students and the class/program
// relationships the letter assembly resolves supervisors through.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a new repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = "id, nis, full_name, gender, class_id, phone, active, created_at, updated_at"

// Get loads one student.
func (r *StudentRepository) Get(ctx context.Context, id string) (*models.Student, error) {
	return r.GetTx(ctx, r.db, id)
}

// GetTx loads one student using the caller's executor.
func (r *StudentRepository) GetTx(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error) {
	var student models.Student
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	if err := sqlx.GetContext(ctx, exec, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns students per provided filter.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(full_name ILIKE $%d OR nis ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	whereClause := strings.Join(where, " AND ")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size
	query := fmt.Sprintf("SELECT %s FROM students WHERE %s ORDER BY full_name LIMIT %d OFFSET %d",
		studentColumns, whereClause, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// SupervisorContext resolves the people reachable through the student's class
// and program relationships in one query.
func (r *StudentRepository) SupervisorContext(ctx context.Context, studentID string) (*models.SupervisorContext, error) {
	query := `SELECT s.id AS student_id, s.full_name AS student_name, s.nis AS student_nis,
c.name AS class_name, m.name AS major_name,
ht.full_name AS homeroom_name, ht.nip AS homeroom_nip,
ph.full_name AS program_head_name, ph.nip AS program_head_nip
FROM students s
LEFT JOIN classes c ON c.id = s.class_id
LEFT JOIN majors m ON m.id = c.major_id
LEFT JOIN teachers ht ON ht.id = c.homeroom_teacher_id AND ht.active
LEFT JOIN teachers ph ON ph.id = m.head_teacher_id AND ph.active
WHERE s.id = $1`
	var sc models.SupervisorContext
	if err := r.db.GetContext(ctx, &sc, query, studentID); err != nil {
		return nil, err
	}
	return &sc, nil
}

// FindStaffByRole returns the active holders of a school-level role. The
// caller treats anything other than exactly one holder as unresolved.
func (r *StudentRepository) FindStaffByRole(ctx context.Context, role string) ([]models.Teacher, error) {
	query := `SELECT t.id, t.nip, t.full_name, t.phone, t.active, t.created_at, t.updated_at
FROM teachers t
JOIN staff_assignments sa ON sa.teacher_id = t.id
WHERE sa.role = $1 AND sa.active AND t.active`
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, role); err != nil {
		return nil, fmt.Errorf("find staff by role: %w", err)
	}
	return teachers, nil
}
