package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// CaseRepository manages follow-up cases and their summon letters. Engine
// paths take an sqlx.ExtContext so case mutations share the transaction of
// the violation record write that caused them.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository constructs a new repository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseColumns = "id, student_id, trigger_description, sanction, status, approver_id, created_at, updated_at"

const letterColumns = "id, case_id, letter_number, letter_level, supervisor_data, letter_date, meeting_date, meeting_time, purpose, created_at, updated_at"

// LockStudentTx serializes engine runs per student for the duration of the
// caller's transaction. Concurrent recordings for the same student queue on
// this advisory lock instead of racing the active-case lookup.
func (r *CaseRepository) LockStudentTx(ctx context.Context, exec sqlx.ExtContext, studentID string) error {
	if _, err := exec.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", studentID); err != nil {
		return fmt.Errorf("acquire student lock: %w", err)
	}
	return nil
}

// FindActiveTx returns the student's active cases newest first, locking the
// rows when forUpdate is set. More than one entry indicates an invariant
// breach the caller must surface.
func (r *CaseRepository) FindActiveTx(ctx context.Context, exec sqlx.ExtContext, studentID string, forUpdate bool) ([]models.FollowUpCase, error) {
	statuses := make([]string, len(models.ActiveCaseStatuses))
	for i, s := range models.ActiveCaseStatuses {
		statuses[i] = string(s)
	}
	query := fmt.Sprintf("SELECT %s FROM follow_up_cases WHERE student_id = $1 AND status = ANY($2) ORDER BY created_at DESC", caseColumns)
	if forUpdate {
		query += " FOR UPDATE"
	}
	var cases []models.FollowUpCase
	if err := sqlx.SelectContext(ctx, exec, &cases, query, studentID, pq.Array(statuses)); err != nil {
		return nil, fmt.Errorf("find active cases: %w", err)
	}
	return cases, nil
}

// GetLetterByCaseTx loads the letter attached to a case, nil when absent.
func (r *CaseRepository) GetLetterByCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) (*models.SummonLetter, error) {
	var letter models.SummonLetter
	query := fmt.Sprintf("SELECT %s FROM summon_letters WHERE case_id = $1", letterColumns)
	if err := sqlx.GetContext(ctx, exec, &letter, query, caseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get summon letter: %w", err)
	}
	return &letter, nil
}

// CreateCaseTx inserts a new case.
func (r *CaseRepository) CreateCaseTx(ctx context.Context, exec sqlx.ExtContext, followUp *models.FollowUpCase) error {
	if followUp.ID == "" {
		followUp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	followUp.CreatedAt = now
	followUp.UpdatedAt = now
	query := `INSERT INTO follow_up_cases (id, student_id, trigger_description, sanction, status, approver_id, created_at, updated_at)
VALUES (:id, :student_id, :trigger_description, :sanction, :status, :approver_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, followUp); err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

// UpdateCaseTx rewrites a case's mutable fields.
func (r *CaseRepository) UpdateCaseTx(ctx context.Context, exec sqlx.ExtContext, followUp *models.FollowUpCase) error {
	followUp.UpdatedAt = time.Now().UTC()
	query := `UPDATE follow_up_cases SET trigger_description = :trigger_description, sanction = :sanction,
status = :status, approver_id = :approver_id, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, followUp); err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	return nil
}

// DeleteCaseTx permanently removes a case and its letter.
func (r *CaseRepository) DeleteCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) error {
	if _, err := exec.ExecContext(ctx, "DELETE FROM summon_letters WHERE case_id = $1", caseID); err != nil {
		return fmt.Errorf("delete summon letter: %w", err)
	}
	if _, err := exec.ExecContext(ctx, "DELETE FROM follow_up_cases WHERE id = $1", caseID); err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	return nil
}

// CreateLetterTx inserts a new summon letter.
func (r *CaseRepository) CreateLetterTx(ctx context.Context, exec sqlx.ExtContext, letter *models.SummonLetter) error {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	letter.CreatedAt = now
	letter.UpdatedAt = now
	query := `INSERT INTO summon_letters (id, case_id, letter_number, letter_level, supervisor_data, letter_date, meeting_date, meeting_time, purpose, created_at, updated_at)
VALUES (:id, :case_id, :letter_number, :letter_level, :supervisor_data, :letter_date, :meeting_date, :meeting_time, :purpose, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, letter); err != nil {
		return fmt.Errorf("create summon letter: %w", err)
	}
	return nil
}

// UpdateLetterTx rewrites a letter's mutable fields.
func (r *CaseRepository) UpdateLetterTx(ctx context.Context, exec sqlx.ExtContext, letter *models.SummonLetter) error {
	letter.UpdatedAt = time.Now().UTC()
	query := `UPDATE summon_letters SET letter_number = :letter_number, letter_level = :letter_level,
supervisor_data = :supervisor_data, letter_date = :letter_date, meeting_date = :meeting_date,
meeting_time = :meeting_time, purpose = :purpose, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, letter); err != nil {
		return fmt.Errorf("update summon letter: %w", err)
	}
	return nil
}

// DeleteLetterByCaseTx removes only the letter, keeping the case row.
func (r *CaseRepository) DeleteLetterByCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) error {
	if _, err := exec.ExecContext(ctx, "DELETE FROM summon_letters WHERE case_id = $1", caseID); err != nil {
		return fmt.Errorf("delete summon letter: %w", err)
	}
	return nil
}

// List returns case details per provided filter.
func (r *CaseRepository) List(ctx context.Context, filter models.CaseFilter) ([]models.CaseDetail, int, error) {
	base := `FROM follow_up_cases fc
JOIN students s ON s.id = fc.student_id
LEFT JOIN classes c ON c.id = s.class_id`
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("fc.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		where = append(where, fmt.Sprintf("fc.status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(statuses))
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
	cols := "fc." + strings.ReplaceAll(caseColumns, ", ", ", fc.")
	query := fmt.Sprintf(`SELECT %s, s.full_name AS student_name, s.nis AS student_nis, c.name AS class_name
%s WHERE %s ORDER BY fc.created_at DESC LIMIT %d OFFSET %d`, cols, base, whereClause, size, offset)
	var cases []models.CaseDetail
	if err := r.db.SelectContext(ctx, &cases, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}
	for i := range cases {
		letter, err := r.GetLetterByCaseTx(ctx, r.db, cases[i].ID)
		if err != nil {
			return nil, 0, err
		}
		cases[i].Letter = letter
	}
	return cases, total, nil
}

// GetByID loads one case with its letter.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.FollowUpCase, error) {
	var followUp models.FollowUpCase
	query := fmt.Sprintf("SELECT %s FROM follow_up_cases WHERE id = $1", caseColumns)
	if err := r.db.GetContext(ctx, &followUp, query, id); err != nil {
		return nil, err
	}
	letter, err := r.GetLetterByCaseTx(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	followUp.Letter = letter
	return &followUp, nil
}

// UpdateStatus moves a case to a new workflow state.
func (r *CaseRepository) UpdateStatus(ctx context.Context, id string, status models.CaseStatus, approverID *string) error {
	query := "UPDATE follow_up_cases SET status = $1, approver_id = COALESCE($2, approver_id), updated_at = $3 WHERE id = $4"
	if _, err := r.db.ExecContext(ctx, query, status, approverID, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	return nil
}
