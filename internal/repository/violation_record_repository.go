package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// ViolationRecordRepository manages persistence for violation records. The
// mutating methods take an sqlx.ExtContext so the record write and the
// escalation engine run inside one transaction.
type ViolationRecordRepository struct {
	db *sqlx.DB
}

// NewViolationRecordRepository constructs a new repository.
func NewViolationRecordRepository(db *sqlx.DB) *ViolationRecordRepository {
	return &ViolationRecordRepository{db: db}
}

const violationRecordColumns = "id, student_id, violation_type_id, recorder_id, occurred_at, note, evidence_ref, deleted_at, created_at, updated_at"

// WithTx runs fn inside a transaction, committing on success.
func (r *ViolationRecordRepository) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin violation tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit violation tx: %w", err)
	}
	return nil
}

// CreateTx inserts a new record using the caller's executor.
func (r *ViolationRecordRepository) CreateTx(ctx context.Context, exec sqlx.ExtContext, record *models.ViolationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	query := `INSERT INTO violation_records (id, student_id, violation_type_id, recorder_id, occurred_at, note, evidence_ref, created_at, updated_at)
VALUES (:id, :student_id, :violation_type_id, :recorder_id, :occurred_at, :note, :evidence_ref, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, record); err != nil {
		return fmt.Errorf("create violation record: %w", err)
	}
	return nil
}

// GetTx loads one record by id, soft-deleted included.
func (r *ViolationRecordRepository) GetTx(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ViolationRecord, error) {
	var record models.ViolationRecord
	query := fmt.Sprintf("SELECT %s FROM violation_records WHERE id = $1", violationRecordColumns)
	if err := sqlx.GetContext(ctx, exec, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// Get loads one record using the pool connection.
func (r *ViolationRecordRepository) Get(ctx context.Context, id string) (*models.ViolationRecord, error) {
	return r.GetTx(ctx, r.db, id)
}

// UpdateTx rewrites the editable fields of a record.
func (r *ViolationRecordRepository) UpdateTx(ctx context.Context, exec sqlx.ExtContext, record *models.ViolationRecord) error {
	record.UpdatedAt = time.Now().UTC()
	query := `UPDATE violation_records SET violation_type_id = :violation_type_id, occurred_at = :occurred_at,
note = :note, evidence_ref = :evidence_ref, updated_at = :updated_at WHERE id = :id AND deleted_at IS NULL`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, record); err != nil {
		return fmt.Errorf("update violation record: %w", err)
	}
	return nil
}

// SoftDeleteTx marks a record deleted. Returns false when the record was
// already deleted so the caller can keep delete idempotent.
func (r *ViolationRecordRepository) SoftDeleteTx(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	res, err := exec.ExecContext(ctx, "UPDATE violation_records SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL",
		time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("soft delete violation record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete violation record: %w", err)
	}
	return affected > 0, nil
}

// CountForStudentType counts live records of one type for one student. This
// is the frequency the threshold matcher evaluates.
func (r *ViolationRecordRepository) CountForStudentType(ctx context.Context, exec sqlx.ExtContext, studentID, typeID string) (int, error) {
	var count int
	query := "SELECT COUNT(*) FROM violation_records WHERE student_id = $1 AND violation_type_id = $2 AND deleted_at IS NULL"
	if err := sqlx.GetContext(ctx, exec, &count, query, studentID, typeID); err != nil {
		return 0, fmt.Errorf("count violation records: %w", err)
	}
	return count, nil
}

// CountForStudent counts all live records for one student.
func (r *ViolationRecordRepository) CountForStudent(ctx context.Context, studentID string) (int, error) {
	var count int
	query := "SELECT COUNT(*) FROM violation_records WHERE student_id = $1 AND deleted_at IS NULL"
	if err := r.db.GetContext(ctx, &count, query, studentID); err != nil {
		return 0, fmt.Errorf("count student violation records: %w", err)
	}
	return count, nil
}

// List returns record details per provided filter.
func (r *ViolationRecordRepository) List(ctx context.Context, filter models.ViolationRecordFilter) ([]models.ViolationRecordDetail, int, error) {
	base := `FROM violation_records vr
JOIN students s ON s.id = vr.student_id
JOIN violation_types vt ON vt.id = vr.violation_type_id
JOIN users u ON u.id = vr.recorder_id`
	where := []string{"1=1"}
	if !filter.IncludeDeleted {
		where = append(where, "vr.deleted_at IS NULL")
	}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("vr.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ViolationTypeID != "" {
		where = append(where, fmt.Sprintf("vr.violation_type_id = $%d", len(args)+1))
		args = append(args, filter.ViolationTypeID)
	}
	if filter.RecorderID != "" {
		where = append(where, fmt.Sprintf("vr.recorder_id = $%d", len(args)+1))
		args = append(args, filter.RecorderID)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("vr.occurred_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("vr.occurred_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	} else if size > 10000 {
		size = 10000
	}
	offset := (page - 1) * size
	cols := "vr." + strings.ReplaceAll(violationRecordColumns, ", ", ", vr.")
	query := fmt.Sprintf(`SELECT %s, s.full_name AS student_name, s.nis AS student_nis,
vt.name AS violation_type_name, u.full_name AS recorder_name
%s WHERE %s ORDER BY vr.occurred_at DESC, vr.created_at DESC LIMIT %d OFFSET %d`, cols, base, whereClause, size, offset)
	var records []models.ViolationRecordDetail
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list violation records: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count violation records: %w", err)
	}
	return records, total, nil
}
