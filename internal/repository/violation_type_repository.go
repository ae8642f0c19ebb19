package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// ViolationTypeRepository manages the violation catalog and its frequency rules.
type ViolationTypeRepository struct {
	db *sqlx.DB
}

// NewViolationTypeRepository constructs a new repository.
func NewViolationTypeRepository(db *sqlx.DB) *ViolationTypeRepository {
	return &ViolationTypeRepository{db: db}
}

const violationTypeColumns = "id, code, name, category, points, uses_frequency_rules, active, created_at, updated_at"

const frequencyRuleColumns = "id, violation_type_id, frequency_min, frequency_max, points, sanction, triggers_letter, letter_level, supervisor_roles, display_order, created_at, updated_at"

// List returns catalog entries per provided filter, rules not attached.
func (r *ViolationTypeRepository) List(ctx context.Context, filter models.ViolationTypeFilter) ([]models.ViolationType, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR code ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Category != "" {
		where = append(where, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
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
	query := fmt.Sprintf("SELECT %s FROM violation_types WHERE %s ORDER BY category, code LIMIT %d OFFSET %d",
		violationTypeColumns, whereClause, size, offset)
	var types []models.ViolationType
	if err := r.db.SelectContext(ctx, &types, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list violation types: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM violation_types WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count violation types: %w", err)
	}
	return types, total, nil
}

// Get loads one catalog entry with its ordered rule set.
func (r *ViolationTypeRepository) Get(ctx context.Context, id string) (*models.ViolationType, error) {
	return r.GetWithRules(ctx, r.db, id)
}

// GetWithRules loads one catalog entry with its ordered rule set using the
// provided executor so engine runs can share the caller's transaction.
func (r *ViolationTypeRepository) GetWithRules(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ViolationType, error) {
	var vt models.ViolationType
	query := fmt.Sprintf("SELECT %s FROM violation_types WHERE id = $1", violationTypeColumns)
	if err := sqlx.GetContext(ctx, exec, &vt, query, id); err != nil {
		return nil, err
	}
	rulesQuery := fmt.Sprintf("SELECT %s FROM frequency_rules WHERE violation_type_id = $1 ORDER BY display_order", frequencyRuleColumns)
	if err := sqlx.SelectContext(ctx, exec, &vt.Rules, rulesQuery, id); err != nil {
		return nil, fmt.Errorf("load frequency rules: %w", err)
	}
	return &vt, nil
}

// ListUsedByStudent returns every catalog entry referenced by the student's
// live (non-deleted) records, rules attached, for full reconciliation.
func (r *ViolationTypeRepository) ListUsedByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.ViolationType, error) {
	cols := "vt." + strings.ReplaceAll(violationTypeColumns, ", ", ", vt.")
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM violation_types vt
JOIN violation_records vr ON vr.violation_type_id = vt.id
WHERE vr.student_id = $1 AND vr.deleted_at IS NULL`, cols)
	var types []models.ViolationType
	if err := sqlx.SelectContext(ctx, exec, &types, query, studentID); err != nil {
		return nil, fmt.Errorf("list violation types for student: %w", err)
	}
	for i := range types {
		rulesQuery := fmt.Sprintf("SELECT %s FROM frequency_rules WHERE violation_type_id = $1 ORDER BY display_order", frequencyRuleColumns)
		if err := sqlx.SelectContext(ctx, exec, &types[i].Rules, rulesQuery, types[i].ID); err != nil {
			return nil, fmt.Errorf("load frequency rules: %w", err)
		}
	}
	return types, nil
}

// Create inserts a catalog entry.
func (r *ViolationTypeRepository) Create(ctx context.Context, vt *models.ViolationType) error {
	if vt.ID == "" {
		vt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	vt.CreatedAt = now
	vt.UpdatedAt = now
	query := `INSERT INTO violation_types (id, code, name, category, points, uses_frequency_rules, active, created_at, updated_at)
VALUES (:id, :code, :name, :category, :points, :uses_frequency_rules, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, vt); err != nil {
		return fmt.Errorf("create violation type: %w", err)
	}
	return nil
}

// Update modifies a catalog entry, rules untouched.
func (r *ViolationTypeRepository) Update(ctx context.Context, vt *models.ViolationType) error {
	vt.UpdatedAt = time.Now().UTC()
	query := `UPDATE violation_types SET code = :code, name = :name, category = :category, points = :points,
uses_frequency_rules = :uses_frequency_rules, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, vt); err != nil {
		return fmt.Errorf("update violation type: %w", err)
	}
	return nil
}

// ReplaceRules swaps the full rule set for a violation type atomically.
func (r *ViolationTypeRepository) ReplaceRules(ctx context.Context, typeID string, rules []models.FrequencyRule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace rules: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM frequency_rules WHERE violation_type_id = $1", typeID); err != nil {
		return fmt.Errorf("clear frequency rules: %w", err)
	}
	now := time.Now().UTC()
	for i := range rules {
		rule := &rules[i]
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		rule.ViolationTypeID = typeID
		rule.CreatedAt = now
		rule.UpdatedAt = now
		if rule.SupervisorRoles == nil {
			rule.SupervisorRoles = pq.StringArray{}
		}
		query := `INSERT INTO frequency_rules (id, violation_type_id, frequency_min, frequency_max, points, sanction,
triggers_letter, letter_level, supervisor_roles, display_order, created_at, updated_at)
VALUES (:id, :violation_type_id, :frequency_min, :frequency_max, :points, :sanction,
:triggers_letter, :letter_level, :supervisor_roles, :display_order, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, rule); err != nil {
			return fmt.Errorf("insert frequency rule: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace rules: %w", err)
	}
	return nil
}

// SetActive flips the catalog entry's active flag.
func (r *ViolationTypeRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := "UPDATE violation_types SET active = $1, updated_at = $2 WHERE id = $3"
	if _, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set violation type active: %w", err)
	}
	return nil
}
