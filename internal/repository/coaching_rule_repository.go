package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// CoachingRuleRepository manages the internal-coaching lookup table.
type CoachingRuleRepository struct {
	db *sqlx.DB
}

// NewCoachingRuleRepository constructs a new repository.
func NewCoachingRuleRepository(db *sqlx.DB) *CoachingRuleRepository {
	return &CoachingRuleRepository{db: db}
}

const coachingRuleColumns = "id, points_min, points_max, supervisor_roles, description, display_order, created_at, updated_at"

// ListOrdered returns every rule in display order.
func (r *CoachingRuleRepository) ListOrdered(ctx context.Context) ([]models.CoachingRule, error) {
	query := fmt.Sprintf("SELECT %s FROM coaching_rules ORDER BY display_order", coachingRuleColumns)
	var rules []models.CoachingRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("list coaching rules: %w", err)
	}
	return rules, nil
}

// Create inserts a new rule.
func (r *CoachingRuleRepository) Create(ctx context.Context, rule *models.CoachingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.SupervisorRoles == nil {
		rule.SupervisorRoles = pq.StringArray{}
	}
	query := `INSERT INTO coaching_rules (id, points_min, points_max, supervisor_roles, description, display_order, created_at, updated_at)
VALUES (:id, :points_min, :points_max, :supervisor_roles, :description, :display_order, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("create coaching rule: %w", err)
	}
	return nil
}

// Update rewrites an existing rule.
func (r *CoachingRuleRepository) Update(ctx context.Context, rule *models.CoachingRule) error {
	rule.UpdatedAt = time.Now().UTC()
	query := `UPDATE coaching_rules SET points_min = :points_min, points_max = :points_max,
supervisor_roles = :supervisor_roles, description = :description, display_order = :display_order,
updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("update coaching rule: %w", err)
	}
	return nil
}

// Delete removes a rule.
func (r *CoachingRuleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM coaching_rules WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete coaching rule: %w", err)
	}
	return nil
}
