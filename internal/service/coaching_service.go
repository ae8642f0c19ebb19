package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type coachingRuleRepository interface {
	ListOrdered(ctx context.Context) ([]models.CoachingRule, error)
	Create(ctx context.Context, rule *models.CoachingRule) error
	Update(ctx context.Context, rule *models.CoachingRule) error
	Delete(ctx context.Context, id string) error
}

// CoachingService maintains the internal-coaching lookup table and maps an
// accumulated point total to a non-binding supervisor recommendation.
type CoachingService struct {
	repo      coachingRuleRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCoachingService constructs the service.
func NewCoachingService(repo coachingRuleRepository, validate *validator.Validate, logger *zap.Logger) *CoachingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoachingService{repo: repo, validator: validate, logger: logger}
}

// CoachingRuleRequest describes a create/update payload.
type CoachingRuleRequest struct {
	PointsMin       int      `json:"points_min" validate:"min=0"`
	PointsMax       *int     `json:"points_max"`
	SupervisorRoles []string `json:"supervisor_roles" validate:"required,min=1"`
	Description     string   `json:"description" validate:"required"`
	DisplayOrder    int      `json:"display_order"`
}

// List returns every rule in display order.
func (s *CoachingService) List(ctx context.Context) ([]models.CoachingRule, error) {
	rules, err := s.repo.ListOrdered(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list coaching rules")
	}
	return rules, nil
}

// Create adds a rule.
func (s *CoachingService) Create(ctx context.Context, req CoachingRuleRequest) (*models.CoachingRule, error) {
	rule, err := s.buildRule(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create coaching rule")
	}
	return rule, nil
}

// Update rewrites a rule.
func (s *CoachingService) Update(ctx context.Context, id string, req CoachingRuleRequest) (*models.CoachingRule, error) {
	rule, err := s.buildRule(req)
	if err != nil {
		return nil, err
	}
	rule.ID = id
	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update coaching rule")
	}
	return rule, nil
}

// Delete removes a rule.
func (s *CoachingService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete coaching rule")
	}
	return nil
}

func (s *CoachingService) buildRule(req CoachingRuleRequest) (*models.CoachingRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid coaching rule payload")
	}
	if req.PointsMax != nil && *req.PointsMax < req.PointsMin {
		return nil, appErrors.Clone(appErrors.ErrValidation, "points_max below points_min")
	}
	for _, role := range req.SupervisorRoles {
		if !models.IsKnownSupervisorRole(role) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown supervisor role %q", role))
		}
	}
	return &models.CoachingRule{
		PointsMin:       req.PointsMin,
		PointsMax:       req.PointsMax,
		SupervisorRoles: req.SupervisorRoles,
		Description:     req.Description,
		DisplayOrder:    req.DisplayOrder,
	}, nil
}

// Recommend maps a point total to the applicable coaching band. Bands are
// walked in display order; a total beyond a band's maximum still belongs to
// that band while no later band's minimum has been reached, so gaps between
// bands never leave a student unclassified.
func (s *CoachingService) Recommend(ctx context.Context, totalPoints int) (*models.CoachingRecommendation, error) {
	rules, err := s.repo.ListOrdered(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coaching rules")
	}
	rule := recommendFromRules(rules, totalPoints)
	if rule == nil {
		return nil, nil
	}
	return &models.CoachingRecommendation{
		Roles:       append([]string(nil), rule.SupervisorRoles...),
		Description: rule.Description,
		RangeText:   coachingRangeText(*rule),
	}, nil
}

func recommendFromRules(rules []models.CoachingRule, totalPoints int) *models.CoachingRule {
	for i := range rules {
		rule := rules[i]
		if totalPoints < rule.PointsMin {
			continue
		}
		if rule.PointsMax == nil || totalPoints <= *rule.PointsMax {
			return &rule
		}
		// Past this band's maximum: the band still holds unless a later
		// band's minimum has been reached.
		claimed := false
		for _, later := range rules[i+1:] {
			if later.PointsMin <= totalPoints {
				claimed = true
				break
			}
		}
		if !claimed {
			return &rule
		}
	}
	return nil
}

func coachingRangeText(rule models.CoachingRule) string {
	if rule.PointsMax == nil {
		return fmt.Sprintf("%d+", rule.PointsMin)
	}
	return fmt.Sprintf("%d-%d", rule.PointsMin, *rule.PointsMax)
}
