package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type violationTypeRepository interface {
	List(ctx context.Context, filter models.ViolationTypeFilter) ([]models.ViolationType, int, error)
	Get(ctx context.Context, id string) (*models.ViolationType, error)
	GetWithRules(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ViolationType, error)
	Create(ctx context.Context, vt *models.ViolationType) error
	Update(ctx context.Context, vt *models.ViolationType) error
	ReplaceRules(ctx context.Context, typeID string, rules []models.FrequencyRule) error
	SetActive(ctx context.Context, id string, active bool) error
}

// ViolationTypeService manages the violation catalog and its frequency rule
// sets. Rule sets are validated at authoring time so the matcher never has to
// arbitrate between overlapping bands at runtime.
type ViolationTypeService struct {
	types     violationTypeRepository
	db        sqlx.ExtContext
	validator *validator.Validate
	logger    *zap.Logger
}

func NewViolationTypeService(types violationTypeRepository, db sqlx.ExtContext, logger *zap.Logger) *ViolationTypeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViolationTypeService{
		types:     types,
		db:        db,
		validator: validator.New(),
		logger:    logger,
	}
}

// ViolationTypeRequest creates or updates one catalog entry.
type ViolationTypeRequest struct {
	Code               string `json:"code" validate:"required,max=20"`
	Name               string `json:"name" validate:"required,max=150"`
	Category           string `json:"category" validate:"required,oneof=RINGAN SEDANG BERAT"`
	Points             int    `json:"points" validate:"min=0"`
	UsesFrequencyRules bool   `json:"uses_frequency_rules"`
}

// FrequencyRuleRequest is one band in a rule-set replacement.
type FrequencyRuleRequest struct {
	FrequencyMin    int      `json:"frequency_min" validate:"min=1"`
	FrequencyMax    *int     `json:"frequency_max,omitempty"`
	Points          int      `json:"points" validate:"min=0"`
	Sanction        string   `json:"sanction" validate:"required,max=300"`
	TriggersLetter  bool     `json:"triggers_letter"`
	LetterLevel     int      `json:"letter_level" validate:"min=0,max=4"`
	SupervisorRoles []string `json:"supervisor_roles"`
	DisplayOrder    int      `json:"display_order" validate:"min=0"`
}

func (s *ViolationTypeService) List(ctx context.Context, filter models.ViolationTypeFilter) ([]models.ViolationType, int, error) {
	types, total, err := s.types.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list violation types")
	}
	return types, total, nil
}

// Get returns one catalog entry with its ordered rules.
func (s *ViolationTypeService) Get(ctx context.Context, id string) (*models.ViolationType, error) {
	vt, err := s.types.GetWithRules(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
	}
	return vt, nil
}

func (s *ViolationTypeService) Create(ctx context.Context, req ViolationTypeRequest) (*models.ViolationType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid violation type payload")
	}
	vt := &models.ViolationType{
		Code:               req.Code,
		Name:               req.Name,
		Category:           req.Category,
		Points:             req.Points,
		UsesFrequencyRules: req.UsesFrequencyRules,
		Active:             true,
	}
	if err := s.types.Create(ctx, vt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create violation type")
	}
	s.logger.Info("violation type created", zap.String("code", vt.Code))
	return vt, nil
}

func (s *ViolationTypeService) Update(ctx context.Context, id string, req ViolationTypeRequest) (*models.ViolationType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid violation type payload")
	}
	vt, err := s.types.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
	}
	vt.Code = req.Code
	vt.Name = req.Name
	vt.Category = req.Category
	vt.Points = req.Points
	vt.UsesFrequencyRules = req.UsesFrequencyRules
	if err := s.types.Update(ctx, vt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update violation type")
	}
	return vt, nil
}

// ReplaceRules swaps the full rule set of a frequency-based type. The new set
// must be unambiguous: no two bands may match the same occurrence count.
// Existing records are not re-evaluated; the new rules apply from the next
// record or reconcile onward.
func (s *ViolationTypeService) ReplaceRules(ctx context.Context, typeID string, reqs []FrequencyRuleRequest) (*models.ViolationType, error) {
	vt, err := s.types.Get(ctx, typeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
	}
	if !vt.UsesFrequencyRules {
		return nil, appErrors.Clone(appErrors.ErrValidation, "violation type does not use frequency rules")
	}

	rules := make([]models.FrequencyRule, 0, len(reqs))
	for _, req := range reqs {
		if err := s.validator.Struct(req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid frequency rule payload")
		}
		rules = append(rules, models.FrequencyRule{
			ViolationTypeID: typeID,
			FrequencyMin:    req.FrequencyMin,
			FrequencyMax:    req.FrequencyMax,
			Points:          req.Points,
			Sanction:        req.Sanction,
			TriggersLetter:  req.TriggersLetter,
			LetterLevel:     req.LetterLevel,
			SupervisorRoles: req.SupervisorRoles,
			DisplayOrder:    req.DisplayOrder,
		})
	}
	if err := ValidateRuleSet(rules); err != nil {
		return nil, err
	}
	if err := s.types.ReplaceRules(ctx, typeID, rules); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace frequency rules")
	}
	s.logger.Info("frequency rules replaced", zap.String("violation_type_id", typeID), zap.Int("rules", len(rules)))
	return s.Get(ctx, typeID)
}

// SetActive archives or restores a catalog entry. Archived types stay
// resolvable for existing records but reject new ones.
func (s *ViolationTypeService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.types.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change violation type state")
	}
	return nil
}
