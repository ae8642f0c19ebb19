package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/pkg/config"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/export"
)

type caseRepository interface {
	List(ctx context.Context, filter models.CaseFilter) ([]models.CaseDetail, int, error)
	GetByID(ctx context.Context, id string) (*models.FollowUpCase, error)
	GetLetterByCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) (*models.SummonLetter, error)
	UpdateStatus(ctx context.Context, id string, status models.CaseStatus, approverID *string) error
}

type caseStudentLookup interface {
	SupervisorContext(ctx context.Context, studentID string) (*models.SupervisorContext, error)
}

// allowedTransitions is the manual part of the case workflow. Creation,
// escalation and automatic closure belong to the engine; staff only move a
// case forward through these edges.
var allowedTransitions = map[models.CaseStatus][]models.CaseStatus{
	models.CaseStatusNew:             {models.CaseStatusInProgress},
	models.CaseStatusPendingApproval: {models.CaseStatusApproved},
	models.CaseStatusApproved:        {models.CaseStatusInProgress},
	models.CaseStatusInProgress:      {models.CaseStatusCompleted},
}

// CaseService exposes the follow-up case surface: listings, manual workflow
// transitions and the printable summon letter.
type CaseService struct {
	cases    caseRepository
	students caseStudentLookup
	cache    summaryCache
	db       sqlx.ExtContext
	cfg      config.LettersConfig
	pdf      *export.LetterExporter
	logger   *zap.Logger
}

func NewCaseService(cases caseRepository, students caseStudentLookup, cache summaryCache, db sqlx.ExtContext, cfg config.LettersConfig, logger *zap.Logger) *CaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseService{
		cases:    cases,
		students: students,
		cache:    cache,
		db:       db,
		cfg:      cfg,
		pdf:      export.NewLetterExporter(),
		logger:   logger,
	}
}

func (s *CaseService) List(ctx context.Context, filter models.CaseFilter) ([]models.CaseDetail, int, error) {
	cases, total, err := s.cases.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cases")
	}
	return cases, total, nil
}

// Get returns one case with its letter attached when one exists.
func (s *CaseService) Get(ctx context.Context, id string) (*models.FollowUpCase, error) {
	followUp, err := s.cases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	letter, err := s.cases.GetLetterByCaseTx(ctx, s.db, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load summon letter")
	}
	followUp.Letter = letter
	return followUp, nil
}

// Transition moves a case along the manual workflow. Approving a case
// records the acting user as approver.
func (s *CaseService) Transition(ctx context.Context, id string, target models.CaseStatus, actorID string) (*models.FollowUpCase, error) {
	followUp, err := s.cases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	if !transitionAllowed(followUp.Status, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move case from %s to %s", followUp.Status, target))
	}

	var approverID *string
	if target == models.CaseStatusApproved {
		approverID = &actorID
	}
	if err := s.cases.UpdateStatus(ctx, id, target, approverID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update case status")
	}

	followUp.Status = target
	if approverID != nil {
		followUp.ApproverID = approverID
	}
	if s.cache != nil {
		s.cache.InvalidateStudent(ctx, followUp.StudentID)
	}
	s.logger.Info("case transitioned",
		zap.String("case_id", id),
		zap.String("status", string(target)),
		zap.String("actor_id", actorID))
	return followUp, nil
}

// LetterPDF renders the case's summon letter as a printable document.
func (s *CaseService) LetterPDF(ctx context.Context, caseID string) ([]byte, string, error) {
	followUp, err := s.Get(ctx, caseID)
	if err != nil {
		return nil, "", err
	}
	if followUp.Letter == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "case has no summon letter")
	}
	sctx, err := s.students.SupervisorContext(ctx, followUp.StudentID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student context")
	}

	letter := followUp.Letter
	doc := export.LetterDocument{
		SchoolName:   s.cfg.SchoolName,
		LetterNumber: letter.LetterNumber,
		LetterLevel:  letter.LetterLevel,
		City:         s.cfg.City,
		LetterDate:   letter.LetterDate.Format("02-01-2006"),
		StudentName:  sctx.StudentName,
		StudentNIS:   sctx.StudentNIS,
		Trigger:      followUp.Trigger,
		Sanction:     followUp.Sanction,
		MeetingDate:  letter.MeetingDate.Format("02-01-2006"),
		MeetingTime:  letter.MeetingTime,
		Purpose:      letter.Purpose,
	}
	if sctx.ClassName != nil {
		doc.ClassName = *sctx.ClassName
	}
	for _, sup := range letter.Supervisors() {
		doc.Signatories = append(doc.Signatories, export.LetterSignatory{
			Role:    models.SupervisorRoleLabel(sup.Role),
			Name:    sup.Name,
			IDLabel: sup.IDLabel,
		})
	}

	payload, err := s.pdf.Render(doc)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render summon letter")
	}
	filename := fmt.Sprintf("surat-panggilan-%s.pdf", sctx.StudentNIS)
	return payload, filename, nil
}

func transitionAllowed(from, to models.CaseStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
