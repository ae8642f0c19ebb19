package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type studentRepository interface {
	Get(ctx context.Context, id string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

// StudentService is the read-only student directory used when recording
// violations and browsing summaries.
type StudentService struct {
	students studentRepository
	logger   *zap.Logger
}

func NewStudentService(students studentRepository, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{students: students, logger: logger}
}

func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, total, nil
}

func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}
