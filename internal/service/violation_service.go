package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/internal/repository"
	"github.com/noah-isme/sma-tatib-api/pkg/config"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/export"
)

type violationRecordRepository interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	CreateTx(ctx context.Context, exec sqlx.ExtContext, record *models.ViolationRecord) error
	GetTx(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ViolationRecord, error)
	UpdateTx(ctx context.Context, exec sqlx.ExtContext, record *models.ViolationRecord) error
	SoftDeleteTx(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	List(ctx context.Context, filter models.ViolationRecordFilter) ([]models.ViolationRecordDetail, int, error)
}

type violationEngine interface {
	ProcessBatch(ctx context.Context, exec sqlx.ExtContext, studentID string, typeIDs []string) (*EngineOutcome, error)
	Reconcile(ctx context.Context, exec sqlx.ExtContext, studentID string, deleteIfNoLetter bool) (*EngineOutcome, error)
	TotalPoints(ctx context.Context, studentID string) (*RecountResult, error)
	ActiveCase(ctx context.Context, studentID string) (*models.FollowUpCase, error)
}

type recommendationProvider interface {
	Recommend(ctx context.Context, totalPoints int) (*models.CoachingRecommendation, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateStudent(ctx context.Context, studentID string)
}

type recordStudentLookup interface {
	Get(ctx context.Context, id string) (*models.Student, error)
}

type recordTypeLookup interface {
	Get(ctx context.Context, id string) (*models.ViolationType, error)
}

// ViolationService owns the violation record surface: batched recording,
// edits, soft deletion and the per-student discipline summary. Each mutation
// runs the escalation engine inside the same transaction as the record write.
type ViolationService struct {
	records   violationRecordRepository
	students  recordStudentLookup
	types     recordTypeLookup
	engine    violationEngine
	coaching  recommendationProvider
	cache     summaryCache
	cfg       config.EngineConfig
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewViolationService wires the record surface; cache may be nil.
func NewViolationService(
	records violationRecordRepository,
	students recordStudentLookup,
	types recordTypeLookup,
	engine violationEngine,
	coaching recommendationProvider,
	cache summaryCache,
	cfg config.EngineConfig,
	logger *zap.Logger,
) *ViolationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViolationService{
		records:   records,
		students:  students,
		types:     types,
		engine:    engine,
		coaching:  coaching,
		cache:     cache,
		cfg:       cfg,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validator.New(),
		logger:    logger,
	}
}

// ViolationEntry is one violation inside a recording batch. A missing
// occurred_at defaults to the recording time.
type ViolationEntry struct {
	ViolationTypeID string     `json:"violation_type_id" validate:"required,uuid"`
	OccurredAt      *time.Time `json:"occurred_at,omitempty"`
	Note            string     `json:"note" validate:"max=500"`
	EvidenceRef     *string    `json:"evidence_ref,omitempty" validate:"omitempty,max=255"`
}

// RecordViolationsRequest records one or more violations for a single
// student in one atomic batch.
type RecordViolationsRequest struct {
	StudentID string           `json:"student_id" validate:"required,uuid"`
	Entries   []ViolationEntry `json:"entries" validate:"required,min=1,max=20,dive"`
}

// RecordViolationsResult reports the persisted records plus what the engine
// decided for the batch.
type RecordViolationsResult struct {
	Records []models.ViolationRecord `json:"records"`
	Outcome *EngineOutcome           `json:"outcome"`
}

// UpdateViolationRecordRequest edits the mutable fields of one record. The
// student never changes; a wrongly attributed record is deleted and
// re-recorded. Changing the violation type shifts frequency counts on both
// types, which the reconcile pass repairs.
type UpdateViolationRecordRequest struct {
	ViolationTypeID *string    `json:"violation_type_id,omitempty" validate:"omitempty,uuid"`
	OccurredAt      *time.Time `json:"occurred_at,omitempty"`
	Note            *string    `json:"note,omitempty" validate:"omitempty,max=500"`
	EvidenceRef     *string    `json:"evidence_ref,omitempty" validate:"omitempty,max=255"`
}

// Record persists a batch of violations and runs the escalation engine on the
// same transaction, so the batch and any resulting case commit together.
func (s *ViolationService) Record(ctx context.Context, recorderID string, req RecordViolationsRequest) (*RecordViolationsResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid violation batch")
	}
	student, err := s.students.Get(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not active")
	}
	for _, entry := range req.Entries {
		vt, err := s.types.Get(ctx, entry.ViolationTypeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("violation type %s not found", entry.ViolationTypeID))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
		}
		if !vt.Active {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("violation type %s is inactive", vt.Code))
		}
	}

	recordedAt := time.Now()

	result := &RecordViolationsResult{Records: make([]models.ViolationRecord, 0, len(req.Entries))}
	err = s.records.WithTx(ctx, func(tx *sqlx.Tx) error {
		typeIDs := make([]string, 0, len(req.Entries))
		for _, entry := range req.Entries {
			occurredAt := recordedAt
			if entry.OccurredAt != nil {
				occurredAt = *entry.OccurredAt
			}
			record := &models.ViolationRecord{
				StudentID:       req.StudentID,
				ViolationTypeID: entry.ViolationTypeID,
				RecorderID:      recorderID,
				OccurredAt:      occurredAt,
				Note:            entry.Note,
				EvidenceRef:     entry.EvidenceRef,
			}
			if err := s.records.CreateTx(ctx, tx, record); err != nil {
				return err
			}
			result.Records = append(result.Records, *record)
			typeIDs = append(typeIDs, entry.ViolationTypeID)
		}
		outcome, err := s.engine.ProcessBatch(ctx, tx, req.StudentID, typeIDs)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record violations")
	}

	s.invalidate(ctx, req.StudentID)
	s.logger.Info("violation batch recorded",
		zap.String("student_id", req.StudentID),
		zap.Int("records", len(result.Records)),
		zap.Int("letter_level", result.Outcome.LetterLevel))
	return result, nil
}

// Update edits one record and reconciles the student's case state on the
// same transaction.
func (s *ViolationService) Update(ctx context.Context, id string, req UpdateViolationRecordRequest) (*models.ViolationRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid record update")
	}
	if req.ViolationTypeID != nil {
		vt, err := s.types.Get(ctx, *req.ViolationTypeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
		}
		if !vt.Active {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("violation type %s is inactive", vt.Code))
		}
	}

	var updated *models.ViolationRecord
	err := s.records.WithTx(ctx, func(tx *sqlx.Tx) error {
		record, err := s.records.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if record.DeletedAt != nil {
			return appErrors.Clone(appErrors.ErrNotFound, "violation record not found")
		}
		if req.ViolationTypeID != nil {
			record.ViolationTypeID = *req.ViolationTypeID
		}
		if req.OccurredAt != nil {
			record.OccurredAt = *req.OccurredAt
		}
		if req.Note != nil {
			record.Note = *req.Note
		}
		if req.EvidenceRef != nil {
			record.EvidenceRef = req.EvidenceRef
		}
		if err := s.records.UpdateTx(ctx, tx, record); err != nil {
			return err
		}
		if _, err := s.engine.Reconcile(ctx, tx, record.StudentID, false); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation record not found")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update violation record")
	}

	s.invalidate(ctx, updated.StudentID)
	return updated, nil
}

// Delete soft-deletes one record and reconciles the student's case state.
// Deleting an already-deleted record is a no-op. The letterless-case cleanup
// branch removes the case entirely when the remaining history justifies no
// letter; an issued letter keeps its case as a closed audit trail.
func (s *ViolationService) Delete(ctx context.Context, id string) error {
	var studentID string
	err := s.records.WithTx(ctx, func(tx *sqlx.Tx) error {
		record, err := s.records.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if record.DeletedAt != nil {
			return nil
		}
		affected, err := s.records.SoftDeleteTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !affected {
			return nil
		}
		studentID = record.StudentID
		_, err = s.engine.Reconcile(ctx, tx, record.StudentID, true)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "violation record not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete violation record")
	}

	if studentID != "" {
		s.invalidate(ctx, studentID)
	}
	return nil
}

// List returns decorated records with pagination metadata.
func (s *ViolationService) List(ctx context.Context, filter models.ViolationRecordFilter) ([]models.ViolationRecordDetail, int, error) {
	records, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list violation records")
	}
	return records, total, nil
}

// Summary returns the cached point total, recommendation and active case for
// one student, recomputing on a cache miss. The cache is a read accelerator
// only; engine decisions never consult it.
func (s *ViolationService) Summary(ctx context.Context, studentID string) (*models.StudentDisciplineSummary, error) {
	if s.cache != nil {
		var cached models.StudentDisciplineSummary
		if err := s.cache.Get(ctx, repository.SummaryKey(studentID), &cached); err == nil {
			return &cached, nil
		}
	}

	if _, err := s.students.Get(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	recount, err := s.engine.TotalPoints(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute point total")
	}
	recommendation, err := s.coaching.Recommend(ctx, recount.TotalPoints)
	if err != nil {
		return nil, err
	}
	activeCase, err := s.engine.ActiveCase(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active case")
	}

	summary := &models.StudentDisciplineSummary{
		StudentID:      studentID,
		TotalPoints:    recount.TotalPoints,
		RecordCount:    recount.RecordCount,
		Recommendation: recommendation,
		ActiveCase:     activeCase,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.SummaryKey(studentID), summary, s.cfg.SummaryCacheTTL); err != nil {
			s.logger.Warn("failed to cache discipline summary", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return summary, nil
}

// Recap export formats.
const (
	RecapFormatCSV = "csv"
	RecapFormatPDF = "pdf"
)

// ExportRecap renders the filtered record listing as a CSV or PDF recap and
// returns the payload with its filename and content type.
func (s *ViolationService) ExportRecap(ctx context.Context, filter models.ViolationRecordFilter, format string) ([]byte, string, string, error) {
	if format == "" {
		format = RecapFormatCSV
	}
	if format != RecapFormatCSV && format != RecapFormatPDF {
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported recap format %q", format))
	}

	filter.Page = 1
	filter.PageSize = 10000
	records, _, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load records for recap")
	}

	dataset := export.Dataset{
		Headers: []string{"NIS", "Nama Siswa", "Pelanggaran", "Tanggal", "Catatan", "Pencatat"},
		Rows:    make([]map[string]string, 0, len(records)),
	}
	for _, r := range records {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"NIS":         r.StudentNIS,
			"Nama Siswa":  r.StudentName,
			"Pelanggaran": r.ViolationTypeName,
			"Tanggal":     r.OccurredAt.Format("2006-01-02"),
			"Catatan":     r.Note,
			"Pencatat":    r.RecorderName,
		})
	}

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case RecapFormatPDF:
		payload, err = s.pdf.Render(dataset, "Rekap Pelanggaran Siswa")
		contentType = "application/pdf"
	default:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render recap")
	}
	filename := fmt.Sprintf("rekap-pelanggaran-%s.%s", time.Now().Format("20060102"), format)
	return payload, filename, contentType, nil
}

func (s *ViolationService) invalidate(ctx context.Context, studentID string) {
	if s.cache != nil {
		s.cache.InvalidateStudent(ctx, studentID)
	}
}
