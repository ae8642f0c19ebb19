package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/pkg/config"
)

type supervisorReader interface {
	SupervisorContext(ctx context.Context, studentID string) (*models.SupervisorContext, error)
	FindStaffByRole(ctx context.Context, role string) ([]models.Teacher, error)
}

// LetterService assembles the display payload of a summon letter: resolved
// supervisors, letter number and the default meeting schedule. It knows
// nothing about thresholds or point math.
type LetterService struct {
	students supervisorReader
	cfg      config.LettersConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewLetterService constructs the service.
func NewLetterService(students supervisorReader, cfg config.LettersConfig, logger *zap.Logger) *LetterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MeetingOffsetDays <= 0 {
		cfg.MeetingOffsetDays = 3
	}
	if cfg.MeetingTime == "" {
		cfg.MeetingTime = "09:00"
	}
	return &LetterService{students: students, cfg: cfg, logger: logger, now: time.Now}
}

// ResolveSupervisors maps role tags to concrete people in rule order.
// Homeroom and program-head roles resolve through the student's class;
// other roles resolve through the staff-assignment lookup, which yields a
// person only when exactly one active holder exists. Unresolvable roles are
// kept in the payload with an empty name so the letter still shows who was
// expected.
func (s *LetterService) ResolveSupervisors(ctx context.Context, studentID string, roles []string) ([]models.SupervisorInfo, error) {
	sc, err := s.students.SupervisorContext(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load supervisor context: %w", err)
	}

	supervisors := make([]models.SupervisorInfo, 0, len(roles))
	for _, role := range roles {
		info := models.SupervisorInfo{Role: role}
		switch role {
		case models.SupervisorHomeroom:
			if sc.HomeroomName != nil {
				info.Name = *sc.HomeroomName
			}
			if sc.HomeroomNIP != nil {
				info.IDLabel = *sc.HomeroomNIP
			}
		case models.SupervisorProgramHead:
			if sc.ProgramHeadName != nil {
				info.Name = *sc.ProgramHeadName
			}
			if sc.ProgramHeadNIP != nil {
				info.IDLabel = *sc.ProgramHeadNIP
			}
		default:
			holders, err := s.students.FindStaffByRole(ctx, role)
			if err != nil {
				return nil, fmt.Errorf("resolve role %s: %w", role, err)
			}
			if len(holders) == 1 {
				info.Name = holders[0].FullName
				info.IDLabel = holders[0].NIP
			} else if len(holders) > 1 {
				s.logger.Warn("multiple active holders for supervisor role, leaving unresolved",
					zap.String("role", role), zap.Int("holders", len(holders)))
			}
		}
		supervisors = append(supervisors, info)
	}
	return supervisors, nil
}

// NewLetterNumber produces an opaque, collision-tolerant letter number.
func (s *LetterService) NewLetterNumber(level int) string {
	fragment := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("SP/%d/%s/%s", level, s.now().Format("2006"), fragment)
}

// MeetingSchedule returns the default guardian meeting slot: a fixed offset
// from now at a fixed time of day.
func (s *LetterService) MeetingSchedule() (time.Time, string) {
	day := s.now().AddDate(0, 0, s.cfg.MeetingOffsetDays)
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return date, s.cfg.MeetingTime
}

// BuildLetter assembles a letter for the given level and supervisor payload.
// The caller attaches it to a case and persists it.
func (s *LetterService) BuildLetter(level int, supervisors []models.SupervisorInfo) (*models.SummonLetter, error) {
	meetingDate, meetingTime := s.MeetingSchedule()
	letter := &models.SummonLetter{
		LetterNumber: s.NewLetterNumber(level),
		LetterLevel:  level,
		LetterDate:   s.now(),
		MeetingDate:  meetingDate,
		MeetingTime:  meetingTime,
		Purpose:      s.cfg.DefaultPurpose,
	}
	if err := letter.SetSupervisors(supervisors); err != nil {
		return nil, fmt.Errorf("encode supervisors: %w", err)
	}
	return letter, nil
}
