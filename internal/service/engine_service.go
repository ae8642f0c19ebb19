package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

type engineTypeRepository interface {
	GetWithRules(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ViolationType, error)
	ListUsedByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.ViolationType, error)
}

type engineRecordRepository interface {
	CountForStudentType(ctx context.Context, exec sqlx.ExtContext, studentID, typeID string) (int, error)
}

type engineCaseRepository interface {
	LockStudentTx(ctx context.Context, exec sqlx.ExtContext, studentID string) error
	FindActiveTx(ctx context.Context, exec sqlx.ExtContext, studentID string, forUpdate bool) ([]models.FollowUpCase, error)
	GetLetterByCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) (*models.SummonLetter, error)
	CreateCaseTx(ctx context.Context, exec sqlx.ExtContext, followUp *models.FollowUpCase) error
	UpdateCaseTx(ctx context.Context, exec sqlx.ExtContext, followUp *models.FollowUpCase) error
	DeleteCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) error
	CreateLetterTx(ctx context.Context, exec sqlx.ExtContext, letter *models.SummonLetter) error
	UpdateLetterTx(ctx context.Context, exec sqlx.ExtContext, letter *models.SummonLetter) error
	DeleteLetterByCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) error
}

type engineStudentRepository interface {
	GetTx(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error)
}

type letterAssembler interface {
	ResolveSupervisors(ctx context.Context, studentID string, roles []string) ([]models.SupervisorInfo, error)
	BuildLetter(level int, supervisors []models.SupervisorInfo) (*models.SummonLetter, error)
	NewLetterNumber(level int) string
}

type engineMetrics interface {
	LetterIssued(level int)
	CaseEscalated(level int)
	ReconcileRun()
	CaseAutoClosed()
	CaseDeleted()
}

// EngineService is the escalation rules engine. It consumes newly recorded
// violations, decides whether a summon-letter threshold was crossed, and
// creates, escalates or closes the student's follow-up case accordingly.
// Every mutating entry point runs on the caller's transaction, so the record
// write that triggered the engine and the resulting case mutation commit or
// roll back together.
type EngineService struct {
	db       sqlx.ExtContext
	matcher  *FrequencyMatcher
	types    engineTypeRepository
	records  engineRecordRepository
	cases    engineCaseRepository
	students engineStudentRepository
	letters  letterAssembler
	metrics  engineMetrics
	logger   *zap.Logger
}

// NewEngineService constructs the engine. db is the pool handle used for
// read-only recounts outside a transaction; metrics may be nil.
func NewEngineService(
	db sqlx.ExtContext,
	matcher *FrequencyMatcher,
	types engineTypeRepository,
	records engineRecordRepository,
	cases engineCaseRepository,
	students engineStudentRepository,
	letters letterAssembler,
	metrics engineMetrics,
	logger *zap.Logger,
) *EngineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if matcher == nil {
		matcher = NewFrequencyMatcher(logger)
	}
	return &EngineService{
		db:       db,
		matcher:  matcher,
		types:    types,
		records:  records,
		cases:    cases,
		students: students,
		letters:  letters,
		metrics:  metrics,
		logger:   logger,
	}
}

// EngineOutcome summarises what one engine run did.
type EngineOutcome struct {
	PointsAdded int    `json:"points_added"`
	LetterLevel int    `json:"letter_level,omitempty"`
	CaseID      string `json:"case_id,omitempty"`
	CaseCreated bool   `json:"case_created,omitempty"`
	Escalated   bool   `json:"escalated,omitempty"`
	Updated     bool   `json:"updated,omitempty"`
	CaseClosed  bool   `json:"case_closed,omitempty"`
	CaseDeleted bool   `json:"case_deleted,omitempty"`
}

// RecountResult is the authoritative full-history evaluation for a student.
type RecountResult struct {
	TotalPoints   int
	RecordCount   int
	BestRule      *models.FrequencyRule
	BestType      *models.ViolationType
	BestFrequency int
}

// ProcessBatch evaluates the just-recorded violations of one student. The
// records must already be persisted on the same transaction. Missing students
// or violation types contribute nothing; they never fail the batch.
func (s *EngineService) ProcessBatch(ctx context.Context, exec sqlx.ExtContext, studentID string, typeIDs []string) (*EngineOutcome, error) {
	out := &EngineOutcome{}
	if len(typeIDs) == 0 {
		return out, nil
	}
	if err := s.cases.LockStudentTx(ctx, exec, studentID); err != nil {
		return nil, err
	}
	if _, err := s.students.GetTx(ctx, exec, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("student not found, skipping batch", zap.String("student_id", studentID))
			return out, nil
		}
		return nil, err
	}

	// Duplicate type ids in one batch are evaluated occurrence by occurrence
	// against the final persisted count.
	batchCounts := make(map[string]int, len(typeIDs))
	order := make([]string, 0, len(typeIDs))
	for _, id := range typeIDs {
		if batchCounts[id] == 0 {
			order = append(order, id)
		}
		batchCounts[id]++
	}

	var (
		best      *models.FrequencyRule
		bestType  *models.ViolationType
		bestCount int
	)
	for _, typeID := range order {
		vt, err := s.types.GetWithRules(ctx, exec, typeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("violation type not found, skipping batch entry",
					zap.String("student_id", studentID), zap.String("violation_type_id", typeID))
				continue
			}
			return nil, err
		}
		total, err := s.records.CountForStudentType(ctx, exec, studentID, typeID)
		if err != nil {
			return nil, err
		}
		fresh := batchCounts[typeID]
		if !vt.UsesFrequencyRules {
			out.PointsAdded += vt.Points * fresh
			continue
		}
		for f := total - fresh + 1; f <= total; f++ {
			if f < 1 {
				continue
			}
			points, rule := s.increment(vt.Rules, f)
			out.PointsAdded += points
			if rule != nil && rule.TriggersLetter {
				if best == nil || rule.LetterLevel > best.LetterLevel {
					best, bestType, bestCount = rule, vt, f
				}
			}
		}
	}

	if best == nil {
		return out, nil
	}
	out.LetterLevel = best.LetterLevel

	supervisors, err := s.letters.ResolveSupervisors(ctx, studentID, best.SupervisorRoles)
	if err != nil {
		return nil, err
	}
	trigger := fmt.Sprintf("%s (occurrence %d)", bestType.Name, bestCount)

	active, err := s.activeCase(ctx, exec, studentID, true)
	if err != nil {
		return nil, err
	}
	if active == nil {
		created, err := s.createCaseWithLetter(ctx, exec, studentID, trigger, best, supervisors)
		if err != nil {
			return nil, err
		}
		out.CaseID = created.ID
		out.CaseCreated = true
		if s.metrics != nil {
			s.metrics.LetterIssued(best.LetterLevel)
		}
		return out, nil
	}

	out.CaseID = active.ID
	letter, err := s.cases.GetLetterByCaseTx(ctx, exec, active.ID)
	if err != nil {
		return nil, err
	}
	currentLevel := 0
	if letter != nil {
		currentLevel = letter.LetterLevel
	}
	// Monotonic escalation: a batch can only raise the letter level.
	if best.LetterLevel <= currentLevel {
		return out, nil
	}

	active.Trigger = trigger
	active.Sanction = best.Sanction
	if active.Status == models.CaseStatusNew || active.Status == models.CaseStatusPendingApproval {
		// Approval progress on an already-running case is never rolled back;
		// only undecided cases pick up a new approval requirement.
		active.Status = deriveCaseStatus(best.SupervisorRoles)
	}
	if err := s.cases.UpdateCaseTx(ctx, exec, active); err != nil {
		return nil, err
	}
	if letter == nil {
		letter, err = s.letters.BuildLetter(best.LetterLevel, supervisors)
		if err != nil {
			return nil, err
		}
		letter.CaseID = active.ID
		if err := s.cases.CreateLetterTx(ctx, exec, letter); err != nil {
			return nil, err
		}
	} else {
		letter.LetterLevel = best.LetterLevel
		letter.LetterNumber = s.letters.NewLetterNumber(best.LetterLevel)
		if err := letter.SetSupervisors(supervisors); err != nil {
			return nil, err
		}
		if err := s.cases.UpdateLetterTx(ctx, exec, letter); err != nil {
			return nil, err
		}
	}
	out.Escalated = true
	if s.metrics != nil {
		s.metrics.CaseEscalated(best.LetterLevel)
	}
	return out, nil
}

// Reconcile re-derives the student's case and letter state from the full
// violation history. It repairs state after edits and deletions, and is
// idempotent: without an intervening record change it performs no writes.
func (s *EngineService) Reconcile(ctx context.Context, exec sqlx.ExtContext, studentID string, deleteIfNoLetter bool) (*EngineOutcome, error) {
	out := &EngineOutcome{}
	if err := s.cases.LockStudentTx(ctx, exec, studentID); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ReconcileRun()
	}

	res, err := s.Recount(ctx, exec, studentID)
	if err != nil {
		return nil, err
	}
	out.PointsAdded = res.TotalPoints

	active, err := s.activeCase(ctx, exec, studentID, true)
	if err != nil {
		return nil, err
	}

	if res.BestRule == nil {
		if active == nil {
			return out, nil
		}
		if deleteIfNoLetter {
			if err := s.cases.DeleteCaseTx(ctx, exec, active.ID); err != nil {
				return nil, err
			}
			out.CaseDeleted = true
			if s.metrics != nil {
				s.metrics.CaseDeleted()
			}
		} else {
			if err := s.cases.DeleteLetterByCaseTx(ctx, exec, active.ID); err != nil {
				return nil, err
			}
			active.Status = models.CaseStatusCompleted
			active.Trigger = "Automatically closed: no qualifying violation threshold remains"
			active.Sanction = "-"
			if err := s.cases.UpdateCaseTx(ctx, exec, active); err != nil {
				return nil, err
			}
			out.CaseClosed = true
			if s.metrics != nil {
				s.metrics.CaseAutoClosed()
			}
		}
		return out, nil
	}

	out.LetterLevel = res.BestRule.LetterLevel
	supervisors, err := s.letters.ResolveSupervisors(ctx, studentID, res.BestRule.SupervisorRoles)
	if err != nil {
		return nil, err
	}
	trigger := fmt.Sprintf("%s (occurrence %d)", res.BestType.Name, res.BestFrequency)

	if active == nil {
		created, err := s.createCaseWithLetter(ctx, exec, studentID, trigger, res.BestRule, supervisors)
		if err != nil {
			return nil, err
		}
		out.CaseID = created.ID
		out.CaseCreated = true
		if s.metrics != nil {
			s.metrics.LetterIssued(res.BestRule.LetterLevel)
		}
		return out, nil
	}

	out.CaseID = active.ID
	letter, err := s.cases.GetLetterByCaseTx(ctx, exec, active.ID)
	if err != nil {
		return nil, err
	}

	caseDirty := active.Trigger != trigger || active.Sanction != res.BestRule.Sanction
	letterDirty := letter == nil ||
		letter.LetterLevel != res.BestRule.LetterLevel ||
		!reflect.DeepEqual(letter.Supervisors(), supervisors)
	if !caseDirty && !letterDirty {
		return out, nil
	}

	if caseDirty {
		active.Trigger = trigger
		active.Sanction = res.BestRule.Sanction
	}
	if letterDirty && (active.Status == models.CaseStatusNew || active.Status == models.CaseStatusPendingApproval) {
		// Approval progress on an already-running case is never rolled back;
		// only undecided cases pick up a new approval requirement.
		active.Status = deriveCaseStatus(res.BestRule.SupervisorRoles)
	}
	if err := s.cases.UpdateCaseTx(ctx, exec, active); err != nil {
		return nil, err
	}

	if letter == nil {
		letter, err = s.letters.BuildLetter(res.BestRule.LetterLevel, supervisors)
		if err != nil {
			return nil, err
		}
		letter.CaseID = active.ID
		if err := s.cases.CreateLetterTx(ctx, exec, letter); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.LetterIssued(res.BestRule.LetterLevel)
		}
	} else if letterDirty {
		if letter.LetterLevel != res.BestRule.LetterLevel {
			letter.LetterNumber = s.letters.NewLetterNumber(res.BestRule.LetterLevel)
		}
		letter.LetterLevel = res.BestRule.LetterLevel
		if err := letter.SetSupervisors(supervisors); err != nil {
			return nil, err
		}
		if err := s.cases.UpdateLetterTx(ctx, exec, letter); err != nil {
			return nil, err
		}
	}
	out.Updated = true
	return out, nil
}

// Recount walks every live record of the student from scratch. The point
// total is the sum of actually-triggered matches for frequency-based types
// plus flat points per record for the rest; the result also carries the
// highest currently-justified letter rule.
func (s *EngineService) Recount(ctx context.Context, exec sqlx.ExtContext, studentID string) (*RecountResult, error) {
	res := &RecountResult{}
	types, err := s.types.ListUsedByStudent(ctx, exec, studentID)
	if err != nil {
		return nil, err
	}
	for i := range types {
		vt := types[i]
		count, err := s.records.CountForStudentType(ctx, exec, studentID, vt.ID)
		if err != nil {
			return nil, err
		}
		res.RecordCount += count
		if !vt.UsesFrequencyRules {
			res.TotalPoints += vt.Points * count
			continue
		}
		for f := 1; f <= count; f++ {
			points, rule := s.increment(vt.Rules, f)
			res.TotalPoints += points
			if rule != nil && rule.TriggersLetter {
				if res.BestRule == nil || rule.LetterLevel > res.BestRule.LetterLevel {
					res.BestRule = rule
					res.BestType = &types[i]
					res.BestFrequency = f
				}
			}
		}
	}
	return res, nil
}

// TotalPoints runs a read-only recount on the pool connection.
func (s *EngineService) TotalPoints(ctx context.Context, studentID string) (*RecountResult, error) {
	return s.Recount(ctx, s.db, studentID)
}

// ActiveCase returns the student's active case, nil when none, resolving an
// invariant breach (multiple active cases) to the newest one with a warning.
func (s *EngineService) ActiveCase(ctx context.Context, studentID string) (*models.FollowUpCase, error) {
	return s.activeCase(ctx, s.db, studentID, false)
}

// increment applies the two-call crossing detection: a record only adds its
// rule's points when the rule matched at this count did not already match at
// the previous count.
func (s *EngineService) increment(rules []models.FrequencyRule, frequency int) (int, *models.FrequencyRule) {
	cur := s.matcher.Match(rules, frequency)
	if cur == nil {
		return 0, nil
	}
	if prev := s.matcher.Match(rules, frequency-1); prev != nil && prev.ID == cur.ID {
		return 0, nil
	}
	return cur.Points, cur
}

func (s *EngineService) activeCase(ctx context.Context, exec sqlx.ExtContext, studentID string, forUpdate bool) (*models.FollowUpCase, error) {
	cases, err := s.cases.FindActiveTx(ctx, exec, studentID, forUpdate)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, nil
	}
	if len(cases) > 1 {
		ids := make([]string, len(cases))
		for i, c := range cases {
			ids[i] = c.ID
		}
		s.logger.Error("invariant violation: multiple active cases for student, using newest",
			zap.String("student_id", studentID), zap.Strings("case_ids", ids))
	}
	active := cases[0]
	return &active, nil
}

func (s *EngineService) createCaseWithLetter(ctx context.Context, exec sqlx.ExtContext, studentID, trigger string, rule *models.FrequencyRule, supervisors []models.SupervisorInfo) (*models.FollowUpCase, error) {
	followUp := &models.FollowUpCase{
		StudentID: studentID,
		Trigger:   trigger,
		Sanction:  rule.Sanction,
		Status:    deriveCaseStatus(rule.SupervisorRoles),
	}
	if err := s.cases.CreateCaseTx(ctx, exec, followUp); err != nil {
		return nil, err
	}
	letter, err := s.letters.BuildLetter(rule.LetterLevel, supervisors)
	if err != nil {
		return nil, err
	}
	letter.CaseID = followUp.ID
	if err := s.cases.CreateLetterTx(ctx, exec, letter); err != nil {
		return nil, err
	}
	followUp.Letter = letter
	return followUp, nil
}

// deriveCaseStatus is a pure function of the supervisor-role set: any rule
// that summons the principal requires approval before the case can proceed.
func deriveCaseStatus(roles []string) models.CaseStatus {
	for _, role := range roles {
		if role == models.SupervisorPrincipal {
			return models.CaseStatusPendingApproval
		}
	}
	return models.CaseStatusNew
}
