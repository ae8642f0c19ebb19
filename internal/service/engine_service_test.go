package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// engineStore is an in-memory stand-in for the type, record, case and
// student repositories, tracking write counts so tests can assert on
// idempotence.
type engineStore struct {
	student *models.Student
	types   map[string]*models.ViolationType
	counts  map[string]int                  // violation type id -> live record count
	cases   []*models.FollowUpCase          // newest first
	letters map[string]*models.SummonLetter // case id -> letter

	caseSeq        int
	createdCases   int
	updatedCases   int
	deletedCases   int
	createdLetters int
	updatedLetters int
	deletedLetters int
}

func (st *engineStore) GetWithRules(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ViolationType, error) {
	vt, ok := st.types[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return vt, nil
}

func (st *engineStore) ListUsedByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.ViolationType, error) {
	ids := make([]string, 0, len(st.counts))
	for id, n := range st.counts {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]models.ViolationType, 0, len(ids))
	for _, id := range ids {
		out = append(out, *st.types[id])
	}
	return out, nil
}

func (st *engineStore) CountForStudentType(ctx context.Context, exec sqlx.ExtContext, studentID, typeID string) (int, error) {
	return st.counts[typeID], nil
}

func (st *engineStore) GetTx(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error) {
	if st.student == nil || st.student.ID != id {
		return nil, sql.ErrNoRows
	}
	return st.student, nil
}

func (st *engineStore) LockStudentTx(ctx context.Context, exec sqlx.ExtContext, studentID string) error {
	return nil
}

func (st *engineStore) FindActiveTx(ctx context.Context, exec sqlx.ExtContext, studentID string, forUpdate bool) ([]models.FollowUpCase, error) {
	var out []models.FollowUpCase
	for _, c := range st.cases {
		if c.StudentID != studentID {
			continue
		}
		for _, status := range models.ActiveCaseStatuses {
			if c.Status == status {
				out = append(out, *c)
				break
			}
		}
	}
	return out, nil
}

func (st *engineStore) GetLetterByCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) (*models.SummonLetter, error) {
	return st.letters[caseID], nil
}

func (st *engineStore) CreateCaseTx(ctx context.Context, exec sqlx.ExtContext, followUp *models.FollowUpCase) error {
	st.caseSeq++
	followUp.ID = fmt.Sprintf("case-%d", st.caseSeq)
	stored := *followUp
	st.cases = append([]*models.FollowUpCase{&stored}, st.cases...)
	st.createdCases++
	return nil
}

func (st *engineStore) UpdateCaseTx(ctx context.Context, exec sqlx.ExtContext, followUp *models.FollowUpCase) error {
	for i, c := range st.cases {
		if c.ID == followUp.ID {
			stored := *followUp
			st.cases[i] = &stored
			st.updatedCases++
			return nil
		}
	}
	return sql.ErrNoRows
}

func (st *engineStore) DeleteCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) error {
	for i, c := range st.cases {
		if c.ID == caseID {
			st.cases = append(st.cases[:i], st.cases[i+1:]...)
			delete(st.letters, caseID)
			st.deletedCases++
			return nil
		}
	}
	return sql.ErrNoRows
}

func (st *engineStore) CreateLetterTx(ctx context.Context, exec sqlx.ExtContext, letter *models.SummonLetter) error {
	stored := *letter
	st.letters[letter.CaseID] = &stored
	st.createdLetters++
	return nil
}

func (st *engineStore) UpdateLetterTx(ctx context.Context, exec sqlx.ExtContext, letter *models.SummonLetter) error {
	stored := *letter
	st.letters[letter.CaseID] = &stored
	st.updatedLetters++
	return nil
}

func (st *engineStore) DeleteLetterByCaseTx(ctx context.Context, exec sqlx.ExtContext, caseID string) error {
	delete(st.letters, caseID)
	st.deletedLetters++
	return nil
}

func (st *engineStore) writes() [6]int {
	return [6]int{st.createdCases, st.updatedCases, st.deletedCases, st.createdLetters, st.updatedLetters, st.deletedLetters}
}

func (st *engineStore) activeCase() *models.FollowUpCase {
	for _, c := range st.cases {
		for _, status := range models.ActiveCaseStatuses {
			if c.Status == status {
				return c
			}
		}
	}
	return nil
}

type stubLetterAssembler struct {
	seq int
}

func (a *stubLetterAssembler) ResolveSupervisors(ctx context.Context, studentID string, roles []string) ([]models.SupervisorInfo, error) {
	out := make([]models.SupervisorInfo, 0, len(roles))
	for _, role := range roles {
		out = append(out, models.SupervisorInfo{Role: role, Name: "Guru " + role, IDLabel: "NIP 1"})
	}
	return out, nil
}

func (a *stubLetterAssembler) NewLetterNumber(level int) string {
	a.seq++
	return fmt.Sprintf("SP/%d/2026/%08d", level, a.seq)
}

func (a *stubLetterAssembler) BuildLetter(level int, supervisors []models.SupervisorInfo) (*models.SummonLetter, error) {
	letter := &models.SummonLetter{
		LetterNumber: a.NewLetterNumber(level),
		LetterLevel:  level,
		MeetingTime:  "09:00",
	}
	if err := letter.SetSupervisors(supervisors); err != nil {
		return nil, err
	}
	return letter, nil
}

type countingMetrics struct {
	issued     map[int]int
	escalated  map[int]int
	reconciles int
	autoClosed int
	deleted    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{issued: map[int]int{}, escalated: map[int]int{}}
}

func (m *countingMetrics) LetterIssued(level int)  { m.issued[level]++ }
func (m *countingMetrics) CaseEscalated(level int) { m.escalated[level]++ }
func (m *countingMetrics) ReconcileRun()           { m.reconciles++ }
func (m *countingMetrics) CaseAutoClosed()         { m.autoClosed++ }
func (m *countingMetrics) CaseDeleted()            { m.deleted++ }

const (
	testStudentID = "student-1"
	lateTypeID    = "type-late"
	uniformTypeID = "type-uniform"
	phoneTypeID   = "type-phone"
)

// engineFixture builds the service around a catalog with one frequency-ruled
// type (escalation ladder at 3, 5 and 7 occurrences, principal summoned at
// the top), one repeating-band type and one flat-points type.
func engineFixture() (*EngineService, *engineStore, *countingMetrics) {
	late := &models.ViolationType{
		ID:                 lateTypeID,
		Code:               "TL-01",
		Name:               "Terlambat masuk sekolah",
		Category:           "RINGAN",
		UsesFrequencyRules: true,
		Active:             true,
		Rules: []models.FrequencyRule{
			{
				ID: "r1", ViolationTypeID: lateTypeID,
				FrequencyMin: 1, FrequencyMax: intPtr(3),
				Points: 5, Sanction: "Teguran tertulis pertama",
				TriggersLetter: true, LetterLevel: 1,
				SupervisorRoles: []string{models.SupervisorHomeroom},
				DisplayOrder:    1,
			},
			{
				ID: "r2", ViolationTypeID: lateTypeID,
				FrequencyMin: 4, FrequencyMax: intPtr(5),
				Points: 10, Sanction: "Teguran tertulis kedua",
				TriggersLetter: true, LetterLevel: 2,
				SupervisorRoles: []string{models.SupervisorHomeroom, models.SupervisorCounselor},
				DisplayOrder:    2,
			},
			{
				ID: "r3", ViolationTypeID: lateTypeID,
				FrequencyMin: 6, FrequencyMax: intPtr(7),
				Points: 15, Sanction: "Pemanggilan orang tua oleh kepala sekolah",
				TriggersLetter: true, LetterLevel: 3,
				SupervisorRoles: []string{models.SupervisorStudentAffairs, models.SupervisorPrincipal},
				DisplayOrder:    3,
			},
		},
	}
	phone := &models.ViolationType{
		ID:                 phoneTypeID,
		Code:               "HP-01",
		Name:               "Menggunakan ponsel saat pelajaran",
		Category:           "SEDANG",
		UsesFrequencyRules: true,
		Active:             true,
		Rules: []models.FrequencyRule{
			{
				ID: "r4", ViolationTypeID: phoneTypeID,
				FrequencyMin: 2, FrequencyMax: intPtr(2),
				Points: 3, Sanction: "Penyitaan ponsel",
				DisplayOrder: 1,
			},
		},
	}
	uniform := &models.ViolationType{
		ID:       uniformTypeID,
		Code:     "SR-01",
		Name:     "Atribut seragam tidak lengkap",
		Category: "RINGAN",
		Points:   2,
		Active:   true,
	}

	store := &engineStore{
		student: &models.Student{ID: testStudentID, NIS: "12345", FullName: "Budi Santoso", Active: true},
		types:   map[string]*models.ViolationType{lateTypeID: late, phoneTypeID: phone, uniformTypeID: uniform},
		counts:  map[string]int{},
		letters: map[string]*models.SummonLetter{},
	}
	metrics := newCountingMetrics()
	svc := NewEngineService(nil, nil, store, store, store, store, &stubLetterAssembler{}, metrics, zap.NewNop())
	return svc, store, metrics
}

// record simulates persisting n new records of one type and returns the
// batch slice ProcessBatch expects.
func (st *engineStore) record(typeID string, n int) []string {
	st.counts[typeID] += n
	batch := make([]string, n)
	for i := range batch {
		batch[i] = typeID
	}
	return batch
}

func TestProcessBatchBelowThreshold(t *testing.T) {
	svc, store, _ := engineFixture()
	ctx := context.Background()

	out, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 1))
	require.NoError(t, err)

	assert.Equal(t, 0, out.PointsAdded)
	assert.False(t, out.CaseCreated)
	assert.Nil(t, store.activeCase())
}

func TestProcessBatchFlatTypeAddsPointsPerRecord(t *testing.T) {
	svc, store, _ := engineFixture()

	out, err := svc.ProcessBatch(context.Background(), nil, testStudentID, store.record(uniformTypeID, 3))
	require.NoError(t, err)

	assert.Equal(t, 6, out.PointsAdded)
	assert.Nil(t, store.activeCase())
}

func TestProcessBatchCrossingCreatesCaseAndLetter(t *testing.T) {
	svc, store, metrics := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 2))
	require.NoError(t, err)

	out, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 1))
	require.NoError(t, err)

	assert.Equal(t, 5, out.PointsAdded)
	assert.Equal(t, 1, out.LetterLevel)
	assert.True(t, out.CaseCreated)

	active := store.activeCase()
	require.NotNil(t, active)
	assert.Equal(t, models.CaseStatusNew, active.Status)
	assert.Equal(t, "Terlambat masuk sekolah (occurrence 3)", active.Trigger)
	assert.Equal(t, "Teguran tertulis pertama", active.Sanction)

	letter := store.letters[active.ID]
	require.NotNil(t, letter)
	assert.Equal(t, 1, letter.LetterLevel)
	require.Len(t, letter.Supervisors(), 1)
	assert.Equal(t, models.SupervisorHomeroom, letter.Supervisors()[0].Role)
	assert.Equal(t, 1, metrics.issued[1])
}

func TestProcessBatchPrincipalRuleRequiresApproval(t *testing.T) {
	svc, store, _ := engineFixture()

	out, err := svc.ProcessBatch(context.Background(), nil, testStudentID, store.record(lateTypeID, 7))
	require.NoError(t, err)

	// Crossings at 3, 5 and 7 each add their band's points once.
	assert.Equal(t, 30, out.PointsAdded)
	assert.Equal(t, 3, out.LetterLevel)

	active := store.activeCase()
	require.NotNil(t, active)
	assert.Equal(t, models.CaseStatusPendingApproval, active.Status)
	assert.Equal(t, 3, store.letters[active.ID].LetterLevel)
}

func TestProcessBatchRepeatingBandCountsEachMultiple(t *testing.T) {
	svc, store, _ := engineFixture()
	ctx := context.Background()

	out, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(phoneTypeID, 4))
	require.NoError(t, err)

	// Multiples 2 and 4 both trigger the repeating band.
	assert.Equal(t, 6, out.PointsAdded)
	assert.Nil(t, store.activeCase())
}

func TestProcessBatchEscalatesExistingCase(t *testing.T) {
	svc, store, metrics := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 3))
	require.NoError(t, err)
	firstCase := store.activeCase()
	require.NotNil(t, firstCase)
	firstNumber := store.letters[firstCase.ID].LetterNumber

	out, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 2))
	require.NoError(t, err)

	assert.Equal(t, 10, out.PointsAdded)
	assert.True(t, out.Escalated)
	assert.False(t, out.CaseCreated)
	assert.Equal(t, firstCase.ID, out.CaseID)

	active := store.activeCase()
	require.NotNil(t, active)
	assert.Equal(t, firstCase.ID, active.ID)
	assert.Equal(t, "Terlambat masuk sekolah (occurrence 5)", active.Trigger)
	assert.Equal(t, "Teguran tertulis kedua", active.Sanction)

	letter := store.letters[active.ID]
	assert.Equal(t, 2, letter.LetterLevel)
	assert.NotEqual(t, firstNumber, letter.LetterNumber)
	assert.Len(t, letter.Supervisors(), 2)
	assert.Equal(t, 1, metrics.escalated[2])
	assert.Equal(t, 1, store.createdCases)
}

func TestProcessBatchEscalationKeepsWorkflowProgress(t *testing.T) {
	svc, store, _ := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 3))
	require.NoError(t, err)
	active := store.activeCase()
	require.Equal(t, models.CaseStatusNew, active.Status)

	// Case already being worked on keeps its workflow state through an
	// escalation, even one whose rule summons the principal.
	active.Status = models.CaseStatusInProgress

	out, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 4))
	require.NoError(t, err)

	assert.True(t, out.Escalated)
	active = store.activeCase()
	require.NotNil(t, active)
	assert.Equal(t, models.CaseStatusInProgress, active.Status)
	assert.Equal(t, 3, store.letters[active.ID].LetterLevel)
}

func TestProcessBatchNeverDowngrades(t *testing.T) {
	svc, store, _ := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 5))
	require.NoError(t, err)
	before := store.writes()

	// A second type crossing a lower letter threshold leaves the case alone.
	skip := &models.ViolationType{
		ID: "type-skip", Code: "BL-01", Name: "Membolos",
		Category: "SEDANG", UsesFrequencyRules: true, Active: true,
		Rules: []models.FrequencyRule{{
			ID: "r5", ViolationTypeID: "type-skip",
			FrequencyMin: 1, FrequencyMax: intPtr(2),
			Points: 8, Sanction: "Teguran tertulis pertama",
			TriggersLetter: true, LetterLevel: 1,
			SupervisorRoles: []string{models.SupervisorHomeroom},
			DisplayOrder:    1,
		}},
	}
	store.types[skip.ID] = skip

	out, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(skip.ID, 2))
	require.NoError(t, err)

	assert.Equal(t, 8, out.PointsAdded)
	assert.False(t, out.Escalated)
	assert.Equal(t, before, store.writes())
	assert.Equal(t, 2, store.letters[store.activeCase().ID].LetterLevel)
}

func TestProcessBatchSkipsUnknownStudentAndType(t *testing.T) {
	svc, store, _ := engineFixture()
	ctx := context.Background()

	out, err := svc.ProcessBatch(ctx, nil, "ghost", []string{lateTypeID})
	require.NoError(t, err)
	assert.Equal(t, &EngineOutcome{}, out)

	store.counts["type-missing"] = 1
	out, err = svc.ProcessBatch(ctx, nil, testStudentID, append([]string{"type-missing"}, store.record(uniformTypeID, 1)...))
	require.NoError(t, err)
	assert.Equal(t, 2, out.PointsAdded)
}

func TestReconcileIsIdempotent(t *testing.T) {
	svc, store, metrics := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 3))
	require.NoError(t, err)
	before := store.writes()

	out, err := svc.Reconcile(ctx, nil, testStudentID, false)
	require.NoError(t, err)

	assert.Equal(t, before, store.writes())
	assert.False(t, out.Updated)
	assert.Equal(t, 5, out.PointsAdded)
	assert.Equal(t, 1, out.LetterLevel)
	assert.Equal(t, store.activeCase().ID, out.CaseID)
	assert.Equal(t, 1, metrics.reconciles)
}

func TestReconcileDeletesCaseAfterRecordDeletion(t *testing.T) {
	svc, store, metrics := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 3))
	require.NoError(t, err)
	require.NotNil(t, store.activeCase())

	store.counts[lateTypeID] = 2 // one record soft-deleted
	out, err := svc.Reconcile(ctx, nil, testStudentID, true)
	require.NoError(t, err)

	assert.True(t, out.CaseDeleted)
	assert.Nil(t, store.activeCase())
	assert.Empty(t, store.letters)
	assert.Equal(t, 1, store.deletedCases)
	assert.Equal(t, 1, metrics.deleted)
	assert.Zero(t, metrics.autoClosed)
}

func TestReconcileClosesCaseAfterRecordEdit(t *testing.T) {
	svc, store, metrics := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 3))
	require.NoError(t, err)
	caseID := store.activeCase().ID

	store.counts[lateTypeID] = 2
	out, err := svc.Reconcile(ctx, nil, testStudentID, false)
	require.NoError(t, err)

	assert.True(t, out.CaseClosed)
	assert.Nil(t, store.activeCase())
	assert.Nil(t, store.letters[caseID])

	var closed *models.FollowUpCase
	for _, c := range store.cases {
		if c.ID == caseID {
			closed = c
		}
	}
	require.NotNil(t, closed)
	assert.Equal(t, models.CaseStatusCompleted, closed.Status)
	assert.Equal(t, "Automatically closed: no qualifying violation threshold remains", closed.Trigger)
	assert.Equal(t, "-", closed.Sanction)
	assert.Equal(t, 1, metrics.autoClosed)
	assert.Zero(t, metrics.deleted)
}

func TestReconcileDowngradesLetterLevel(t *testing.T) {
	svc, store, _ := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 5))
	require.NoError(t, err)
	caseID := store.activeCase().ID
	oldNumber := store.letters[caseID].LetterNumber

	store.counts[lateTypeID] = 4
	out, err := svc.Reconcile(ctx, nil, testStudentID, false)
	require.NoError(t, err)

	assert.True(t, out.Updated)
	assert.Equal(t, 1, out.LetterLevel)

	active := store.activeCase()
	require.NotNil(t, active)
	assert.Equal(t, "Terlambat masuk sekolah (occurrence 3)", active.Trigger)
	assert.Equal(t, "Teguran tertulis pertama", active.Sanction)

	letter := store.letters[caseID]
	assert.Equal(t, 1, letter.LetterLevel)
	assert.NotEqual(t, oldNumber, letter.LetterNumber)
}

func TestReconcileKeepsWorkflowProgress(t *testing.T) {
	svc, store, _ := engineFixture()
	ctx := context.Background()

	_, err := svc.ProcessBatch(ctx, nil, testStudentID, store.record(lateTypeID, 7))
	require.NoError(t, err)
	active := store.activeCase()
	require.Equal(t, models.CaseStatusPendingApproval, active.Status)

	// Case already being worked on keeps its workflow state even when the
	// justified letter level drops.
	active.Status = models.CaseStatusInProgress
	store.counts[lateTypeID] = 5

	out, err := svc.Reconcile(ctx, nil, testStudentID, false)
	require.NoError(t, err)

	assert.True(t, out.Updated)
	assert.Equal(t, models.CaseStatusInProgress, store.activeCase().Status)
	assert.Equal(t, 2, store.letters[store.activeCase().ID].LetterLevel)
}

func TestRecountMixedHistory(t *testing.T) {
	svc, store, _ := engineFixture()

	store.counts[lateTypeID] = 6    // crossings at 3 and 5
	store.counts[phoneTypeID] = 5   // repeating band at 2 and 4
	store.counts[uniformTypeID] = 4 // flat points per record

	res, err := svc.Recount(context.Background(), nil, testStudentID)
	require.NoError(t, err)

	assert.Equal(t, 15, res.RecordCount)
	assert.Equal(t, 5+10+3+3+2*4, res.TotalPoints)
	require.NotNil(t, res.BestRule)
	assert.Equal(t, "r2", res.BestRule.ID)
	assert.Equal(t, 5, res.BestFrequency)
	assert.Equal(t, lateTypeID, res.BestType.ID)
}
