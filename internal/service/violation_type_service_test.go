package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type mockTypeRepo struct {
	types map[string]*models.ViolationType
	seq   int
}

func (m *mockTypeRepo) List(ctx context.Context, filter models.ViolationTypeFilter) ([]models.ViolationType, int, error) {
	return nil, 0, nil
}

func (m *mockTypeRepo) Get(ctx context.Context, id string) (*models.ViolationType, error) {
	vt, ok := m.types[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *vt
	return &copied, nil
}

func (m *mockTypeRepo) GetWithRules(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ViolationType, error) {
	return m.Get(ctx, id)
}

func (m *mockTypeRepo) Create(ctx context.Context, vt *models.ViolationType) error {
	m.seq++
	vt.ID = "vt-" + string(rune('0'+m.seq))
	stored := *vt
	m.types[vt.ID] = &stored
	return nil
}

func (m *mockTypeRepo) Update(ctx context.Context, vt *models.ViolationType) error {
	if _, ok := m.types[vt.ID]; !ok {
		return sql.ErrNoRows
	}
	stored := *vt
	m.types[vt.ID] = &stored
	return nil
}

func (m *mockTypeRepo) ReplaceRules(ctx context.Context, typeID string, rules []models.FrequencyRule) error {
	vt, ok := m.types[typeID]
	if !ok {
		return sql.ErrNoRows
	}
	vt.Rules = rules
	return nil
}

func (m *mockTypeRepo) SetActive(ctx context.Context, id string, active bool) error {
	vt, ok := m.types[id]
	if !ok {
		return sql.ErrNoRows
	}
	vt.Active = active
	return nil
}

func typeFixture() (*ViolationTypeService, *mockTypeRepo) {
	repo := &mockTypeRepo{types: map[string]*models.ViolationType{
		"vt-freq": {
			ID: "vt-freq", Code: "TL-01", Name: "Terlambat masuk sekolah",
			Category: "RINGAN", UsesFrequencyRules: true, Active: true,
		},
		"vt-flat": {
			ID: "vt-flat", Code: "SR-01", Name: "Atribut seragam tidak lengkap",
			Category: "RINGAN", Points: 2, Active: true,
		},
	}}
	return NewViolationTypeService(repo, nil, zap.NewNop()), repo
}

func TestCreateViolationType(t *testing.T) {
	svc, repo := typeFixture()

	vt, err := svc.Create(context.Background(), ViolationTypeRequest{
		Code: "BL-01", Name: "Membolos", Category: "SEDANG", Points: 10,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, vt.ID)
	assert.True(t, vt.Active)
	assert.Contains(t, repo.types, vt.ID)
}

func TestCreateViolationTypeValidation(t *testing.T) {
	svc, _ := typeFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, ViolationTypeRequest{Name: "Membolos", Category: "SEDANG"})
	require.Error(t, err)

	_, err = svc.Create(ctx, ViolationTypeRequest{Code: "BL-01", Name: "Membolos", Category: "PARAH"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestReplaceRulesLadder(t *testing.T) {
	svc, repo := typeFixture()

	vt, err := svc.ReplaceRules(context.Background(), "vt-freq", []FrequencyRuleRequest{
		{
			FrequencyMin: 1, FrequencyMax: intPtr(3), Points: 5,
			Sanction: "Teguran tertulis pertama", TriggersLetter: true, LetterLevel: 1,
			SupervisorRoles: []string{models.SupervisorHomeroom}, DisplayOrder: 1,
		},
		{
			FrequencyMin: 4, FrequencyMax: intPtr(5), Points: 10,
			Sanction: "Teguran tertulis kedua", TriggersLetter: true, LetterLevel: 2,
			SupervisorRoles: []string{models.SupervisorHomeroom, models.SupervisorCounselor}, DisplayOrder: 2,
		},
	})
	require.NoError(t, err)

	require.Len(t, vt.Rules, 2)
	assert.Equal(t, "vt-freq", vt.Rules[0].ViolationTypeID)
	assert.Len(t, repo.types["vt-freq"].Rules, 2)
}

func TestReplaceRulesRejectsOverlap(t *testing.T) {
	svc, repo := typeFixture()

	_, err := svc.ReplaceRules(context.Background(), "vt-freq", []FrequencyRuleRequest{
		{FrequencyMin: 1, Points: 5, Sanction: "Teguran lisan", DisplayOrder: 1},
		{FrequencyMin: 3, Points: 10, Sanction: "Teguran tertulis", DisplayOrder: 2},
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrAmbiguousRules.Code, appErr.Code)
	assert.Empty(t, repo.types["vt-freq"].Rules)
}

func TestReplaceRulesRejectsFlatType(t *testing.T) {
	svc, _ := typeFixture()

	_, err := svc.ReplaceRules(context.Background(), "vt-flat", []FrequencyRuleRequest{
		{FrequencyMin: 1, Points: 5, Sanction: "Teguran lisan"},
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestSetActiveArchivesType(t *testing.T) {
	svc, repo := typeFixture()
	ctx := context.Background()

	require.NoError(t, svc.SetActive(ctx, "vt-freq", false))
	assert.False(t, repo.types["vt-freq"].Active)

	err := svc.SetActive(ctx, "missing", false)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
