package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

type mockCoachingRuleRepo struct {
	rules   []models.CoachingRule
	deleted []string
}

func (m *mockCoachingRuleRepo) ListOrdered(ctx context.Context) ([]models.CoachingRule, error) {
	return m.rules, nil
}

func (m *mockCoachingRuleRepo) Create(ctx context.Context, rule *models.CoachingRule) error {
	rule.ID = fmt.Sprintf("rule%d", len(m.rules)+1)
	m.rules = append(m.rules, *rule)
	return nil
}

func (m *mockCoachingRuleRepo) Update(ctx context.Context, rule *models.CoachingRule) error {
	for i := range m.rules {
		if m.rules[i].ID == rule.ID {
			m.rules[i] = *rule
		}
	}
	return nil
}

func (m *mockCoachingRuleRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func coachingLadder() []models.CoachingRule {
	return []models.CoachingRule{
		{ID: "b1", PointsMin: 0, PointsMax: intPtr(50), SupervisorRoles: []string{models.SupervisorHomeroom}, Description: "Pembinaan wali kelas", DisplayOrder: 1},
		{ID: "b2", PointsMin: 55, PointsMax: intPtr(100), SupervisorRoles: []string{models.SupervisorCounselor}, Description: "Pembinaan BK", DisplayOrder: 2},
		{ID: "b3", PointsMin: 105, PointsMax: intPtr(300), SupervisorRoles: []string{models.SupervisorStudentAffairs}, Description: "Pembinaan kesiswaan", DisplayOrder: 3},
		{ID: "b4", PointsMin: 305, PointsMax: nil, SupervisorRoles: []string{models.SupervisorPrincipal}, Description: "Pembinaan kepala sekolah", DisplayOrder: 4},
	}
}

func TestRecommendWithinBands(t *testing.T) {
	repo := &mockCoachingRuleRepo{rules: coachingLadder()}
	svc := NewCoachingService(repo, validator.New(), zap.NewNop())

	cases := []struct {
		points int
		want   string
	}{
		{0, "b1"},
		{50, "b1"},
		{55, "b2"},
		{100, "b2"},
		{105, "b3"},
		{300, "b3"},
		{305, "b4"},
		{1000, "b4"},
	}
	for _, tc := range cases {
		rule := recommendFromRules(repo.rules, tc.points)
		require.NotNil(t, rule, "points %d", tc.points)
		assert.Equal(t, tc.want, rule.ID, "points %d", tc.points)
	}

	rec, err := svc.Recommend(context.Background(), 55)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []string{models.SupervisorCounselor}, rec.Roles)
	assert.Equal(t, "55-100", rec.RangeText)
}

func TestRecommendGapBelongsToLowerBand(t *testing.T) {
	rules := coachingLadder()

	// 53 sits between band one's max (50) and band two's min (55).
	rule := recommendFromRules(rules, 53)
	require.NotNil(t, rule)
	assert.Equal(t, "b1", rule.ID)

	// 303 sits between band three's max (300) and band four's min (305).
	rule = recommendFromRules(rules, 303)
	require.NotNil(t, rule)
	assert.Equal(t, "b3", rule.ID)
}

func TestRecommendNoRules(t *testing.T) {
	svc := NewCoachingService(&mockCoachingRuleRepo{}, validator.New(), zap.NewNop())
	rec, err := svc.Recommend(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCoachingRuleValidation(t *testing.T) {
	svc := NewCoachingService(&mockCoachingRuleRepo{}, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CoachingRuleRequest{
		PointsMin:       10,
		PointsMax:       intPtr(5),
		SupervisorRoles: []string{models.SupervisorHomeroom},
		Description:     "Pembinaan",
	})
	assert.Error(t, err)

	_, err = svc.Create(context.Background(), CoachingRuleRequest{
		PointsMin:       0,
		SupervisorRoles: []string{"JANITOR"},
		Description:     "Pembinaan",
	})
	assert.Error(t, err)

	rule, err := svc.Create(context.Background(), CoachingRuleRequest{
		PointsMin:       0,
		PointsMax:       intPtr(50),
		SupervisorRoles: []string{models.SupervisorHomeroom},
		Description:     "Pembinaan wali kelas",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
}
