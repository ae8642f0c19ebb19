package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/pkg/config"
)

type mockSupervisorReader struct {
	context *models.SupervisorContext
	staff   map[string][]models.Teacher
}

func (m *mockSupervisorReader) SupervisorContext(ctx context.Context, studentID string) (*models.SupervisorContext, error) {
	return m.context, nil
}

func (m *mockSupervisorReader) FindStaffByRole(ctx context.Context, role string) ([]models.Teacher, error) {
	return m.staff[role], nil
}

func strPtr(v string) *string { return &v }

func letterFixture() (*LetterService, *mockSupervisorReader) {
	reader := &mockSupervisorReader{
		context: &models.SupervisorContext{
			StudentID:       "s1",
			StudentName:     "Budi Santoso",
			StudentNIS:      "12345",
			ClassName:       strPtr("XII RPL 1"),
			HomeroomName:    strPtr("Sri Wahyuni"),
			HomeroomNIP:     strPtr("NIP 111"),
			ProgramHeadName: strPtr("Agus Salim"),
			ProgramHeadNIP:  strPtr("NIP 222"),
		},
		staff: map[string][]models.Teacher{
			models.SupervisorPrincipal: {{FullName: "Dewi Lestari", NIP: "NIP 333"}},
			models.SupervisorCounselor: {
				{FullName: "Andi", NIP: "NIP 444"},
				{FullName: "Rina", NIP: "NIP 555"},
			},
		},
	}
	svc := NewLetterService(reader, config.LettersConfig{
		MeetingOffsetDays: 3,
		MeetingTime:       "09:00",
	}, zap.NewNop())
	svc.now = func() time.Time {
		return time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	}
	return svc, reader
}

func TestResolveSupervisors(t *testing.T) {
	svc, _ := letterFixture()

	supervisors, err := svc.ResolveSupervisors(context.Background(), "s1", []string{
		models.SupervisorHomeroom,
		models.SupervisorProgramHead,
		models.SupervisorPrincipal,
	})
	require.NoError(t, err)
	require.Len(t, supervisors, 3)

	assert.Equal(t, "Sri Wahyuni", supervisors[0].Name)
	assert.Equal(t, "NIP 111", supervisors[0].IDLabel)
	assert.Equal(t, "Agus Salim", supervisors[1].Name)
	assert.Equal(t, "Dewi Lestari", supervisors[2].Name)
}

func TestResolveSupervisorsAmbiguousRoleStaysUnresolved(t *testing.T) {
	svc, _ := letterFixture()

	supervisors, err := svc.ResolveSupervisors(context.Background(), "s1", []string{models.SupervisorCounselor})
	require.NoError(t, err)
	require.Len(t, supervisors, 1)
	assert.Equal(t, models.SupervisorCounselor, supervisors[0].Role)
	assert.Empty(t, supervisors[0].Name)
}

func TestNewLetterNumberFormat(t *testing.T) {
	svc, _ := letterFixture()

	number := svc.NewLetterNumber(2)
	assert.Regexp(t, regexp.MustCompile(`^SP/2/2026/[0-9A-F]{8}$`), number)
	assert.NotEqual(t, number, svc.NewLetterNumber(2))
}

func TestMeetingSchedule(t *testing.T) {
	svc, _ := letterFixture()

	date, clock := svc.MeetingSchedule()
	assert.Equal(t, time.Date(2026, time.March, 13, 0, 0, 0, 0, time.UTC), date)
	assert.Equal(t, "09:00", clock)
}

func TestBuildLetter(t *testing.T) {
	svc, _ := letterFixture()

	supervisors := []models.SupervisorInfo{{Role: models.SupervisorHomeroom, Name: "Sri Wahyuni", IDLabel: "NIP 111"}}
	letter, err := svc.BuildLetter(3, supervisors)
	require.NoError(t, err)

	assert.Equal(t, 3, letter.LetterLevel)
	assert.Equal(t, supervisors, letter.Supervisors())
	assert.Equal(t, "09:00", letter.MeetingTime)
}
