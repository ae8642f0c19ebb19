package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

func newCaseMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCaseRepositoryFindActiveTx(t *testing.T) {
	db, mock, cleanup := newCaseMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "trigger_description", "sanction", "status", "approver_id", "created_at", "updated_at"}).
		AddRow("case-1", "student-1", "Terlambat masuk sekolah (occurrence 3)", "Teguran tertulis pertama", "NEW", nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, student_id, trigger_description, sanction, status, approver_id, created_at, updated_at FROM follow_up_cases WHERE student_id = \\$1 AND status = ANY\\(\\$2\\) ORDER BY created_at DESC FOR UPDATE").
		WithArgs("student-1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	cases, err := repo.FindActiveTx(context.Background(), db, "student-1", true)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, models.CaseStatusNew, cases[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryGetLetterByCaseTxAbsent(t *testing.T) {
	db, mock, cleanup := newCaseMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectQuery("SELECT .+ FROM summon_letters WHERE case_id = \\$1").
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	letter, err := repo.GetLetterByCaseTx(context.Background(), db, "case-1")
	require.NoError(t, err)
	assert.Nil(t, letter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryCreateCaseTx(t *testing.T) {
	db, mock, cleanup := newCaseMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("INSERT INTO follow_up_cases").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	followUp := &models.FollowUpCase{
		StudentID: "student-1",
		Trigger:   "Terlambat masuk sekolah (occurrence 3)",
		Sanction:  "Teguran tertulis pertama",
		Status:    models.CaseStatusNew,
	}
	require.NoError(t, repo.CreateCaseTx(context.Background(), db, followUp))
	assert.NotEmpty(t, followUp.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryDeleteCaseTx(t *testing.T) {
	db, mock, cleanup := newCaseMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM summon_letters WHERE case_id = $1")).
		WithArgs("case-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM follow_up_cases WHERE id = $1")).
		WithArgs("case-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteCaseTx(context.Background(), db, "case-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryCreateLetterTx(t *testing.T) {
	db, mock, cleanup := newCaseMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("INSERT INTO summon_letters").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	letter := &models.SummonLetter{
		CaseID:       "case-1",
		LetterNumber: "SP/1/2026/AB12CD34",
		LetterLevel:  1,
		LetterDate:   time.Now(),
		MeetingDate:  time.Now(),
		MeetingTime:  "09:00",
	}
	require.NoError(t, letter.SetSupervisors([]models.SupervisorInfo{
		{Role: models.SupervisorHomeroom, Name: "Sri Wahyuni", IDLabel: "NIP 111"},
	}))
	require.NoError(t, repo.CreateLetterTx(context.Background(), db, letter))
	assert.NotEmpty(t, letter.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newCaseMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	approver := "principal-1"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE follow_up_cases SET status = $1, approver_id = COALESCE($2, approver_id), updated_at = $3 WHERE id = $4")).
		WithArgs("APPROVED", "principal-1", sqlmock.AnyArg(), "case-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "case-1", models.CaseStatusApproved, &approver)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryList(t *testing.T) {
	db, mock, cleanup := newCaseMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	rows := sqlmock.NewRows([]string{
		"id", "student_id", "trigger_description", "sanction", "status", "approver_id",
		"created_at", "updated_at", "student_name", "student_nis", "class_name",
	}).AddRow("case-1", "student-1", "Terlambat masuk sekolah (occurrence 3)", "Teguran tertulis pertama",
		"IN_PROGRESS", nil, time.Now(), time.Now(), "Budi Santoso", "12345", "XII RPL 1")
	mock.ExpectQuery("SELECT fc.id, fc.student_id").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM follow_up_cases fc")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT .+ FROM summon_letters WHERE case_id = \\$1").
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	cases, total, err := repo.List(context.Background(), models.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Budi Santoso", cases[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
