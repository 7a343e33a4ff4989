package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsrun/internal/domain/entity"
	pg "newsrun/internal/storage/postgres"
)

func TestTaskRepo_Create(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	task := &entity.TaskRecord{ID: "t1", Name: "scan_source", Queue: entity.QueueNormal, Priority: 5}
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks")).
		WillReturnRows(sqlmock.NewRows([]string{"submitted_at"}).AddRow(time.Now()))

	repo := pg.NewTaskRepo(db)
	err := repo.Create(context.Background(), task)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepo_Create_RejectsInvalid(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	repo := pg.NewTaskRepo(db)
	err := repo.Create(context.Background(), &entity.TaskRecord{Queue: entity.QueueNormal, Priority: 5})
	require.Error(t, err)
}

func TestTaskRepo_Get_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("missing").
		WillReturnError(sqlmock.ErrCancelled)

	repo := pg.NewTaskRepo(db)
	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestTaskRepo_Claim(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET state = 'running'")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := pg.NewTaskRepo(db)
	claimed, err := repo.Claim(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestTaskRepo_Claim_LostRace(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET state = 'running'")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := pg.NewTaskRepo(db)
	claimed, err := repo.Claim(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestTaskRepo_Cancel_AlreadyTerminalNoOps(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET state = 'cancelled'")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := pg.NewTaskRepo(db)
	cancelled, err := repo.Cancel(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, cancelled)
}
