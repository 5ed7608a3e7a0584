package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/model"
)

func TestDesignRepository_Create(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDesignRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `designs`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), &model.Design{
		ID: "d1", UserID: "u1", Name: "Hoodie", JSONPayload: "{}", CreatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDesignRepository_GetByID_NotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDesignRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `designs` WHERE id = \\?").
		WithArgs("d404", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "d404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDesignRepository_List(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDesignRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `designs` ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "json_payload"}).
			AddRow("d1", "u1", "Hoodie", "{}").
			AddRow("d2", "u1", "Tee", `{"color":"red"}`))

	designs, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, designs, 2)
	assert.Equal(t, `{"color":"red"}`, designs[1].JSONPayload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryDesignRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDesignRepository()

	d := &model.Design{ID: "d1", UserID: "u1", Name: "Hoodie", JSONPayload: "{}", CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, d))
	assert.ErrorIs(t, repo.Create(ctx, d), ErrDuplicateKey)

	got, err := repo.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Hoodie", got.Name)

	_, err = repo.GetByID(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
