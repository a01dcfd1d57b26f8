package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (SettingsRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSettingsRepository(db), mock
}

func TestGet_UserValueWins(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM user_settings WHERE user_id = \? AND setting_key = \?.+UNION ALL.+FROM system_settings.+ORDER BY priority LIMIT 1`).
		WithArgs(int64(4), KeyTwoFAForceEnrollment, KeyTwoFAForceEnrollment).
		WillReturnRows(sqlmock.NewRows([]string{"setting_value", "priority"}).AddRow("true", 0))

	v, ok, err := repo.Get(context.Background(), 4, KeyTwoFAForceEnrollment)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestGet_MissingKey(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`^SELECT setting_value FROM system_settings WHERE setting_key = \?$`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"setting_value"}))

	v, ok, err := repo.Get(context.Background(), 0, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestSetUserValues_SingleTransaction(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^INSERT INTO user_settings`).
		WithArgs(int64(1), KeyTwoFABackupCodes, "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT INTO user_settings`).
		WithArgs(int64(1), KeyTwoFAEnabled, "true").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT INTO user_settings`).
		WithArgs(int64(1), KeyTwoFASecret, "SECRET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SetUserValues(context.Background(), 1, map[string]string{
		KeyTwoFAEnabled:     "true",
		KeyTwoFASecret:      "SECRET",
		KeyTwoFABackupCodes: "[]",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUserValues_RollsBackOnFailure(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^INSERT INTO user_settings`).
		WithArgs(int64(1), KeyTwoFAEnabled, "true").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT INTO user_settings`).
		WithArgs(int64(1), KeyTwoFASecret, "SECRET").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SetUserValues(context.Background(), 1, map[string]string{
		KeyTwoFAEnabled: "true",
		KeyTwoFASecret:  "SECRET",
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserValues_OneStatement(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`^DELETE FROM user_settings WHERE user_id = \? AND setting_key IN \(\?, \?, \?\)$`).
		WithArgs(int64(2), KeyTwoFAEnabled, KeyTwoFASecret, KeyTwoFABackupCodes).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.DeleteUserValues(context.Background(), 2, TwoFactorKeys...))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserValues(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT setting_key, setting_value FROM user_settings\s+WHERE user_id = \? AND setting_key IN \(\?, \?\)$`).
		WithArgs(int64(2), KeyTwoFAEnabled, KeyTwoFASecret).
		WillReturnRows(sqlmock.NewRows([]string{"setting_key", "setting_value"}).AddRow(KeyTwoFAEnabled, "true"))

	got, err := repo.GetUserValues(context.Background(), 2, KeyTwoFAEnabled, KeyTwoFASecret)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{KeyTwoFAEnabled: "true"}, got)
}

func TestUpdateUserValue_LocksAndWrites(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE$`).
		WithArgs(int64(3), KeyTwoFABackupCodes).
		WillReturnRows(sqlmock.NewRows([]string{"setting_value"}).AddRow(`["a","b"]`))
	mock.ExpectExec(`(?s)^INSERT INTO user_settings`).
		WithArgs(int64(3), KeyTwoFABackupCodes, `["b"]`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.UpdateUserValue(context.Background(), 3, KeyTwoFABackupCodes, func(cur string, found bool) (string, error) {
		assert.True(t, found)
		assert.Equal(t, `["a","b"]`, cur)
		return `["b"]`, nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserValue_CallbackErrorWritesNothing(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	errNoMatch := errors.New("no match")

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE$`).
		WillReturnRows(sqlmock.NewRows([]string{"setting_value"}).AddRow(`["a"]`))
	mock.ExpectRollback()

	err := repo.UpdateUserValue(context.Background(), 3, KeyTwoFABackupCodes, func(string, bool) (string, error) {
		return "", errNoMatch
	})
	assert.ErrorIs(t, err, errNoMatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}
