package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var selectFlag = regexp.QuoteMeta("SELECT * FROM `dpjob_flags` WHERE name = ? AND scope = ?")

func newMockStore(t *testing.T) (*FlagStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return NewFlagStoreFromDB(db), mock
}

func flagRows(value string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"name", "scope", "value", "updated_at"}).
		AddRow("f", "", value, nil)
}

func TestGetJSONString(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectFlag).
		WillReturnRows(flagRows(`{"all_queues":{"parallelism":2}}`))

	v, err := store.GetJSONString(context.Background(), "consumer_config")
	require.NoError(t, err)
	assert.Equal(t, `{"all_queues":{"parallelism":2}}`, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJSONStringMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectFlag).
		WillReturnRows(sqlmock.NewRows([]string{"name", "scope", "value", "updated_at"}))

	v, err := store.GetJSONString(context.Background(), "consumer_config")
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInt(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectFlag).
		WillReturnRows(flagRows(" 16 "))
	mock.ExpectQuery(selectFlag).
		WillReturnRows(flagRows("lots"))
	mock.ExpectQuery(selectFlag).
		WillReturnError(errors.New("connection reset"))

	n, err := store.GetInt(context.Background(), "consumer_concurrency", "orders")
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	_, err = store.GetInt(context.Background(), "consumer_concurrency", "emails")
	assert.Error(t, err)

	_, err = store.GetInt(context.Background(), "consumer_concurrency", "emails")
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}
