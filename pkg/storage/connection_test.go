package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "whitespace and empty entries",
			input:    " postgres://host1/db ,, postgres://host2/db ,",
			expected: []string{"postgres://host1/db", "postgres://host2/db"},
		},
		{name: "only separators", input: " , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestNewConnectionManager_SQLiteMemory(t *testing.T) {
	cm, err := NewConnectionManager(ConnectionConfig{
		Driver:     DriverSQLite,
		PrimaryURL: "file::memory:?cache=shared",
		MaxConns:   10,
	})
	require.NoError(t, err)
	defer cm.Close()

	assert.Equal(t, 1, cm.Primary().Stats().MaxOpenConnections)
	assert.Equal(t, cm.Primary(), cm.Replica(), "reads fall back to the primary without replicas")
	assert.NoError(t, cm.HealthCheck(context.Background()))
}

func TestNewConnectionManager_UnreachablePrimary(t *testing.T) {
	cm, err := NewConnectionManager(ConnectionConfig{
		PrimaryURL: "postgres://nonexistent:9999/gatekeeper?connect_timeout=1&sslmode=disable",
		Timeout:    2 * time.Second,
	})
	assert.Error(t, err)
	assert.Nil(t, cm)
	assert.Contains(t, err.Error(), "failed to ping primary")
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("round-robin across replicas", func(t *testing.T) {
		replica1 := &sql.DB{}
		replica2 := &sql.DB{}
		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1, replica2},
		}

		selections := make(map[*sql.DB]int)
		for i := 0; i < 20; i++ {
			selections[cm.Replica()]++
		}

		assert.Equal(t, 10, selections[replica1])
		assert.Equal(t, 10, selections[replica2])
	})

	t.Run("Reader rotates per query", func(t *testing.T) {
		primary, primaryMock, err := sqlmock.New()
		require.NoError(t, err)
		defer primary.Close()
		replica1, mock1, err := sqlmock.New()
		require.NoError(t, err)
		defer replica1.Close()
		replica2, mock2, err := sqlmock.New()
		require.NoError(t, err)
		defer replica2.Close()

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica1, replica2}}
		reader := cm.Reader()

		for _, mock := range []sqlmock.Sqlmock{mock2, mock1} {
			mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
		}
		primaryMock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 1))

		ctx := context.Background()
		for i := 0; i < 2; i++ {
			var n int
			require.NoError(t, reader.QueryRowContext(ctx, "SELECT 1").Scan(&n))
		}
		_, err = reader.ExecContext(ctx, "DELETE FROM t")
		require.NoError(t, err)

		assert.NoError(t, mock1.ExpectationsWereMet())
		assert.NoError(t, mock2.ExpectationsWereMet())
		assert.NoError(t, primaryMock.ExpectationsWereMet())
	})

	t.Run("AllReplicas returns a copy", func(t *testing.T) {
		replica := &sql.DB{}
		cm := &ConnectionManager{replicas: []*sql.DB{replica}}

		first := cm.AllReplicas()
		first[0] = &sql.DB{}

		assert.Equal(t, replica, cm.AllReplicas()[0])
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("unhealthy primary", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primaryDB.Close()

		primaryMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: primaryDB}
		err = cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("one replica down is tolerated", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primaryDB.Close()
		replicaDB, replicaMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replicaDB.Close()
		downDB, downMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer downDB.Close()

		primaryMock.ExpectPing()
		replicaMock.ExpectPing()
		downMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{replicaDB, downDB}}
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("all replicas down", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primaryDB.Close()
		downDB, downMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer downDB.Close()

		primaryMock.ExpectPing()
		downMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{downDB}}
		err = cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy")
	})
}

func TestConnectionManager_Stats(t *testing.T) {
	primaryDB, _, err := sqlmock.New()
	require.NoError(t, err)
	replicaDB, _, err := sqlmock.New()
	require.NoError(t, err)

	cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{replicaDB}}
	stats := cm.Stats()
	assert.Len(t, stats.Replicas, 1)

	assert.NoError(t, cm.Close())
	assert.Empty(t, cm.AllReplicas())
}
