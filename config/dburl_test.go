package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		host string
		port int
	}{
		{"jdbc postgresql", "jdbc:postgresql://db.example.com:5432/gitforge", "db.example.com", 5432},
		{"postgres without jdbc", "postgres://10.0.0.5:6543/gitforge?sslmode=disable", "10.0.0.5", 6543},
		{"postgres default port", "jdbc:postgresql://db/gitforge", "db", 5432},
		{"mysql", "jdbc:mysql://mysql.internal:3306/gitforge?useSSL=false", "mysql.internal", 3306},
		{"mariadb", "jdbc:mariadb://maria:3307/gitforge", "maria", 3307},
		{"mysql ipv6", "jdbc:mysql://[::1]:3306/gitforge", "::1", 3306},
		{"sqlserver", "jdbc:sqlserver://mssql:1433;databaseName=gitforge", "mssql", 1433},
		{"oracle service", "jdbc:oracle:thin:@ora.example.com:1521/ORCLPDB", "ora.example.com", 1521},
		{"oracle sid", "jdbc:oracle:thin:@ora:1522:ORCL", "ora", 1522},
		{"oracle bare", "jdbc:oracle:thin:@ora:1523", "ora", 1523},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseDatabaseURL(tt.raw)
			require.NoError(t, err)
			assert.False(t, u.Embedded)
			assert.Equal(t, tt.host, u.Host)
			assert.Equal(t, tt.port, u.Port)
		})
	}
}

func TestParseDatabaseURL_Embedded(t *testing.T) {
	for _, raw := range []string{
		"badger:/var/lib/gitforge/db",
		"sqlite:/var/lib/gitforge/gitforge.db",
		"memory:",
		"jdbc:hsqldb:file:/opt/gitforge/db",
		"jdbc:h2:./data/gitforge",
	} {
		u, err := ParseDatabaseURL(raw)
		require.NoError(t, err, raw)
		assert.True(t, u.Embedded, raw)
		assert.Empty(t, u.Host, raw)
	}

	u, err := ParseDatabaseURL("badger:/var/lib/gitforge/db")
	require.NoError(t, err)
	assert.Equal(t, "badger", u.Dialect)
	assert.Equal(t, "/var/lib/gitforge/db", u.Location)
}

func TestParseDatabaseURL_Rejected(t *testing.T) {
	t.Run("unknown dialect", func(t *testing.T) {
		_, err := ParseDatabaseURL("jdbc:db2://db:50000/gitforge")
		require.ErrorIs(t, err, ErrUnsupportedDialect)
	})

	malformed := []string{
		"",
		"no-dialect",
		"jdbc:mysql:db:3306/gitforge",
		"jdbc:mysql://db/gitforge",
		"jdbc:mysql://db:port/gitforge",
		"jdbc:mysql://:3306/gitforge",
		"jdbc:sqlserver://mssql:99999;databaseName=x",
		"jdbc:oracle:thin:ora:1521/ORCL",
		"jdbc:oracle:thin:@ora",
		"jdbc:postgresql:gitforge",
	}
	for _, raw := range malformed {
		_, err := ParseDatabaseURL(raw)
		assert.ErrorIs(t, err, ErrMalformedDatabaseURL, raw)
	}
}
