package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/Ephemera/internal/models"
)

func TestOpenSQLite_Migrates(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	for _, m := range models.All() {
		assert.True(t, db.Migrator().HasTable(m), "%T should be migrated", m)
	}
	assert.True(t, db.Migrator().HasColumn(&models.Group{}, "invite_code"))
	assert.True(t, db.Migrator().HasColumn(&models.Group{}, "absolute_expiry"))
}

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN("db", "5432", "u", "p", "ephemera")
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=ephemera sslmode=disable TimeZone=UTC", dsn)
}

func TestInitRedis_Unreachable(t *testing.T) {
	_, err := InitRedis("127.0.0.1", 1, "", 0, 1, 0)
	assert.Error(t, err)
}
