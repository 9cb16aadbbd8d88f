package schema_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"baes_platform/baes_manager/schema"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDb(t *testing.T) *gorm.DB {
	dsn := "file:" + filepath.Join(t.TempDir(), "schema.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, schema.Migrate(db))
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openDb(t)

	require.NoError(t, schema.Migrate(db))

	for _, model := range schema.Models() {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
	assert.True(t, db.Migrator().HasTable("user_roles"))
	assert.True(t, db.Migrator().HasTable("user_sites"))

	require.NoError(t, schema.RollbackLast(db))
	assert.False(t, db.Migrator().HasTable(&schema.Carte{}))
}

func TestTranslateSqliteErrors(t *testing.T) {
	db := openDb(t)

	site := schema.Site{Name: "Site A"}
	require.NoError(t, db.Create(&site).Error)

	err := db.Create(&schema.Site{Name: "Site A"}).Error
	assert.ErrorIs(t, schema.TranslateDbError(err), schema.ErrUniqueViolation)
	assert.True(t, schema.IsConstraintViolation(err))

	err = db.Create(&schema.Etage{Name: "RDC", BatimentId: 42}).Error
	assert.ErrorIs(t, schema.TranslateDbError(err), schema.ErrForeignKeyViolation)

	baes := schema.Baes{Name: "BAES-1", Position: []byte(`{"x":1}`)}
	batiment := schema.Batiment{Name: "Bat"}
	require.NoError(t, db.Create(&batiment).Error)
	etage := schema.Etage{Name: "RDC", BatimentId: batiment.Id}
	require.NoError(t, db.Create(&etage).Error)
	baes.EtageId = etage.Id
	require.NoError(t, db.Create(&baes).Error)

	err = db.Create(&schema.HistoriqueErreur{BaesId: baes.Id, TypeErreur: "erreur_lampe"}).Error
	assert.ErrorIs(t, schema.TranslateDbError(err), schema.ErrCheckViolation)

	// Parents with children cannot be removed.
	err = db.Delete(&batiment).Error
	assert.ErrorIs(t, schema.TranslateDbError(err), schema.ErrForeignKeyViolation)
	assert.True(t, schema.IsConstraintViolation(err))
}

func TestTranslatePostgresErrors(t *testing.T) {
	cases := map[string]error{
		"23505": schema.ErrUniqueViolation,
		"23503": schema.ErrForeignKeyViolation,
		"23514": schema.ErrCheckViolation,
	}
	for code, expected := range cases {
		err := fmt.Errorf("query failed: %w", &pgconn.PgError{Code: code})
		assert.ErrorIs(t, schema.TranslateDbError(err), expected, code)
	}

	other := &pgconn.PgError{Code: "42P01"}
	assert.Equal(t, error(other), schema.TranslateDbError(other))

	assert.NoError(t, schema.TranslateDbError(nil))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, schema.TranslateDbError(plain))
	assert.False(t, schema.IsConstraintViolation(plain))
}

func TestGetters(t *testing.T) {
	db := openDb(t)

	_, err := schema.GetSite(1, db)
	assert.ErrorIs(t, err, schema.ErrSiteNotFound)

	_, err = schema.GetUser(1, db, true, true)
	assert.ErrorIs(t, err, schema.ErrUserNotFound)

	roles := []schema.Role{{Name: "admin"}, {Name: "user"}}
	require.NoError(t, db.Create(&roles).Error)

	user := schema.User{Login: "alice", Password: []byte("hash"), Roles: roles}
	require.NoError(t, db.Omit("Roles.*").Create(&user).Error)

	loaded, err := schema.GetUser(user.Id, db, true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "user"}, loaded.RoleNames())
	assert.Nil(t, loaded.Sites)

	found, err := schema.GetRolesByName([]string{"user", "unknown"}, db)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "user", found[0].Name)

	count, err := schema.CountWhere(db, &schema.Role{}, "name LIKE ?", "%")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	users, err := schema.ListUsers(db)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Len(t, users[0].Roles, 2)
	assert.Empty(t, users[0].Sites)
}
