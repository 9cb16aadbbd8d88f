package seed_test

import (
	"os"
	"path/filepath"
	"testing"

	"baes_platform/baes_manager/auth"
	"baes_platform/baes_manager/schema"
	"baes_platform/baes_manager/seed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDb(t *testing.T) *gorm.DB {
	dsn := "file:" + filepath.Join(t.TempDir(), "seed.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, schema.Migrate(db))
	return db
}

func TestApplyDefaultsIsIdempotent(t *testing.T) {
	db := openDb(t)

	require.NoError(t, seed.Apply(db, seed.DefaultData()))
	require.NoError(t, seed.Apply(db, seed.DefaultData()))

	var roles int64
	require.NoError(t, db.Model(&schema.Role{}).Count(&roles).Error)
	assert.Equal(t, int64(4), roles)

	users, err := schema.ListUsers(db)
	require.NoError(t, err)
	require.Len(t, users, 4)

	logins := map[string][]string{}
	for _, user := range users {
		logins[user.Login] = user.RoleNames()
	}
	assert.Equal(t, []string{"super-admin"}, logins["superadmin"])
	assert.Equal(t, []string{"technicien"}, logins["technicien"])

	var admin schema.User
	require.NoError(t, db.First(&admin, "login = ?", "admin").Error)
	assert.NotEqual(t, []byte("admin_password"), admin.Password)
	assert.NoError(t, auth.CheckPassword(admin.Password, "admin_password"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `
roles: [lecteur, gestionnaire]
users:
  - login: alice
    password: alice_password
    roles: [gestionnaire, inconnu]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0666))

	data, err := seed.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"lecteur", "gestionnaire"}, data.Roles)
	require.Len(t, data.Users, 1)

	db := openDb(t)
	require.NoError(t, seed.Apply(db, data))

	users, err := schema.ListUsers(db)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, []string{"gestionnaire"}, users[0].RoleNames())
}

func TestLoadFileRejectsIncompleteUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - login: bob\n"), 0666))

	_, err := seed.LoadFile(path)
	assert.Error(t, err)
}
