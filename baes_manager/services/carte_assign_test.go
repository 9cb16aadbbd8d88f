package services

import (
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"baes_platform/baes_manager/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openUncheckedDb returns a database where check constraints are not enforced, so that
// cartes without an owner can be inserted. Uploads never produce such rows.
func openUncheckedDb(t *testing.T) *gorm.DB {
	dsn := "file:" + filepath.Join(t.TempDir(), "assign.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDb, err := db.DB()
	require.NoError(t, err)
	// The pragma is per connection.
	sqlDb.SetMaxOpenConns(1)

	require.NoError(t, schema.Migrate(db))
	require.NoError(t, db.Exec("PRAGMA ignore_check_constraints = ON").Error)
	return db
}

type assignFixture struct {
	site  schema.Site
	etage schema.Etage
}

func createAssignFixture(t *testing.T, db *gorm.DB) assignFixture {
	site := schema.Site{Name: "Site A"}
	require.NoError(t, db.Create(&site).Error)
	batiment := schema.Batiment{Name: "Bat", SiteId: &site.Id}
	require.NoError(t, db.Create(&batiment).Error)
	etage := schema.Etage{Name: "RDC", BatimentId: batiment.Id}
	require.NoError(t, db.Create(&etage).Error)
	return assignFixture{site: site, etage: etage}
}

func runAssign(db *gorm.DB, carteId uint, target carteTarget) error {
	return db.Transaction(func(txn *gorm.DB) error {
		return assignCarte(txn, carteId, target)
	})
}

func TestAssignUnassignedCarte(t *testing.T) {
	db := openUncheckedDb(t)
	fixture := createAssignFixture(t, db)

	first := schema.Carte{Chemin: "cartes/first.png"}
	require.NoError(t, db.Create(&first).Error)
	second := schema.Carte{Chemin: "cartes/second.png"}
	require.NoError(t, db.Create(&second).Error)

	require.NoError(t, runAssign(db, first.Id, etageTarget(fixture.etage.Id)))

	stored, err := schema.GetCarte(first.Id, db)
	require.NoError(t, err)
	require.NotNil(t, stored.EtageId)
	assert.Equal(t, fixture.etage.Id, *stored.EtageId)
	assert.Nil(t, stored.SiteId)

	err = runAssign(db, first.Id, siteTarget(fixture.site.Id))
	assert.ErrorIs(t, err, ErrCarteAlreadyAssigned)
	assert.Equal(t, http.StatusBadRequest, GetResponseCode(err))

	// The first assignment is left as is.
	stored, err = schema.GetCarte(first.Id, db)
	require.NoError(t, err)
	assert.Nil(t, stored.SiteId)

	err = runAssign(db, second.Id, etageTarget(fixture.etage.Id))
	assert.Equal(t, http.StatusConflict, GetResponseCode(err))
	assert.Equal(t, "Une carte est déjà assignée à cet étage", err.Error())

	require.NoError(t, runAssign(db, second.Id, siteTarget(fixture.site.Id)))

	found, err := findAssignedCarte(db, siteTarget(fixture.site.Id))
	require.NoError(t, err)
	assert.Equal(t, second.Id, found.Id)

	err = runAssign(db, second.Id+10, siteTarget(fixture.site.Id))
	assert.ErrorIs(t, err, schema.ErrCarteNotFound)
	assert.Equal(t, http.StatusNotFound, GetResponseCode(err))
}

func TestDeleteRowBlockedByForeignKey(t *testing.T) {
	db := openUncheckedDb(t)
	fixture := createAssignFixture(t, db)

	// Skips the application level child check, the database still refuses.
	err := db.Transaction(func(txn *gorm.DB) error {
		return deleteRow(txn, &fixture.etage, "etages")
	})
	require.NoError(t, err, "etage without children can be removed")

	var batiment schema.Batiment
	require.NoError(t, db.First(&batiment).Error)
	etage := schema.Etage{Name: "R+1", BatimentId: batiment.Id}
	require.NoError(t, db.Create(&etage).Error)

	err = db.Transaction(func(txn *gorm.DB) error {
		return deleteRow(txn, &batiment, "batiments")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidReference))
	assert.Equal(t, http.StatusConflict, GetResponseCode(err))
}
