package schema

import (
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Messages are returned to clients verbatim.
var (
	ErrSiteNotFound     = errors.New("Site non trouvé")
	ErrBatimentNotFound = errors.New("Bâtiment non trouvé")
	ErrEtageNotFound    = errors.New("Étage non trouvé")
	ErrCarteNotFound    = errors.New("Carte non trouvée")
	ErrBaesNotFound     = errors.New("BAES non trouvé")
	ErrErreurNotFound   = errors.New("Erreur non trouvée")
	ErrRoleNotFound     = errors.New("Rôle non trouvé")
	ErrUserNotFound     = errors.New("Utilisateur non trouvé")
	ErrDbAccessFailed   = errors.New("Erreur d'accès à la base de données")
)

func getById[T any](txn *gorm.DB, id uint, notFound error, table string, lock bool) (T, error) {
	var row T

	query := txn
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	result := query.First(&row, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return row, notFound
		}
		slog.Error("sql error in get by id", "table", table, "id", id, "error", result.Error)
		return row, ErrDbAccessFailed
	}

	return row, nil
}

func GetSite(siteId uint, db *gorm.DB) (Site, error) {
	return getById[Site](db, siteId, ErrSiteNotFound, "sites", false)
}

func GetBatiment(batimentId uint, db *gorm.DB) (Batiment, error) {
	return getById[Batiment](db, batimentId, ErrBatimentNotFound, "batiments", false)
}

func GetEtage(etageId uint, db *gorm.DB) (Etage, error) {
	return getById[Etage](db, etageId, ErrEtageNotFound, "etages", false)
}

func GetCarte(carteId uint, db *gorm.DB) (Carte, error) {
	return getById[Carte](db, carteId, ErrCarteNotFound, "cartes", false)
}

// GetCarteForUpdate takes a row lock on the carte for the rest of the transaction. Dialects
// without row locking (sqlite) ignore the clause and serialize writers on the database instead.
func GetCarteForUpdate(carteId uint, txn *gorm.DB) (Carte, error) {
	return getById[Carte](txn, carteId, ErrCarteNotFound, "cartes", true)
}

func GetBaes(baesId uint, db *gorm.DB) (Baes, error) {
	return getById[Baes](db, baesId, ErrBaesNotFound, "baes", false)
}

func GetErreur(erreurId uint, db *gorm.DB) (HistoriqueErreur, error) {
	return getById[HistoriqueErreur](db, erreurId, ErrErreurNotFound, "historique_erreur", false)
}

func GetRole(roleId uint, db *gorm.DB) (Role, error) {
	return getById[Role](db, roleId, ErrRoleNotFound, "roles", false)
}

func GetUser(userId uint, db *gorm.DB, loadRoles, loadSites bool) (User, error) {
	query := db
	if loadRoles {
		query = query.Preload("Roles", orderById("roles"))
	}
	if loadSites {
		query = query.Preload("Sites", orderById("sites"))
	}
	return getById[User](query, userId, ErrUserNotFound, "users", false)
}

func orderById(table string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(table + ".id")
	}
}

// ListUsers loads every user with roles and sites.
func ListUsers(db *gorm.DB) ([]User, error) {
	users := make([]User, 0)
	result := db.Preload("Roles", orderById("roles")).Preload("Sites", orderById("sites")).Order("id").Find(&users)
	if result.Error != nil {
		slog.Error("sql error listing users", "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	return users, nil
}

func GetRolesByName(names []string, db *gorm.DB) ([]Role, error) {
	roles := make([]Role, 0)
	if len(names) == 0 {
		return roles, nil
	}

	result := db.Where("name IN ?", names).Order("id").Find(&roles)
	if result.Error != nil {
		slog.Error("sql error looking up roles by name", "names", names, "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	return roles, nil
}

// CountWhere returns the number of rows of model matching the condition.
func CountWhere(db *gorm.DB, model interface{}, query string, args ...interface{}) (int64, error) {
	var count int64
	result := db.Model(model).Where(query, args...).Count(&count)
	if result.Error != nil {
		slog.Error("sql error counting rows", "query", query, "error", result.Error)
		return 0, ErrDbAccessFailed
	}
	return count, nil
}
