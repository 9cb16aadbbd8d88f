package schema

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ErreurConnexion = "erreur_connexion"
	ErreurBatterie  = "erreur_batterie"
)

var ErrorTypes = []string{ErreurConnexion, ErreurBatterie}

// Foreign keys are declared on the owned side only and use ON DELETE RESTRICT: removing a
// parent that still has children fails instead of cascading.

type Site struct {
	Id   uint   `gorm:"primaryKey"`
	Name string `gorm:"unique;size:50;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Batiment struct {
	Id            uint           `gorm:"primaryKey"`
	Name          string         `gorm:"size:50;not null"`
	PolygonPoints datatypes.JSON `gorm:"column:polygon_points"`

	SiteId *uint `gorm:"index"`
	Site   *Site `gorm:"constraint:OnDelete:RESTRICT"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Etage struct {
	Id   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100;not null"`

	BatimentId uint      `gorm:"not null;index"`
	Batiment   *Batiment `gorm:"constraint:OnDelete:RESTRICT"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Carte is a plan image attached to exactly one Etage or one Site.
type Carte struct {
	Id     uint   `gorm:"primaryKey"`
	Chemin string `gorm:"size:255;not null"`

	EtageId *uint `gorm:"unique;check:ck_carte_one_relation,(etage_id IS NOT NULL AND site_id IS NULL) OR (etage_id IS NULL AND site_id IS NOT NULL)"`
	SiteId  *uint `gorm:"unique"`

	Etage *Etage `gorm:"constraint:OnDelete:RESTRICT"`
	Site  *Site  `gorm:"constraint:OnDelete:RESTRICT"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Carte) Assigned() bool {
	return c.EtageId != nil || c.SiteId != nil
}

type Baes struct {
	Id       uint           `gorm:"primaryKey"`
	Name     string         `gorm:"unique;size:50;not null"`
	Position datatypes.JSON `gorm:"not null"`

	EtageId uint   `gorm:"not null;index"`
	Etage   *Etage `gorm:"constraint:OnDelete:RESTRICT"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Baes) TableName() string { return "baes" }

type HistoriqueErreur struct {
	Id uint `gorm:"primaryKey"`

	BaesId uint  `gorm:"not null;index"`
	Baes   *Baes `gorm:"constraint:OnDelete:RESTRICT"`

	TypeErreur string    `gorm:"size:50;not null;check:ck_type_erreur,type_erreur IN ('erreur_connexion', 'erreur_batterie')"`
	Timestamp  time.Time `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (HistoriqueErreur) TableName() string { return "historique_erreur" }

func (h *HistoriqueErreur) BeforeCreate(txn *gorm.DB) error {
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	return nil
}

type Role struct {
	Id   uint   `gorm:"primaryKey"`
	Name string `gorm:"unique;size:50;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	Id       uint   `gorm:"primaryKey"`
	Login    string `gorm:"unique;size:50;not null"`
	Password []byte `gorm:"not null"`

	Roles []Role `gorm:"many2many:user_roles;constraint:OnDelete:CASCADE"`
	Sites []Site `gorm:"many2many:user_sites;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		names = append(names, role.Name)
	}
	return names
}

// Models lists every table in dependency order, used by migrations and tests.
func Models() []interface{} {
	return []interface{}{
		&Site{}, &Batiment{}, &Etage{}, &Carte{}, &Baes{}, &HistoriqueErreur{},
		&Role{}, &User{},
	}
}
