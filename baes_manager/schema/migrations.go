package schema

import (
	"fmt"
	"log/slog"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func initialSchema(txn *gorm.DB) error {
	return txn.AutoMigrate(Models()...)
}

// migrations are applied in order, new entries must only ever be appended.
func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID:      "1_initial_schema",
			Migrate: initialSchema,
			Rollback: func(txn *gorm.DB) error {
				return txn.Migrator().DropTable("user_roles", "user_sites", &User{}, &Role{}, &HistoriqueErreur{}, &Baes{}, &Carte{}, &Etage{}, &Batiment{}, &Site{})
			},
		},
	}
}

func Migrate(db *gorm.DB) error {
	migration := gormigrate.New(db, gormigrate.DefaultOptions, migrations())

	migration.InitSchema(func(txn *gorm.DB) error {
		slog.Info("clean database detected, running full schema initialization")
		return initialSchema(txn)
	})

	if err := migration.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

func RollbackLast(db *gorm.DB) error {
	migration := gormigrate.New(db, gormigrate.DefaultOptions, migrations())
	if err := migration.RollbackLast(); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}
