package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"strings"

	"baes_platform/baes_manager/schema"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func postgresDsn(uri string) string {
	parts, err := url.Parse(uri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func main() {
	dbUri := flag.String("db_uri", "", "Postgres uri of the database to migrate")
	rollback := flag.Bool("rollback", false, "Undo the last applied migration instead of migrating")

	flag.Parse()

	if *dbUri == "" {
		log.Fatalf("--db_uri must be specified")
	}

	db, err := gorm.Open(postgres.Open(postgresDsn(*dbUri)), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	if *rollback {
		if err := schema.RollbackLast(db); err != nil {
			log.Fatalf("%v", err)
		}
		slog.Info("rolled back last migration")
		return
	}

	if err := schema.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}
	slog.Info("database migrated")
}
