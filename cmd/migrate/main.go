// Command migrate applies or rolls back the postgres schema.
package main

import (
	"database/sql"
	"flag"
	"os"

	"credpool-go/internal/migrations"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("CREDPOOL_POSTGRES_DSN"), "PostgreSQL DSN")
	down := flag.Int("down", 0, "Roll back N migrations instead of migrating up")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("a postgres DSN is required (-dsn or CREDPOOL_POSTGRES_DSN)")
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	if *down > 0 {
		if err := migrations.PostgresDown(db, *down); err != nil {
			log.WithError(err).Fatal("rollback failed")
		}
		log.WithField("steps", *down).Info("rollback complete")
		return
	}

	if err := migrations.PostgresUp(db); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	log.Info("migrations applied")
}
