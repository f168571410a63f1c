// Command authctl creates accounts directly against the database, e.g. the
// first admin. It reads the same configuration as the server.
//
//	authctl -email admin@example.com -role admin [-first Ada] [-last Lovelace] [server flags]
package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/gophauth/internal/server"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
)

func main() {

	ctx := context.Background()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	db, err := server.OpenDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		log.Fatalf("%v", err)
	}

	us, err := server.NewUserService(db, rm, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := createUser(ctx, us, opts, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}

}
