package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dvloznov/s1a-ledger/internal/config"
	"github.com/dvloznov/s1a-ledger/internal/infra/sqlite"
)

var (
	dbPath = flag.String("db", "", "Path to the sqlite database (defaults to database.path from config)")
	steps  = flag.Int("steps", 1, "Number of migrations to roll back with 'down'")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [flags] up|down|status\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "status"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	if *dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		*dbPath = cfg.Database.Path
	}

	migrations, err := sqlite.Migrations()
	if err != nil {
		log.Fatalf("Failed to read migrations: %v", err)
	}
	log.Printf("Database: %s, %d migration files", *dbPath, len(migrations))

	var status sqlite.MigrationStatus
	switch command {
	case "up":
		status, err = sqlite.MigrateUp(*dbPath)
	case "down":
		status, err = sqlite.MigrateDown(*dbPath, *steps)
	case "status":
		status, err = sqlite.Status(*dbPath)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}

	for _, line := range describe(status, migrations) {
		fmt.Println(line)
	}

	if status.Dirty {
		log.Fatalf("Database is dirty at version %d; fix the schema by hand and force the version", status.Version)
	}
}

// describe renders one line per embedded migration, marking those at or below the current version as applied.
func describe(status sqlite.MigrationStatus, migrations []sqlite.Migration) []string {
	lines := make([]string, 0, len(migrations)+1)
	pending := 0
	for _, m := range migrations {
		state := "applied"
		if m.Version > status.Version {
			state = "pending"
			pending++
		} else if m.Version == status.Version && status.Dirty {
			state = "dirty"
		}
		lines = append(lines, fmt.Sprintf("%04d %-30s %-8s %s", m.Version, m.Name, state, m.Checksum[:12]))
	}
	lines = append(lines, fmt.Sprintf("Version %d, %d pending", status.Version, pending))
	return lines
}
