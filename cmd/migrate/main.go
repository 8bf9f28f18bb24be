// Command migrate applies the SQL files under migrations/ in lexical order.
// Applied files are recorded in schema_migrations so reruns are no-ops.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		listApplied(db)
		return
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		log.Fatalf("ensure schema_migrations: %v", err)
	}

	files, err := pendingFiles(db, dir)
	if err != nil {
		log.Fatal(err)
	}
	if len(files) == 0 {
		log.Println("Nothing to apply")
		return
	}

	applied := 0
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		// Each file applies in one transaction together with its ledger row,
		// so a failed migration leaves no partial record.
		tx, err := db.Begin()
		if err != nil {
			log.Fatalf("begin: %v", err)
		}
		if _, err := tx.Exec(string(data)); err != nil {
			tx.Rollback()
			fmt.Println("ERROR")
			log.Fatalf("apply %s: %v", f, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, f); err != nil {
			tx.Rollback()
			log.Fatalf("record %s: %v", f, err)
		}
		if err := tx.Commit(); err != nil {
			log.Fatalf("commit %s: %v", f, err)
		}
		fmt.Println("OK")
		applied++
	}
	log.Printf("Migrations complete: %d applied", applied)
}

// pendingFiles returns the .sql files in dir not yet recorded as applied,
// sorted by filename.
func pendingFiles(db *sql.DB, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	done := map[string]bool{}
	rows, err := db.Query(`SELECT filename FROM schema_migrations`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var f string
			rows.Scan(&f)
			done[f] = true
		}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") || done[e.Name()] {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func listApplied(db *sql.DB) {
	rows, err := db.Query(`SELECT filename, applied_at FROM schema_migrations ORDER BY filename`)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var f, at string
		rows.Scan(&f, &at)
		fmt.Printf("  %s  %s\n", f, at)
		n++
	}
	fmt.Printf("Total: %d applied\n", n)
}
