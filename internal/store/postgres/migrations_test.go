package postgres

import (
	"io/fs"
	"strings"
	"testing"
)

func TestDSNPrefersExplicitString(t *testing.T) {
	cfg := ClientConfig{DSN: "postgres://u:p@db:6543/x", Host: "ignored"}
	if got := DSN(cfg); got != cfg.DSN {
		t.Fatalf("DSN = %q", got)
	}
}

func TestDSNDefaults(t *testing.T) {
	got := DSN(ClientConfig{Host: "localhost", Database: "pairbot", User: "bot", Password: "pw"})
	want := "postgres://bot:pw@localhost:5432/pairbot?sslmode=disable"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

func TestMigrationsCreateLedgerTable(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range entries {
		data, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS pair_positions") {
			found = true
		}
	}
	if !found {
		t.Fatal("no migration creates pair_positions")
	}
}
