package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"savitAPI/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up")
	if err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
	if err.Error() != "DATABASE_URL is not set" {
		t.Errorf("error = %q, want %q", err.Error(), "DATABASE_URL is not set")
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "sideways", "UP", "Down"} {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction)
			if err == nil {
				t.Fatalf("Run with direction %q should return error", direction)
			}
			if !strings.Contains(err.Error(), "direction must be up or down") {
				t.Errorf("error = %q, should mention direction", err.Error())
			}
		})
	}
}

func TestMigrationFS_PairsUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}

func TestMigrationFS_CreatesChallengeTables(t *testing.T) {
	b, err := fs.ReadFile(db.MigrationFS, "migrations/000001_challenges.up.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sql := string(b)
	for _, table := range []string{"challenges", "challenge_participation", "card_transactions", "challenge_notification_history", "challenge_batch_runs"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("up migration does not create %s", table)
		}
	}
}
