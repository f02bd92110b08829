package migrate

import (
	"strings"
	"testing"
)

func TestMigrationFiles_SortedAndComplete(t *testing.T) {
	files, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	want := []string{"0001_profiles.sql", "0002_credentials.sql", "0003_auth_logs.sql", "0004_is_admin.sql"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected migrations %v", files)
	}
	for _, f := range files {
		b, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil || len(strings.TrimSpace(string(b))) == 0 {
			t.Fatalf("migration %s unreadable or empty: %v", f, err)
		}
	}
}

func TestVersion(t *testing.T) {
	if got := version("0003_auth_logs.sql"); got != "0003_auth_logs" {
		t.Fatalf("unexpected version %q", got)
	}
}
