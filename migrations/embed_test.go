package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_EveryMigrationHasUpAndDown(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) < 2 {
		t.Fatalf("want migrations, got %v", names)
	}
	for _, n := range names {
		b, err := fs.ReadFile(FS, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		s := string(b)
		if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
			t.Fatalf("%s: missing goose annotations", n)
		}
	}
}
