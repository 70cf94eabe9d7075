package migrations

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUp(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if err := Up(db); err != nil {
		t.Errorf("second Up() error = %v", err)
	}

	for _, table := range []string{"messages", "pins", Table} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestCheck(t *testing.T) {
	db := openTestDB(t)

	st, err := Check(db)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if st.Current != 0 || st.Latest != 1 {
		t.Errorf("fresh status = %+v", st)
	}
	if err := st.Err(); err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("fresh Err() = %v", err)
	}

	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	st, err = Check(db)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if st.Current != st.Latest || st.Err() != nil {
		t.Errorf("migrated status = %+v, err = %v", st, st.Err())
	}
}

func TestStatus_Err(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want string
	}{
		{name: "current", st: Status{Current: 2, Latest: 2}},
		{name: "dirty", st: Status{Current: 2, Latest: 2, Dirty: true}, want: "dirty"},
		{name: "behind", st: Status{Current: 1, Latest: 3}, want: "2 migrations behind"},
		{name: "ahead", st: Status{Current: 4, Latest: 3}, want: "newer than this binary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.st.Err()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Err() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Err() = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLatestVersion(t *testing.T) {
	src, err := iofs.New(files, "files")
	if err != nil {
		t.Fatalf("iofs.New() error = %v", err)
	}
	defer src.Close()

	got, err := LatestVersion(src)
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if got != 1 {
		t.Errorf("LatestVersion() = %d, want 1", got)
	}
}
