package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/store"
	"github.com/keydropio/keydrop/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(context.Background(), "")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformanceSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestSQLiteFilePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewSQLite(ctx, dir)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	k := &model.Key{Name: "durable", Token: "persist-me", Format: model.FormatHex, Length: 10,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), MaxUses: 1}
	if err := s.Create(ctx, k); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Consume(ctx, k.Token, now); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	s.Close()

	s, err = NewSQLite(ctx, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "persist-me")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.UsedCount != 1 || got.Name != "durable" {
		t.Errorf("after reopen = %+v", got)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, "oracle", "x"); err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("Open(oracle) err = %v, want unsupported driver", err)
	}
	if _, err := Open(ctx, "postgres", ""); err == nil {
		t.Error("Open with empty DSN should fail")
	}
}

func TestLookupDialect(t *testing.T) {
	tests := map[string]string{
		"sqlite":     "sqlite",
		"SQLite3":    "sqlite",
		"postgres":   "postgres",
		"postgresql": "postgres",
		"pgx":        "postgres",
		"mysql":      "mysql",
		"mariadb":    "mysql",
		"mssql":      "mssql",
		" sqlserver": "mssql",
	}
	for in, want := range tests {
		d, err := lookupDialect(in)
		if err != nil {
			t.Errorf("lookupDialect(%q): %v", in, err)
			continue
		}
		if d.name != want {
			t.Errorf("lookupDialect(%q) = %s, want %s", in, d.name, want)
		}
	}
	if got := Drivers(); fmt.Sprint(got) != "[mssql mysql postgres sqlite]" {
		t.Errorf("Drivers() = %v", got)
	}
}

func TestSelectKeys(t *testing.T) {
	tests := []struct {
		d     *dialect
		limit int
		want  string
	}{
		{sqliteDialect, 0, "SELECT " + keyColumns + " FROM access_keys WHERE token = ?"},
		{postgresDialect, 5, "SELECT " + keyColumns + " FROM access_keys WHERE token = ? ORDER BY id DESC LIMIT 5"},
		{mssqlDialect, 5, "SELECT TOP (5) " + keyColumns + " FROM access_keys WHERE token = ? ORDER BY id DESC"},
	}
	for _, tt := range tests {
		order := ""
		if tt.limit > 0 {
			order = "id DESC"
		}
		if got := tt.d.selectKeys("token = ?", order, tt.limit); got != tt.want {
			t.Errorf("%s: got\n%s\nwant\n%s", tt.d.name, got, tt.want)
		}
	}
}

func TestSearchWhereFoldsASCIIOnly(t *testing.T) {
	tests := []struct {
		d    *dialect
		want []string
	}{
		{sqliteDialect, []string{"LOWER(name) LIKE ?", "LOWER(token) LIKE ?"}},
		{postgresDialect, []string{"translate(name, '" + asciiUpper + "', '" + asciiLower + "') LIKE ?"}},
		{mysqlDialect, []string{"(name COLLATE utf8mb4_bin)", "(token COLLATE utf8mb4_bin)", "REPLACE("}},
		{mssqlDialect, []string{"TRANSLATE(name COLLATE Latin1_General_100_BIN2, '" + asciiUpper + "'"}},
	}
	for _, tt := range tests {
		where := tt.d.searchWhere()
		for _, want := range tt.want {
			if !strings.Contains(where, want) {
				t.Errorf("%s: search clause %q is missing %q", tt.d.name, where, want)
			}
		}
		if n := strings.Count(where, "?"); n != 3 {
			t.Errorf("%s: %d placeholders, want 3", tt.d.name, n)
		}
		if strings.Contains(strings.ToUpper(where), "LOWER(") && tt.d != sqliteDialect {
			t.Errorf("%s: LOWER folds beyond ASCII on this dialect", tt.d.name)
		}
	}

	if got := strings.Count(replaceFold("x"), "REPLACE("); got != len(asciiUpper) {
		t.Errorf("replaceFold nests %d REPLACE calls, want %d", got, len(asciiUpper))
	}
}

func TestInsertQuery(t *testing.T) {
	if q := postgresDialect.insertQuery(); !strings.HasSuffix(q, "RETURNING id") {
		t.Errorf("postgres insert = %q", q)
	}
	if q := mssqlDialect.insertQuery(); !strings.Contains(q, "OUTPUT INSERTED.id VALUES") {
		t.Errorf("mssql insert = %q", q)
	}
	if q := sqliteDialect.insertQuery(); strings.Contains(q, "RETURNING") || strings.Contains(q, "OUTPUT") {
		t.Errorf("sqlite insert = %q", q)
	}
}

func TestIsUnique(t *testing.T) {
	tests := []struct {
		d    *dialect
		err  error
		want bool
	}{
		{postgresDialect, fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), true},
		{postgresDialect, &pgconn.PgError{Code: "23514"}, false},
		{mysqlDialect, fmt.Errorf("exec: %w", &mysqldriver.MySQLError{Number: 1062}), true},
		{mysqlDialect, &mysqldriver.MySQLError{Number: 1213}, false},
		{mssqlDialect, mssql.Error{Number: 2627}, true},
		{mssqlDialect, fmt.Errorf("exec: %w", mssql.Error{Number: 2601}), true},
		{mssqlDialect, mssql.Error{Number: 1205}, false},
		{sqliteDialect, errors.New("constraint failed: UNIQUE constraint failed: access_keys.token (2067)"), true},
		{sqliteDialect, errors.New("database is locked"), false},
	}
	for i, tt := range tests {
		if got := tt.d.isUnique(tt.err); got != tt.want {
			t.Errorf("case %d (%s): isUnique = %v, want %v", i, tt.d.name, got, tt.want)
		}
	}
}

func TestSearchCapsRowsOnSQLite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		k := &model.Key{Name: "batch", Token: fmt.Sprintf("batch-%d", i), Format: model.FormatCustom,
			CreatedAt: now.Add(time.Duration(i) * time.Second), ExpiresAt: now.Add(time.Hour), MaxUses: 1}
		if err := s.Create(ctx, k); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	got, err := s.Search(ctx, "batch", 3, now)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 || got[0].Token != "batch-4" {
		t.Errorf("Search = %v", got)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := NewSQLite(context.Background(), "")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	s.Close()

	if err := s.Ping(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Ping on closed store: err = %v, want ErrUnavailable", err)
	}
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Get on closed store: err = %v, want ErrUnavailable", err)
	}
}
