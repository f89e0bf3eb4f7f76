package sqlstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// insertStyle is how a dialect reports the generated id of a new row.
type insertStyle int

const (
	lastInsertID insertStyle = iota // sql.Result.LastInsertId
	returningID                     // INSERT ... RETURNING id
	outputID                        // INSERT ... OUTPUT INSERTED.id VALUES ...
)

// dialect captures everything that differs between the supported databases.
// Query text is written with '?' placeholders and rebound by sqlx.
type dialect struct {
	name       string
	driverName string
	schema     []string
	insert     insertStyle
	top        bool // SELECT TOP (n) instead of LIMIT n
	singleConn bool
	isUnique   func(error) bool
	// fold lowercases the ASCII letters of a text column and yields an
	// expression LIKE compares case-sensitively. Non-ASCII runes pass
	// through unchanged, matching store.FoldASCII.
	fold func(col string) string
}

// ---------------------------------------------------------------------------
// Dialect registry
// ---------------------------------------------------------------------------

var dialects = map[string]*dialect{
	"sqlite":   sqliteDialect,
	"postgres": postgresDialect,
	"mysql":    mysqlDialect,
	"mssql":    mssqlDialect,
}

var aliases = map[string]string{
	"sqlite3":    "sqlite",
	"postgresql": "postgres",
	"pgx":        "postgres",
	"mariadb":    "mysql",
	"sqlserver":  "mssql",
}

// Drivers returns the canonical names of the supported SQL drivers.
func Drivers() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookupDialect resolves a configured driver name, accepting common aliases.
func lookupDialect(name string) (*dialect, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s (available: %v)", name, Drivers())
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

var sqliteDialect = &dialect{
	name:       "sqlite",
	driverName: "sqlite",
	insert:     lastInsertID,
	singleConn: true, // SQLite doesn't support concurrent writes
	// Built-in LOWER and LIKE only know ASCII case without ICU.
	fold: func(col string) string { return "LOWER(" + col + ")" },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS access_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL UNIQUE,
			format TEXT NOT NULL DEFAULT 'bash',
			length INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL,
			used_count INTEGER NOT NULL DEFAULT 0,
			max_uses INTEGER NOT NULL DEFAULT 1,
			CHECK (used_count >= 0 AND used_count <= max_uses)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_keys_expires ON access_keys(expires_at_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_access_keys_created ON access_keys(created_at_ms)`,
	},
	isUnique: func(err error) bool {
		var se *sqlite.Error
		if errors.As(err, &se) && (se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return true
		}
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// ---------------------------------------------------------------------------
// PostgreSQL (pgx)
// ---------------------------------------------------------------------------

var postgresDialect = &dialect{
	name:       "postgres",
	driverName: "pgx",
	insert:     returningID,
	fold: func(col string) string {
		return "translate(" + col + ", '" + asciiUpper + "', '" + asciiLower + "')"
	},
	schema: []string{
		`CREATE TABLE IF NOT EXISTS access_keys (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL UNIQUE,
			format TEXT NOT NULL DEFAULT 'bash',
			length INTEGER NOT NULL DEFAULT 0,
			created_at_ms BIGINT NOT NULL,
			expires_at_ms BIGINT NOT NULL,
			used_count INTEGER NOT NULL DEFAULT 0,
			max_uses INTEGER NOT NULL DEFAULT 1,
			CHECK (used_count >= 0 AND used_count <= max_uses)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_keys_expires ON access_keys(expires_at_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_access_keys_created ON access_keys(created_at_ms)`,
	},
	isUnique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
	},
}

// ---------------------------------------------------------------------------
// MySQL
// ---------------------------------------------------------------------------

var mysqlDialect = &dialect{
	name:       "mysql",
	driverName: "mysql",
	insert:     lastInsertID,
	// REPLACE is case-sensitive; the binary collation keeps LIKE from
	// folding case or accents again.
	fold: func(col string) string {
		return replaceFold("(" + col + " COLLATE utf8mb4_bin)")
	},
	schema: []string{
		// token uses a binary collation so lookups stay case-sensitive.
		`CREATE TABLE IF NOT EXISTS access_keys (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			token VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
			format VARCHAR(32) NOT NULL DEFAULT 'bash',
			length INT NOT NULL DEFAULT 0,
			created_at_ms BIGINT NOT NULL,
			expires_at_ms BIGINT NOT NULL,
			used_count INT NOT NULL DEFAULT 0,
			max_uses INT NOT NULL DEFAULT 1,
			UNIQUE KEY uq_access_keys_token (token),
			INDEX idx_access_keys_expires (expires_at_ms),
			INDEX idx_access_keys_created (created_at_ms),
			CHECK (used_count >= 0 AND used_count <= max_uses)
		) DEFAULT CHARSET = utf8mb4`,
	},
	isUnique: func(err error) bool {
		var me *mysqldriver.MySQLError
		return errors.As(err, &me) && me.Number == 1062 // ER_DUP_ENTRY
	},
}

// ---------------------------------------------------------------------------
// SQL Server
// ---------------------------------------------------------------------------

var mssqlDialect = &dialect{
	name:       "mssql",
	driverName: "sqlserver",
	insert:     outputID,
	top:        true,
	// TRANSLATE needs SQL Server 2017 or later.
	fold: func(col string) string {
		return "TRANSLATE(" + col + " COLLATE Latin1_General_100_BIN2, '" + asciiUpper + "', '" + asciiLower + "')"
	},
	schema: []string{
		`IF OBJECT_ID(N'access_keys', N'U') IS NULL
		CREATE TABLE access_keys (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			name NVARCHAR(255) NOT NULL DEFAULT '',
			token VARCHAR(191) COLLATE Latin1_General_100_BIN2 NOT NULL CONSTRAINT uq_access_keys_token UNIQUE,
			format VARCHAR(32) NOT NULL DEFAULT 'bash',
			length INT NOT NULL DEFAULT 0,
			created_at_ms BIGINT NOT NULL,
			expires_at_ms BIGINT NOT NULL,
			used_count INT NOT NULL DEFAULT 0,
			max_uses INT NOT NULL DEFAULT 1,
			CONSTRAINT ck_access_keys_uses CHECK (used_count >= 0 AND used_count <= max_uses)
		)`,
		`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_access_keys_expires')
		CREATE INDEX idx_access_keys_expires ON access_keys(expires_at_ms)`,
		`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_access_keys_created')
		CREATE INDEX idx_access_keys_created ON access_keys(created_at_ms)`,
	},
	isUnique: func(err error) bool {
		var me mssql.Error
		if errors.As(err, &me) {
			return me.Number == 2627 || me.Number == 2601
		}
		return false
	},
}

// ---------------------------------------------------------------------------
// Query text
// ---------------------------------------------------------------------------

const (
	asciiUpper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	asciiLower = "abcdefghijklmnopqrstuvwxyz"
)

// replaceFold wraps expr in one REPLACE per uppercase ASCII letter.
func replaceFold(expr string) string {
	for i := 0; i < len(asciiUpper); i++ {
		expr = "REPLACE(" + expr + ", '" + asciiUpper[i:i+1] + "', '" + asciiLower[i:i+1] + "')"
	}
	return expr
}

// searchWhere matches a LIKE pattern against name and token of live keys.
// The pattern is bound twice, then the current time.
func (d *dialect) searchWhere() string {
	return "(" + d.fold("name") + " LIKE ? ESCAPE '!' OR " + d.fold("token") + " LIKE ? ESCAPE '!')" +
		" AND expires_at_ms > ? AND used_count < max_uses"
}

const keyColumns = "id, name, token, format, length, created_at_ms, expires_at_ms, used_count, max_uses"

// insertQuery returns the named INSERT statement for d.
func (d *dialect) insertQuery() string {
	const cols = "(name, token, format, length, created_at_ms, expires_at_ms, used_count, max_uses)"
	const vals = "(:name, :token, :format, :length, :created_at_ms, :expires_at_ms, :used_count, :max_uses)"
	switch d.insert {
	case returningID:
		return "INSERT INTO access_keys " + cols + " VALUES " + vals + " RETURNING id"
	case outputID:
		return "INSERT INTO access_keys " + cols + " OUTPUT INSERTED.id VALUES " + vals
	default:
		return "INSERT INTO access_keys " + cols + " VALUES " + vals
	}
}

// selectKeys builds a SELECT over access_keys with an optional row cap.
// where and orderBy are appended verbatim; limit <= 0 means no cap.
func (d *dialect) selectKeys(where, orderBy string, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if d.top && limit > 0 {
		fmt.Fprintf(&b, "TOP (%d) ", limit)
	}
	b.WriteString(keyColumns)
	b.WriteString(" FROM access_keys")
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	if !d.top && limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String()
}
