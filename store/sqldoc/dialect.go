package sqldoc

import (
	"fmt"
	"strconv"
)

// Dialect covers the few SQL differences between the supported
// databases: placeholder style and row locking.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// String returns the string representation of the dialect
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres":
		return Postgres, nil
	case "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// rowLock returns the locking suffix for the update read. SQLite
// serializes writers on its own.
func (d Dialect) rowLock() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (d Dialect) schemaDDL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`, tableName)
}
