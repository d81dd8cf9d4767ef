package importer

import "context"

// Conn is the target-side session the run executes on. Statements run in
// auto-commit mode so a failed table never rolls back tables copied earlier.
type Conn interface {
	// Exec runs a statement and returns the number of rows it affected.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// Query runs a query. The caller closes the returned rows.
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Rows is the subset of *sql.Rows the importer reads.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// SessionPool hands out additional sessions for parallel table copies.
type SessionPool interface {
	Acquire(ctx context.Context) (Session, error)
}

// Session is a pooled Conn that must be released after use.
type Session interface {
	Conn
	Release() error
}
