package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the API reacts to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Trace is the log-side view of an error: the full chain plus any Postgres
// diagnostics, never sent to clients.
type Trace struct {
	Code  Code
	Chain []string
	PG    *PGDiag
}

type PGDiag struct {
	SQLState   string
	Table      string
	Constraint string
	Detail     string
}

// Describe walks err's chain. Both pgx and lib/pq errors are recognised since
// gorm's postgres driver and goose use different ones.
func Describe(err error) Trace {
	var t Trace
	if err == nil {
		return t
	}
	if typed := As(err); typed != nil {
		t.Code = typed.code
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		t.Chain = append(t.Chain, fmt.Sprintf("%T", e))
	}
	t.PG = pgDiag(err)
	return t
}

// Fields flattens t for logger.WithFields.
func (t Trace) Fields() map[string]any {
	fields := map[string]any{"error_chain": t.Chain}
	if t.Code != "" {
		fields["error_code"] = string(t.Code)
	}
	if t.PG != nil {
		fields["pg_code"] = t.PG.SQLState
		fields["pg_table"] = t.PG.Table
		fields["pg_constraint"] = t.PG.Constraint
		fields["pg_detail"] = t.PG.Detail
	}
	return fields
}

// IsUniqueViolation reports a Postgres unique_violation anywhere in err.
func IsUniqueViolation(err error) bool {
	d := pgDiag(err)
	return d != nil && d.SQLState == pgUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	d := pgDiag(err)
	return d != nil && d.SQLState == pgForeignKeyViolation
}

func pgDiag(err error) *PGDiag {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return &PGDiag{SQLState: pgxErr.Code, Table: pgxErr.TableName, Constraint: pgxErr.ConstraintName, Detail: pgxErr.Detail}
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return &PGDiag{SQLState: string(pqErr.Code), Table: pqErr.Table, Constraint: pqErr.Constraint, Detail: pqErr.Detail}
	}
	return nil
}
