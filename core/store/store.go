/*
Package store is the data access layer of the catalog.

All functions take an sqlx.ExtContext, which is either the database or a transaction, so
that handlers can combine several operations into one atomic unit with InTransaction.
Queries are written with ? placeholders and rebound for the driver in use.
*/
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/relabs-tech/geocatalog/core/csql"
	"github.com/relabs-tech/geocatalog/core/logger"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Database errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrForeignKey      = errors.New("foreign key constraint violated")
)

// Store gives access to the catalog database
type Store struct {
	DB *csql.DB

	// undo holds the rollback hooks of the open transactions, keyed by *sqlx.Tx
	undo sync.Map
}

// New returns a store for db
func New(db *csql.DB) *Store {
	return &Store{DB: db}
}

// UndoFunc reverts a side effect outside of the database
type UndoFunc func(ctx context.Context) error

type undoList struct {
	funcs []UndoFunc
}

// InTransaction runs fn inside a transaction. The transaction is committed if fn returns
// nil and rolled back otherwise. Hooks registered with OnRollback run when the
// transaction does not commit.
func (s *Store) InTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Could not begin transaction")
		return err
	}
	undo := &undoList{}
	s.undo.Store(tx, undo)
	defer s.undo.Delete(tx)

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			logger.FromContext(ctx).WithError(rerr).Errorln("Could not roll back transaction")
		}
		undo.run(ctx)
		return err
	}
	if err := tx.Commit(); err != nil {
		undo.run(ctx)
		return err
	}
	return nil
}

// OnRollback registers fn to run if tx rolls back or fails to commit. Hooks run in
// reverse order of registration. tx must have been started by InTransaction.
func (s *Store) OnRollback(tx *sqlx.Tx, fn UndoFunc) {
	v, ok := s.undo.Load(tx)
	if !ok {
		panic("OnRollback called for a transaction not started by InTransaction")
	}
	list := v.(*undoList)
	list.funcs = append(list.funcs, fn)
}

func (u *undoList) run(ctx context.Context) {
	// the request may be gone already, the hooks must run regardless
	ctx = context.WithoutCancel(ctx)
	for i := len(u.funcs) - 1; i >= 0; i-- {
		if err := u.funcs[i](ctx); err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("Error 4300: could not undo side effect of rolled back transaction")
		}
	}
}

// classify maps driver errors to the errors of this package. The original error stays
// part of the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s: %v", ErrUniqueViolation, pqErr.Constraint, err)
		case "23503":
			return fmt.Errorf("%w: %s: %v", ErrForeignKey, pqErr.Constraint, err)
		}
		return err
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", ErrForeignKey, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "UNIQUE"):
			return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "FOREIGN KEY"):
			return fmt.Errorf("%w: %v", ErrForeignKey, err)
		}
	}
	return err
}

// ViolatedField returns the API field name of a unique constraint violation, or the
// empty string if it cannot be determined
func ViolatedField(err error) string {
	if !errors.Is(err, ErrUniqueViolation) {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "email"):
		return "email"
	case strings.Contains(msg, "username"):
		return "username"
	case strings.Contains(msg, "metadata_id"):
		return "metadata"
	}
	return ""
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// afterRead brings a scanned record into the form it was written in
func afterRead(rec interface{}) {
	if n, ok := rec.(interface{ Normalize() }); ok {
		n.Normalize()
	}
	if u, ok := rec.(interface{ InUTC() }); ok {
		u.InUTC()
	}
}

func uuidStrings[T fmt.Stringer](ids []T) []string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return strs
}
