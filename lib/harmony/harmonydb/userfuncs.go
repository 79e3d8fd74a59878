package harmonydb

import (
	"context"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/dbscan"
	"github.com/jackc/pgerrcode"
	"github.com/yugabyte/pgx/v5"
	"github.com/yugabyte/pgx/v5/pgconn"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/Moonsong-Labs/storage-hub-sub006/lib/retry"
)

// rawStringOnly is _intentionally_private_ to force only basic strings in SQL queries.
// In any package, raw strings will satisfy compilation.  Ex:
//
//	harmonydb.Exec("INSERT INTO version (number) VALUES (1)")
//
// This prevents SQL injection attacks where the input contains query fragments.
type rawStringOnly string

// Exec executes changes (INSERT, DELETE,  or UPDATE).
// Note, for CREATE & DROP please keep these permanent and express
// them in the ./sql/ files (next number).
func (db *DB) Exec(ctx context.Context, sql rawStringOnly, arguments ...any) (count int, err error) {
	res, err := db.pgx.Exec(ctx, string(sql), arguments...)
	return int(res.RowsAffected()), err
}

type Row interface {
	Scan(...any) error
}

// QueryRow gets 1 row using column order matching.
// This is a timesaver for the special case of wanting the first row returned only.
// EX:
//
//	var name, pet string
//	var ID = 123
//	err := db.QueryRow(ctx, "SELECT name, pet FROM users WHERE ID=?", ID).Scan(&name, &pet)
func (db *DB) QueryRow(ctx context.Context, sql rawStringOnly, arguments ...any) Row {
	return db.pgx.QueryRow(ctx, string(sql), arguments...)
}

/*
Select multiple rows into a slice using name matching
Ex:

	type user struct {
		Name string
		ID int
		Number string `db:"tel_no"`
	}

	var users []user
	pet := "cat"
	err := db.Select(ctx, &users, "SELECT name, id, tel_no FROM customers WHERE pet=?", pet)
*/
func (db *DB) Select(ctx context.Context, sliceOfStructPtr any, sql rawStringOnly, arguments ...any) error {
	rows, err := db.pgx.Query(ctx, string(sql), arguments...)
	if err != nil {
		return err
	}
	defer rows.Close()
	return dbscan.ScanAll(sliceOfStructPtr, dbscanRows{rows})
}

type dbscanRows struct {
	pgx.Rows
}

func (d dbscanRows) Close() error {
	d.Rows.Close()
	return nil
}
func (d dbscanRows) Columns() ([]string, error) {
	var columnNames []string
	for _, f := range d.Rows.FieldDescriptions() {
		columnNames = append(columnNames, f.Name)
	}
	return columnNames, nil
}

func (d dbscanRows) NextResultSet() bool {
	return false
}

type Tx struct {
	pgx.Tx
	ctx context.Context
}

const (
	txRetryAttempts = 5
	txRetryMinSleep = 10 * time.Millisecond
)

type txOptions struct {
	retrySerialization bool
	isoLevel           pgx.TxIsoLevel
}

type TransactionOption func(*txOptions)

// OptionRetry reruns the whole transaction when it fails with a serialization
// error. f must be safe to run more than once.
func OptionRetry() TransactionOption {
	return func(o *txOptions) {
		o.retrySerialization = true
	}
}

// OptionIsolation runs the transaction at the given isolation level instead of
// the server default.
func OptionIsolation(level pgx.TxIsoLevel) TransactionOption {
	return func(o *txOptions) {
		o.isoLevel = level
	}
}

// SerializationError marks a transaction that lost a serialization conflict.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "transaction serialization failure: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// BeginTransaction is how you can access transactions using this library.
// The entire transaction happens in the function passed in.
// The return must be true or a rollback will occur.
func (db *DB) BeginTransaction(ctx context.Context, f func(*Tx) (commit bool, err error), opts ...TransactionOption) (didCommit bool, retErr error) {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}
	return runTx(ctx, o, db.schema, func() (bool, error) {
		return db.transactionInner(ctx, pgx.TxOptions{IsoLevel: o.isoLevel}, f)
	})
}

// runTx runs once, rerunning it on serialization failures when o asks for it.
func runTx(ctx context.Context, o txOptions, schema string, once func() (bool, error)) (bool, error) {
	if !o.retrySerialization {
		return once()
	}
	attempt := 0
	return retry.Retry(ctx, txRetryAttempts, txRetryMinSleep, []error{&SerializationError{}}, func() (bool, error) {
		if attempt > 0 {
			_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(schemaTag, schema)}, DBMeasures.TxRetries.M(1))
		}
		attempt++
		didCommit, err := once()
		if IsErrSerialization(err) {
			return false, &SerializationError{Err: err}
		}
		return didCommit, err
	})
}

func (db *DB) transactionInner(ctx context.Context, txo pgx.TxOptions, f func(*Tx) (commit bool, err error)) (didCommit bool, retErr error) {
	tx, err := db.pgx.BeginTx(ctx, txo)
	if err != nil {
		return false, err
	}
	var commit bool
	defer func() { // Panic clean-up.
		if !commit {
			if tmp := tx.Rollback(ctx); tmp != nil {
				retErr = tmp
			}
		}
	}()
	commit, err = f(&Tx{tx, ctx})
	if err != nil {
		return false, err
	}
	if commit {
		err = tx.Commit(ctx)
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Exec in a transaction.
func (t *Tx) Exec(sql rawStringOnly, arguments ...any) (count int, err error) {
	res, err := t.Tx.Exec(t.ctx, string(sql), arguments...)
	return int(res.RowsAffected()), err
}

// Select in a transaction.
func (t *Tx) Select(sliceOfStructPtr any, sql rawStringOnly, arguments ...any) error {
	rows, err := t.Query(t.ctx, string(sql), arguments...)
	if err != nil {
		return err
	}
	defer rows.Close()
	return dbscan.ScanAll(sliceOfStructPtr, dbscanRows{rows})
}

func IsErrSerialization(err error) bool {
	var e2 *pgconn.PgError
	return errors.As(err, &e2) && e2.Code == pgerrcode.SerializationFailure
}
