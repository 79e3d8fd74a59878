package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"
)

var log = logging.Logger("sqlite")

type MigrationFunc func(ctx context.Context, tx *sql.Tx) error

var pragmas = []string{
	"PRAGMA synchronous = normal",
	"PRAGMA temp_store = memory",
	"PRAGMA mmap_size = 30000000000",
	"PRAGMA page_size = 32768",
	"PRAGMA auto_vacuum = NONE",
	"PRAGMA automatic_index = OFF",
	"PRAGMA journal_mode = WAL",
	"PRAGMA wal_autocheckpoint = 256", // checkpoint @ 256 pages
	"PRAGMA journal_size_limit = 0",   // always reset journal and wal files
	"PRAGMA foreign_keys = ON",
}

const metaTableDdl = `CREATE TABLE IF NOT EXISTS _meta (
	version UINT64 NOT NULL UNIQUE
)`

// Open opens a database at the given path. If the database does not exist, it will be created.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, xerrors.Errorf("error creating database base directory [@ %s]: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path+"?mode=rwc&_txlock=immediate&_foreign_keys=1")
	if err != nil {
		return nil, xerrors.Errorf("error opening database [@ %s]: %w", path, err)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, xerrors.Errorf("error setting database pragma %q: %w", pragma, err)
		}
	}

	var foreignKeysEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeysEnabled); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("failed to check foreign keys setting: %w", err)
	}
	if foreignKeysEnabled == 0 {
		_ = db.Close()
		return nil, xerrors.Errorf("foreign keys are not enabled for database [@ %s]", path)
	}

	log.Infof("Database [@ %s] opened successfully with foreign keys enabled", path)
	return db, nil
}

// InitDb initializes the database by checking whether it needs to be created or upgraded.
// The ddls are the DDL statements to create the tables in the database and their initial required
// content. The schemaVersion will be set inside the databse if it is newly created. Otherwise, the
// version is read from the database and returned. This value should be checked against the expected
// version to determine if the database needs to be upgraded.
// It is up to the caller to manage the upgrade process.
func InitDb(
	ctx context.Context,
	name string,
	db *sql.DB,
	ddls []string,
	versionMigrations []MigrationFunc,
) error {

	schemaVersion := len(versionMigrations) + 1

	q, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='_meta';")
	if q != nil {
		defer func() { _ = q.Close() }()
	}

	if errors.Is(err, sql.ErrNoRows) || (err == nil && !q.Next()) {
		log.Infof("creating new %s database", name)

		// create database
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return xerrors.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, ddl := range append([]string{metaTableDdl}, ddls...) {
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return xerrors.Errorf("failed to exec ddl %q: %w", ddl, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO _meta (version) VALUES (?)`, schemaVersion); err != nil {
			return xerrors.Errorf("failed to record schema version: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return xerrors.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}

	if err != nil {
		return xerrors.Errorf("error looking for %s database _meta table: %w", name, err)
	}

	if err := q.Close(); err != nil {
		return xerrors.Errorf("error closing %s database _meta table query: %w", name, err)
	}

	// check the schema version to see if we need to upgrade the database schema
	var version int
	err = db.QueryRowContext(ctx, "SELECT max(version) FROM _meta").Scan(&version)
	if err != nil {
		return xerrors.Errorf("invalid %s database version: no version found", name)
	}

	if version > schemaVersion {
		return xerrors.Errorf("invalid %s database version: version %d is greater than the number of migrations %d", name, version, len(versionMigrations))
	}

	runVacuum := version != schemaVersion

	// run a migration for each version that we have not yet applied, where version is the last
	// version that was applied and version+1 is the next version to apply
	for i := version; i < schemaVersion; i++ {
		if err := func() error {
			start := time.Now()
			log.Infow("migrating database schema", "db", name, "from", i, "to", i+1)

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return xerrors.Errorf("failed to begin transaction: %w", err)
			}
			defer func() { _ = tx.Rollback() }()

			if err := versionMigrations[i-1](ctx, tx); err != nil {
				return xerrors.Errorf("failed to apply migration %d: %w", i+1, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO _meta (version) VALUES (?)", i+1); err != nil {
				return xerrors.Errorf("failed to record schema version %d: %w", i+1, err)
			}
			if err := tx.Commit(); err != nil {
				return xerrors.Errorf("failed to commit migration %d: %w", i+1, err)
			}

			log.Infow("database schema migrated", "db", name, "to", i+1, "took", time.Since(start))
			return nil
		}(); err != nil {
			return err
		}
	}

	if runVacuum {
		// During the large migrations, we have likely increased the WAL size a lot, so lets do some
		// simple DB administration to free up space (VACUUM followed by truncating the WAL file)
		// as this would be a good time to do it when no other writes are happening.
		log.Infow("compacting database after migration", "db", name)
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warnw("error vacuuming database", "db", name, "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			log.Warnw("error checkpointing database wal", "db", name, "error", err)
		}
	}

	// re-apply idempotent ddls so new indexes and tables land on upgraded databases
	for _, ddl := range ddls {
		if !strings.Contains(ddl, "IF NOT EXISTS") {
			continue
		}
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return xerrors.Errorf("failed to exec ddl %q: %w", ddl, err)
		}
	}

	return nil
}
