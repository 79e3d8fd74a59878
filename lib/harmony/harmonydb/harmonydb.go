package harmonydb

import (
	"context"
	"embed"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/yugabyte/pgx/v5"
	"github.com/yugabyte/pgx/v5/pgconn"
	"github.com/yugabyte/pgx/v5/pgxpool"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
	"github.com/Moonsong-Labs/storage-hub-sub006/node/config"
)

var log = logging.Logger("harmonydb")

// ScratchID names a throwaway schema, used by tests that need a live
// database without touching the production schema.
type ScratchID string

func NewScratchID() ScratchID {
	return ScratchID(strconv.Itoa(rand.Intn(99999)))
}

const (
	defaultSchema = "storagehub"
	scratchPrefix = "scratch_"
)

type DB struct {
	pgx    *pgxpool.Pool
	cfg    *pgxpool.Config
	schema string
	conns  atomic.Int64
}

// NewFromConfig is a convenience function.
// In usage:
//
//	db, err := NewFromConfig(config.HarmonyDB)  // in binary init
func NewFromConfig(cfg config.HarmonyDB) (*DB, error) {
	return New(
		cfg.Hosts,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.Port,
		"",
	)
}

// New is to be called once per binary to establish the pool.
// It returns an upgraded database's connection.
// A non-empty scratch id selects the schema scratch_{id} instead of storagehub.
func New(hosts []string, username, password, database, port string, scratch ScratchID) (*DB, error) {
	connString := ""
	if len(hosts) > 0 {
		connString = "host=" + hosts[0] + " "
	}
	for k, v := range map[string]string{"user": username, "password": password, "dbname": database, "port": port} {
		if strings.TrimSpace(v) != "" {
			connString += k + "=" + v + " "
		}
	}

	schema := defaultSchema
	if scratch != "" {
		schema = scratchPrefix + string(scratch)
	}

	if err := ensureSchemaExists(connString, schema); err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(connString + "search_path=" + schema)
	if err != nil {
		return nil, err
	}

	// enable multiple fallback hosts.
	for i := 1; i < len(hosts); i++ {
		h := hosts[i]
		cfg.ConnConfig.Fallbacks = append(cfg.ConnConfig.Fallbacks, &pgconn.FallbackConfig{Host: h})
	}

	cfg.ConnConfig.OnNotice = func(conn *pgconn.PgConn, n *pgconn.Notice) {
		log.Debugw("database notice", "schema", schema, "severity", n.Severity, "msg", n.Message, "detail", n.Detail)
	}

	db := &DB{cfg: cfg, schema: schema} // pgx populated in addStatsAndConnect
	if err := db.addStatsAndConnect(); err != nil {
		return nil, err
	}

	return db, db.upgrade()
}

// tracer records query metrics tagged with the schema the pool serves.
type tracer struct {
	schema string
}

type queryStart struct {
	at  time.Time
	sql string
}

type ctxkey struct{}

func (t tracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, ctxkey{}, queryStart{at: build.Clock.Now(), sql: data.SQL})
}

func (t tracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(ctxkey{}).(queryStart)
	if !ok {
		return
	}
	ms := metrics.SinceInMilliseconds(start.at)
	DBMeasures.QueryLatency.Observe(ms)

	measures := []stats.Measurement{DBMeasures.Queries.M(1)}
	if data.Err != nil {
		measures = append(measures, DBMeasures.QueryErrors.M(1))
	}
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(schemaTag, t.schema)}, measures...)

	log.Debugw("SQL run",
		"query", start.sql,
		"err", data.Err,
		"rowCt", data.CommandTag.RowsAffected(),
		"milliseconds", ms)
}

// addStatsAndConnect installs the query tracer and opens the pool. Be sure to
// run this before using the DB.
func (db *DB) addStatsAndConnect() error {
	db.cfg.ConnConfig.Tracer = tracer{schema: db.schema}

	db.cfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		DBMeasures.HostConnections.WithLabelValues(c.Config().Host).Inc()
		db.recordConns(ctx, db.conns.Add(1))
		return nil
	}
	db.cfg.BeforeClose = func(c *pgx.Conn) {
		db.recordConns(context.Background(), db.conns.Add(-1))
	}

	// Timeout the first connection so we know if the DB is down.
	ctx, ctxClose := context.WithDeadline(context.Background(), time.Now().Add(5*time.Second))
	defer ctxClose()
	var err error
	db.pgx, err = pgxpool.NewWithConfig(ctx, db.cfg)
	if err != nil {
		log.Error(fmt.Sprintf("Unable to connect to database: %v\n", err))
		return err
	}
	return nil
}

func (db *DB) recordConns(ctx context.Context, n int64) {
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(schemaTag, db.schema)}, DBMeasures.OpenConnections.M(n))
}

// DropScratchSchema drops the scratch schema with everything in it and closes
// the pool. It refuses to touch any other schema.
func (db *DB) DropScratchSchema() error {
	if !strings.HasPrefix(db.schema, scratchPrefix) {
		return xerrors.Errorf("refusing to drop non-scratch schema %s", db.schema)
	}
	defer db.pgx.Close()
	if _, err := db.pgx.Exec(context.Background(), "DROP SCHEMA "+db.schema+" CASCADE"); err != nil {
		return xerrors.Errorf("dropping schema %s: %w", db.schema, err)
	}
	return nil
}

func (db *DB) Close() {
	db.pgx.Close()
}

var schemaRE = regexp.MustCompile("^[A-Za-z0-9_]+$")

func ensureSchemaExists(connString, schema string) error {
	// FUTURE allow using fallback DBs for start-up.
	ctx, cncl := context.WithDeadline(context.Background(), time.Now().Add(3*time.Second))
	p, err := pgx.Connect(ctx, connString)
	defer cncl()
	if err != nil {
		return xerrors.Errorf("unable to connect to db: %s, err: %v", connString, err)
	}
	defer func() { _ = p.Close(context.Background()) }()

	if schema != defaultSchema && (!strings.HasPrefix(schema, scratchPrefix) || len(schema) == len(scratchPrefix)) {
		return xerrors.Errorf("schema must be of the form %s{id} or %s", scratchPrefix, defaultSchema)
	}
	if !schemaRE.MatchString(schema) {
		return xerrors.Errorf("schema %q does not match %s", schema, schemaRE)
	}
	_, err = p.Exec(context.Background(), "CREATE SCHEMA IF NOT EXISTS "+schema)
	if err != nil {
		return xerrors.Errorf("cannot create schema: %w", err)
	}
	return nil
}

//go:embed sql
var fs embed.FS

func (db *DB) upgrade() error {
	// Does the version table exist? if not, make it.
	// NOTE: This cannot change except via the next sql file.
	_, err := db.Exec(context.Background(), `CREATE TABLE IF NOT EXISTS base (
		id SERIAL PRIMARY KEY,
		entry CHAR(12),
		applied TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		log.Error("Upgrade failed.")
		return xerrors.Errorf("cannot create base table %w", err)
	}

	// __Run scripts in order.__

	landed := map[string]bool{}
	{
		var landedEntries []struct{ Entry string }
		err = db.Select(context.Background(), &landedEntries, "SELECT entry FROM base")
		if err != nil {
			log.Error("Cannot read entries: " + err.Error())
			return xerrors.Errorf("cannot read entries %w", err)
		}
		for _, l := range landedEntries {
			landed[l.Entry[:8]] = true
		}
	}
	dir, err := fs.ReadDir("sql")
	if err != nil {
		log.Error("Cannot read fs entries: " + err.Error())
		return err
	}
	sort.Slice(dir, func(i, j int) bool { return dir[i].Name() < dir[j].Name() })

	if len(dir) == 0 {
		log.Error("No sql files found.")
	}
	for _, e := range dir {
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			log.Debug("Must have only SQL files here, found: " + name)
			continue
		}
		if landed[name[:8]] {
			log.Debug("DB Schema " + name + " already applied.")
			continue
		}
		file, err := fs.ReadFile("sql/" + name)
		if err != nil {
			log.Error("weird embed file read err")
			return err
		}
		for _, s := range strings.Split(string(file), ";") { // Implement the changes.
			if len(strings.TrimSpace(s)) == 0 {
				continue
			}
			_, err = db.pgx.Exec(context.Background(), s)
			if err != nil {
				msg := fmt.Sprintf("Could not upgrade! File %s, Query: %s, Returned: %s", name, s, err.Error())
				log.Error(msg)
				return xerrors.New(msg) // makes devs lives easier by placing message at the end.
			}
		}

		// Mark Completed.
		_, err = db.Exec(context.Background(), "INSERT INTO base (entry) VALUES ($1)", name[:8])
		if err != nil {
			log.Error("Cannot update base: " + err.Error())
			return xerrors.Errorf("cannot insert into base: %w", err)
		}
	}
	return nil
}
