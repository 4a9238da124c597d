package output

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
	_ "modernc.org/sqlite"              // sqlite driver

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/internal/sanitize"
	"github.com/bl4ck0w1/tesuite/internal/table"
	"github.com/sirupsen/logrus"
)

const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"

	// RunsTable records which datasets each run wrote.
	RunsTable = "_tes_runs"
)

func DatabaseName(run RunInfo, driver string) string {
	return fmt.Sprintf("tenable_export_%s.%s", run.Timestamp(), driver)
}

// DatabaseWriter stores each non-empty table in an embedded database file,
// replacing any table of the same name.
type DatabaseWriter struct {
	driver string
	logger *logrus.Logger
}

func NewDatabaseWriter(driver string, logger *logrus.Logger) *DatabaseWriter {
	return &DatabaseWriter{driver: driver, logger: ensureLogger(logger)}
}

func (w *DatabaseWriter) Name() string { return w.driver }

func (w *DatabaseWriter) Write(ctx context.Context, run RunInfo, tables []*table.Table) (path string, err error) {
	path = run.Path(DatabaseName(run, w.driver))
	db, err := sql.Open(w.driver, path)
	if err != nil {
		return "", fmt.Errorf("open %s database: %w", w.driver, err)
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, runsTableDDL); err != nil {
		return "", fmt.Errorf("create %s: %w", RunsTable, err)
	}

	for _, t := range sanitize.ForColumnar(tables) {
		if t.Empty() || len(t.Columns) == 0 {
			w.logger.WithField("dataset", t.Name).Info("Dataset is empty, no table created")
			continue
		}
		if err := w.writeTable(ctx, db, run, t); err != nil {
			return "", fmt.Errorf("write table %s: %w", t.Name, err)
		}
		w.logger.WithFields(logrus.Fields{
			"dataset": t.Name,
			"rows":    t.Len(),
			"columns": len(t.Columns),
		}).Debug("Database table written")
	}
	return path, nil
}

const runsTableDDL = `CREATE TABLE IF NOT EXISTS ` + RunsTable + ` (
	run_id VARCHAR NOT NULL,
	run_timestamp VARCHAR NOT NULL,
	dataset VARCHAR NOT NULL,
	row_count BIGINT NOT NULL
)`

func (w *DatabaseWriter) writeTable(ctx context.Context, db *sql.DB, run RunInfo, t *table.Table) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	name := quoteIdent(t.Name)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(t)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(t))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(t.Columns))
	for _, row := range t.Rows {
		for c, v := range row {
			args[c] = sqlValue(t.Columns[c].Type, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO "+RunsTable+" (run_id, run_timestamp, dataset, row_count) VALUES (?, ?, ?, ?)",
		run.ID, run.Timestamp(), t.Name, int64(t.Len()),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func createTableSQL(t *table.Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteIdent(t.Name))
	b.WriteString(" (")
	for i, name := range columnNames(t) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(name))
		b.WriteByte(' ')
		b.WriteString(sqlType(t.Columns[i].Type))
	}
	b.WriteByte(')')
	return b.String()
}

func insertSQL(t *table.Table) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(t.Name), marks)
}

// columnNames makes names unique ignoring case, since both engines treat
// identifiers case-insensitively.
func columnNames(t *table.Table) []string {
	seen := make(map[string]int, len(t.Columns))
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		name := c.Name
		key := strings.ToLower(name)
		for n := seen[key]; n > 0; n = seen[key] {
			seen[key]++
			name = fmt.Sprintf("%s_%d", c.Name, n+1)
			key = strings.ToLower(name)
		}
		seen[key]++
		names[i] = name
	}
	return names
}

func sqlType(typ table.ColumnType) string {
	switch typ {
	case table.TypeInt:
		return "BIGINT"
	case table.TypeFloat:
		return "DOUBLE"
	case table.TypeBool:
		return "BOOLEAN"
	}
	return "VARCHAR"
}

func sqlValue(typ table.ColumnType, v flatten.Value) any {
	if v.IsNull() {
		return nil
	}
	switch typ {
	case table.TypeInt:
		if i, ok := v.Int64(); ok {
			return i
		}
	case table.TypeFloat:
		if f, ok := v.Float64(); ok {
			return f
		}
	case table.TypeBool:
		return v.Bool()
	}
	return v.Text()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
