package output

import (
	"context"
	"fmt"
	"os"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/internal/sanitize"
	"github.com/bl4ck0w1/tesuite/internal/table"
	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"
)

const parquetBatchSize = 1024

func ParquetName(run RunInfo, dataset string) string {
	return fmt.Sprintf("%s_%s.parquet", dataset, run.Timestamp())
}

// ParquetWriter writes one file per table. Every column is optional so
// missing cells stay null.
type ParquetWriter struct {
	logger *logrus.Logger
}

func NewParquetWriter(logger *logrus.Logger) *ParquetWriter {
	return &ParquetWriter{logger: ensureLogger(logger)}
}

func (w *ParquetWriter) Name() string { return "parquet" }

// Write returns the output directory, since it produces several files.
func (w *ParquetWriter) Write(ctx context.Context, run RunInfo, tables []*table.Table) (string, error) {
	for _, t := range sanitize.ForColumnar(tables) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path := run.Path(ParquetName(run, t.Name))
		if err := writeParquetFile(path, t); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		w.logger.WithFields(logrus.Fields{
			"dataset": t.Name,
			"rows":    t.Len(),
			"path":    path,
		}).Debug("Parquet file written")
	}
	return run.OutputDir, nil
}

func parquetSchema(t *table.Table) *parquet.Schema {
	group := make(parquet.Group, len(t.Columns))
	for _, c := range t.Columns {
		group[c.Name] = parquet.Optional(parquetLeaf(c.Type))
	}
	return parquet.NewSchema(t.Name, group)
}

func parquetLeaf(typ table.ColumnType) parquet.Node {
	switch typ {
	case table.TypeInt:
		return parquet.Leaf(parquet.Int64Type)
	case table.TypeFloat:
		return parquet.Leaf(parquet.DoubleType)
	case table.TypeBool:
		return parquet.Leaf(parquet.BooleanType)
	}
	return parquet.String()
}

func writeParquetFile(path string, t *table.Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	schema := parquetSchema(t)
	// Group fields are stored sorted by name, so map each table column to
	// its leaf index in the schema.
	leaves := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		leaf, ok := schema.Lookup(c.Name)
		if !ok {
			return fmt.Errorf("column %q missing from schema", c.Name)
		}
		leaves[i] = leaf.ColumnIndex
	}

	pw := parquet.NewWriter(f, schema)
	batch := make([]parquet.Row, 0, parquetBatchSize)
	for _, row := range t.Rows {
		out := make(parquet.Row, len(t.Columns))
		for c, v := range row {
			idx := leaves[c]
			out[idx] = parquetValue(t.Columns[c].Type, v).Level(0, definitionLevel(v), idx)
		}
		batch = append(batch, out)
		if len(batch) == parquetBatchSize {
			if _, err := pw.WriteRows(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if _, err := pw.WriteRows(batch); err != nil {
			return err
		}
	}
	return pw.Close()
}

func definitionLevel(v flatten.Value) int {
	if v.IsNull() {
		return 0
	}
	return 1
}

func parquetValue(typ table.ColumnType, v flatten.Value) parquet.Value {
	if v.IsNull() {
		return parquet.NullValue()
	}
	switch typ {
	case table.TypeInt:
		if i, ok := v.Int64(); ok {
			return parquet.Int64Value(i)
		}
	case table.TypeFloat:
		if f, ok := v.Float64(); ok {
			return parquet.DoubleValue(f)
		}
	case table.TypeBool:
		return parquet.BooleanValue(v.Bool())
	}
	return parquet.ByteArrayValue([]byte(v.Text()))
}
