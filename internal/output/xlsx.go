package output

import (
	"context"
	"fmt"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/internal/sanitize"
	"github.com/bl4ck0w1/tesuite/internal/table"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	// MaxSheetRows is the data row limit of one worksheet; the header takes
	// the remaining row.
	MaxSheetRows = excelize.TotalRows - 1

	maxSheetName = 31
	defaultSheet = "Sheet1"
)

func WorkbookName(run RunInfo) string {
	return fmt.Sprintf("tenable_vm_was_assets_%s.xlsx", run.Timestamp())
}

type ExcelWriter struct {
	logger *logrus.Logger
}

func NewExcelWriter(logger *logrus.Logger) *ExcelWriter {
	return &ExcelWriter{logger: ensureLogger(logger)}
}

func (w *ExcelWriter) Name() string { return "excel" }

// Write produces one sheet per table, in order. Tables without rows still get
// a sheet.
func (w *ExcelWriter) Write(ctx context.Context, run RunInfo, tables []*table.Table) (string, error) {
	path := run.Path(WorkbookName(run))
	tables = sanitize.ForSpreadsheet(tables)

	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name := sheetName(t.Name)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return "", fmt.Errorf("rename sheet %s: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return "", fmt.Errorf("create sheet %s: %w", name, err)
		}
		if err := w.writeSheet(f, name, t); err != nil {
			return "", fmt.Errorf("write sheet %s: %w", name, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

func (w *ExcelWriter) writeSheet(f *excelize.File, name string, t *table.Table) error {
	if len(t.Columns) == 0 {
		return nil
	}
	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	rows := t.Rows
	if len(rows) > MaxSheetRows {
		w.logger.WithFields(logrus.Fields{
			"sheet":   name,
			"rows":    len(rows),
			"dropped": len(rows) - MaxSheetRows,
		}).Warn("Sheet row limit reached, extra rows dropped")
		rows = rows[:MaxSheetRows]
	}

	cells := make([]interface{}, len(t.Columns))
	for r, row := range rows {
		for c, v := range row {
			cells[c] = excelValue(v)
		}
		axis, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(axis, cells); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func excelValue(v flatten.Value) interface{} {
	switch v.Kind() {
	case flatten.Null:
		return nil
	case flatten.Bool:
		return v.Bool()
	case flatten.Number:
		if i, ok := v.Int64(); ok {
			return i
		}
		if f, ok := v.Float64(); ok {
			return f
		}
	}
	return v.Text()
}

func sheetName(name string) string {
	r := []rune(name)
	if len(r) > maxSheetName {
		r = r[:maxSheetName]
	}
	if len(r) == 0 {
		return defaultSheet
	}
	return string(r)
}
