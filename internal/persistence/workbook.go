package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet: a header row followed by data rows.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]interface{}
}

// WorkbookExporter rewrites whole .xlsx files under dir. Writes are
// serialized and land atomically via rename.
type WorkbookExporter struct {
	mu  sync.Mutex
	dir string
}

func NewWorkbookExporter(dir string) *WorkbookExporter {
	return &WorkbookExporter{dir: dir}
}

// Export replaces dir/name with a workbook holding sheets.
func (e *WorkbookExporter) Export(name string, sheets ...Sheet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(sheets) == 0 {
		return fmt.Errorf("export %s: no sheets", name)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create artefact dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			return fmt.Errorf("add sheet %s: %w", sh.Name, err)
		}
		if err := writeSheet(f, sh); err != nil {
			return fmt.Errorf("sheet %s: %w", sh.Name, err)
		}
	}

	final := filepath.Join(e.dir, name)
	tmp := filepath.Join(e.dir, ".tmp-"+name)
	if err := f.SaveAs(tmp); err != nil {
		return fmt.Errorf("save %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("replace %s: %w", final, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sh Sheet) error {
	header := make([]interface{}, len(sh.Header))
	for i, h := range sh.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sh.Name, "A1", &header); err != nil {
		return err
	}
	for i, row := range sh.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sh.Name, cell, &r); err != nil {
			return err
		}
	}
	return nil
}

// ReadSheet returns every row of sheet in the workbook at path as strings.
func ReadSheet(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetRows(sheet)
}
