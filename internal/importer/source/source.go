// Package source reads uploaded spreadsheets into header/value rows.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/smallbiznis/receivables/internal/importer/domain"
	"github.com/xuri/excelize/v2"
)

const utf8BOM = "\ufeff"

// Read dispatches on the file extension.
func Read(fileName string, r io.Reader) ([]domain.Row, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(fileName))) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(r)
	case ".csv":
		return ReadCSV(r)
	default:
		return nil, domain.ErrUnsupportedFormat
	}
}

// ReadXLSX reads the first sheet. Cell values are raw, so dates arrive as
// spreadsheet serial numbers.
func ReadXLSX(r io.Reader) ([]domain.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.ErrEmptyFile
	}
	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return toRows(records)
}

func ReadCSV(r io.Reader) ([]domain.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, record)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], utf8BOM)
	}
	return toRows(records)
}

// toRows uses the first non-empty record as the header row.
func toRows(records [][]string) ([]domain.Row, error) {
	headerAt := -1
	for i, record := range records {
		if !emptyRecord(record) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, domain.ErrEmptyFile
	}

	headers := make([]string, len(records[headerAt]))
	for i, h := range records[headerAt] {
		headers[i] = strings.TrimSpace(h)
	}
	if emptyRecord(headers) {
		return nil, domain.ErrMissingHeader
	}

	rows := make([]domain.Row, 0, len(records)-headerAt-1)
	for i := headerAt + 1; i < len(records); i++ {
		record := records[i]
		row := domain.Row{Number: i + 1, Cells: make([]domain.Cell, 0, len(headers))}
		for col, header := range headers {
			if header == "" {
				continue
			}
			value := ""
			if col < len(record) {
				value = record[col]
			}
			row.Cells = append(row.Cells, domain.Cell{Header: header, Value: value})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func emptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// WriteXLSX renders a single-sheet workbook with a bold header row.
func WriteXLSX(sheet string, headers []string, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	headerRow := make([]any, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return nil, err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		last, err := excelize.CoordinatesToCellName(len(headers), 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
			return nil, err
		}
		lastCol, _ := excelize.ColumnNumberToName(len(headers))
		if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
