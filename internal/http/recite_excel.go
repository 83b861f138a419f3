package httpapi

import (
	"bytes"
	"fmt"

	"github.com/Gil-rei/Senzen/internal/service"

	"github.com/xuri/excelize/v2"
)

// LedgerExportHeader 账目导出表头
var LedgerExportHeader = []string{
	"No.",
	"Item",
	"Amount",
	"Price",
	"Line Total",
}

var ledgerColumnWidths = []float64{8, 32, 10, 12, 14}

// GenerateLedgerExport 生成某天账目的 Excel 文件（末行为当日合计）
func GenerateLedgerExport(day *service.LedgerDay) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := day.Date
	if sheetName == "" {
		sheetName = "Ledger"
	}
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	moneyFmt := "0.00"
	moneyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFmt})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create money style: %w", err)
	}
	totalStyle, err := f.NewStyle(&excelize.Style{
		Font:         &excelize.Font{Bold: true},
		CustomNumFmt: &moneyFmt,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create total style: %w", err)
	}

	for col, header := range LedgerExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, name, name, ledgerColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	row := 2
	for _, rc := range day.Recites {
		values := []any{
			rc.ItemNumber,
			rc.ItemName,
			rc.ItemAmount,
			rc.ItemPrice.InexactFloat64(),
			rc.LineTotal().InexactFloat64(),
		}
		for col, v := range values {
			if err := setCellValue(f, sheetName, col+1, row, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
		from, _ := excelize.CoordinatesToCellName(4, row)
		to, _ := excelize.CoordinatesToCellName(5, row)
		if err := f.SetCellStyle(sheetName, from, to, moneyStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set money style: %w", err)
		}
		row++
	}

	// 合计行
	if err := setCellValue(f, sheetName, 1, row, "Total"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set total label: %w", err)
	}
	if err := setCellValue(f, sheetName, 5, row, day.Total.InexactFloat64()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set total value: %w", err)
	}
	from, _ := excelize.CoordinatesToCellName(1, row)
	to, _ := excelize.CoordinatesToCellName(5, row)
	if err := f.SetCellStyle(sheetName, from, to, totalStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set total style: %w", err)
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// setCellValue 设置单元格值
func setCellValue(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
