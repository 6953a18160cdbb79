package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SyncHistorySheet = "SyncHistory"
	EnergyUsageSheet = "EnergyUsage"
)

// SyncHistoryExportHeader 同步账本导出表头
var SyncHistoryExportHeader = []string{
	"ID",
	"Sync Type",
	"Status",
	"Records Synced",
	"Errors Count",
	"Error Message",
	"Duration (ms)",
	"Last Sync Timestamp",
	"Created At",
}

// EnergyUsageExportHeader 能耗记录导出表头
var EnergyUsageExportHeader = []string{
	"Building ID",
	"Floor ID",
	"Space ID",
	"Timestamp",
	"Usage Type",
	"Consumption (kWh)",
	"Cost (USD)",
	"Source",
	"Sync Timestamp",
}

var (
	syncHistoryColumnWidths = []float64{38, 12, 22, 15, 13, 60, 14, 22, 22}
	energyUsageColumnWidths = []float64{28, 28, 28, 22, 14, 18, 12, 14, 22}
)

// GenerateSyncExport 生成同步账本与能耗记录的 Excel 文件
func GenerateSyncExport(history []models.SyncStatusEntry, usage []models.EnergyUsageRecord) ([]byte, error) {
	f := excelize.NewFile()

	historyRows := make([][]any, 0, len(history))
	for _, e := range history {
		var lastSync, errMsg string
		if e.LastSyncTimestamp != nil {
			lastSync = formatTime(*e.LastSyncTimestamp)
		}
		if e.ErrorMessage != nil {
			errMsg = *e.ErrorMessage
		}
		historyRows = append(historyRows, []any{
			e.ID,
			string(e.SyncType),
			e.Status,
			e.RecordsSynced,
			e.ErrorsCount,
			errMsg,
			e.DurationMs,
			lastSync,
			formatTime(e.CreatedAt),
		})
	}

	usageRows := make([][]any, 0, len(usage))
	for _, u := range usage {
		usageRows = append(usageRows, []any{
			u.BuildingID,
			u.FloorID,
			u.SpaceID,
			formatTime(u.Timestamp),
			u.UsageType,
			u.ConsumptionKWh,
			u.CostUSD,
			u.Source,
			formatTime(u.SyncTimestamp),
		})
	}

	if err := writeSheet(f, SyncHistorySheet, SyncHistoryExportHeader, syncHistoryColumnWidths, historyRows); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSheet(f, EnergyUsageSheet, EnergyUsageExportHeader, energyUsageColumnWidths, usageRows); err != nil {
		f.Close()
		return nil, err
	}

	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	if index, err := f.GetSheetIndex(SyncHistorySheet); err == nil {
		f.SetActiveSheet(index)
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

// writeSheet 新建工作表并写入表头、列宽和数据
func writeSheet(f *excelize.File, sheetName string, headers []string, widths []float64, rows [][]any) error {
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheetName, err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
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
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i := 0; i < len(headers) && i < len(widths); i++ {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, widths[i]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, values := range rows {
		row := rowIdx + 2 // 第1行是表头
		for colIdx, value := range values {
			if value == nil || value == "" {
				continue
			}
			if err := setCellValue(f, sheetName, colIdx+1, row, value); err != nil {
				return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, colIdx+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func setCellValue(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
