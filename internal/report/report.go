// Package report writes the journal to a spreadsheet.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/orgphotos/pkg/models"
)

const (
	SheetMoves  = "Moves"
	SheetPasses = "Passes"
)

var moveHeader = []any{"Pass", "Item", "Name", "Source", "Target", "Size", "Tier", "Method", "Date", "Outcome", "Error", "Recorded"}

var passHeader = []any{"Pass", "Started", "Finished", "Listed", "Moved", "Unsorted", "Already sorted", "Vanished", "Failed", "Aborted", "Error"}

// ExportXLSX writes moves and passes to path as two sheets.
func ExportXLSX(path string, moves []models.MoveRecord, passes []models.PassRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetMoves); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetPasses); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := writeRow(f, SheetMoves, 1, moveHeader); err != nil {
		return err
	}
	for i, m := range moves {
		date := ""
		if m.ResolvedAt != nil {
			date = m.ResolvedAt.UTC().Format(time.RFC3339)
		}
		row := []any{
			m.PassID, m.ItemID, m.Name, m.SourcePath, m.TargetPath, m.Size,
			m.Tier.String(), m.Method, date, string(m.Outcome), m.Error,
			m.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writeRow(f, SheetMoves, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, SheetPasses, 1, passHeader); err != nil {
		return err
	}
	for i, p := range passes {
		finished := ""
		if !p.FinishedAt.IsZero() {
			finished = p.FinishedAt.UTC().Format(time.RFC3339)
		}
		row := []any{
			p.ID, p.StartedAt.UTC().Format(time.RFC3339), finished,
			p.Listed, p.Moved, p.Unsorted, p.AlreadySorted, p.Vanished, p.Failed,
			p.Aborted, p.Error,
		}
		if err := writeRow(f, SheetPasses, i+2, row); err != nil {
			return err
		}
	}

	for _, sheet := range []string{SheetMoves, SheetPasses} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return err
		}
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
