package commands

import (
	"fmt"
	"strconv"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// every command prints through these helpers
// ═══════════════════════════════════════════════════════════

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintHeader prints a titled block header
func PrintHeader(title string) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", title)
	PrintSeparator()
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	for i := 0; i < totalWidth; i++ {
		fmt.Print("─")
	}
	fmt.Println()
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

// PrintSummary prints an import summary with its per-date breakdown
func PrintSummary(s *contracts.ImportSummary) {
	PrintHeader("Import " + s.FileName)
	PrintKeyValue("Batch", s.BatchID, 10)
	PrintKeyValue("Type", string(s.ImportType), 10)
	PrintKeyValue("Mode", string(s.Mode), 10)
	PrintKeyValue("Total", strconv.Itoa(s.TotalRecords), 10)
	PrintKeyValue("Imported", strconv.Itoa(s.ImportedRecords), 10)
	PrintKeyValue("Errors", strconv.Itoa(s.ErrorRecords), 10)
	PrintKeyValue("Skipped", strconv.Itoa(s.SkippedRecords), 10)
	PrintKeyValue("Duration", fmt.Sprintf("%dms", s.DurationMs), 10)
	PrintSeparator()

	widths := []int{10, 8, 9, 8, 8, 8, 8, 9}
	PrintTableHeader([]string{"DATE", "TASK", "STATUS", "IMPORT", "ERRORS", "SKIP", "CONCEPT", "NEW HIGH"}, widths)
	for _, d := range s.Dates {
		date := d.Date
		if date == "" {
			date = "-"
		}
		PrintTableRow([]string{
			date,
			"#" + strconv.FormatInt(d.TaskID, 10),
			string(d.Status),
			strconv.Itoa(d.Imported),
			strconv.Itoa(d.Errors),
			strconv.Itoa(d.Skipped),
			strconv.Itoa(d.Concepts),
			strconv.Itoa(d.NewHighs),
		}, widths)
	}

	if len(s.Warnings) > 0 {
		PrintSeparator()
		for _, w := range s.Warnings {
			PrintWarning(w)
		}
	}
	PrintSeparator()

	if s.Success {
		PrintSuccess("Import succeeded")
	} else {
		PrintError("Import finished with failures")
	}
}

// PrintTask prints one task
func PrintTask(t *contracts.ImportTask) {
	PrintHeader(fmt.Sprintf("Task #%d", t.ID))
	date := "-"
	if t.TradingDate != nil {
		date = t.TradingDate.Format(contracts.DateLayout)
	}
	PrintKeyValue("Batch", t.BatchID, 10)
	PrintKeyValue("File", t.FileName, 10)
	PrintKeyValue("Type", string(t.ImportType), 10)
	PrintKeyValue("Date", date, 10)
	PrintKeyValue("Status", string(t.Status), 10)
	PrintKeyValue("Total", strconv.Itoa(t.TotalRecords), 10)
	PrintKeyValue("Imported", strconv.Itoa(t.ImportedRecords), 10)
	PrintKeyValue("Errors", strconv.Itoa(t.ErrorRecords), 10)
	PrintKeyValue("Skipped", strconv.Itoa(t.SkippedRecords), 10)
	if t.ErrorDetail != "" {
		PrintKeyValue("Detail", t.ErrorDetail, 10)
	}
	PrintSeparator()
}
