package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"scoville/internal/queue"
)

// tableColumn pairs a header with its alignment. Count columns are
// right-aligned so digits line up down the table.
type tableColumn struct {
	title   string
	numeric bool
}

func textColumn(title string) tableColumn  { return tableColumn{title: title} }
func countColumn(title string) tableColumn { return tableColumn{title: title, numeric: true} }

// renderTable renders rows under the given columns. Rows shorter than the
// column set are padded with blank cells.
func renderTable(columns []tableColumn, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.title
		align := text.AlignLeft
		if col.numeric {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(columns))
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		tw.AppendRow(cells)
	}

	return tw.Render()
}

// renderQueueStatsTable lays out per-queue job counts. Shared by the status
// and queue stats views.
func renderQueueStatsTable(stats []queue.Stats) string {
	rows := make([][]string, 0, len(stats))
	for _, stat := range stats {
		rows = append(rows, []string{
			stat.Queue,
			fmt.Sprintf("%d", stat.Created),
			fmt.Sprintf("%d", stat.Active),
			fmt.Sprintf("%d", stat.Completed),
			fmt.Sprintf("%d", stat.Failed),
		})
	}
	return renderTable([]tableColumn{
		textColumn("Queue"),
		countColumn("Pending"),
		countColumn("Active"),
		countColumn("Completed"),
		countColumn("Failed"),
	}, rows)
}
