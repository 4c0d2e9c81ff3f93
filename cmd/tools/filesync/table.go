package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/SakshamManav/File-Synchronization/backend/pkg/api"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderStatus formats a status reply for the terminal.
func renderStatus(status api.StatusResponse, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session %s: %s", status.SessionID, status.Status)
	if status.ConnectionCreated {
		b.WriteString(", phone connected")
	}
	switch {
	case status.Expired():
		b.WriteString("\nThis session has ended and its files were removed.\n")
		return b.String()
	case status.ExpiresAt != nil:
		fmt.Fprintf(&b, ", expires %s", humanize.RelTime(*status.ExpiresAt, now, "ago", "from now"))
	}
	b.WriteString("\n")

	if len(status.Uploads) == 0 && len(status.Messages) == 0 {
		b.WriteString("Nothing received yet.\n")
		return b.String()
	}

	if len(status.Uploads) > 0 {
		rows := make([][]string, 0, len(status.Uploads))
		for _, u := range status.Uploads {
			rows = append(rows, []string{
				u.OriginalName,
				u.Filename,
				humanize.Bytes(uint64(max(u.Size, 0))),
				humanize.RelTime(u.UploadedAt, now, "ago", "from now"),
			})
		}
		b.WriteString(renderTable(
			[]string{"File", "Stored As", "Size", "Received"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		))
		b.WriteString("\n")
	}

	if len(status.Messages) > 0 {
		rows := make([][]string, 0, len(status.Messages))
		for _, m := range status.Messages {
			rows = append(rows, []string{m.Text, humanize.RelTime(m.SentAt, now, "ago", "from now")})
		}
		b.WriteString(renderTable([]string{"Message", "Sent"}, rows, nil))
		b.WriteString("\n")
	}
	return b.String()
}
