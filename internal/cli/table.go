package cli

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/chapter-crawler/internal/app"
)

var resultHeaders = table.Row{"Work", "Title", "Status", "Fetched", "Reused", "Failed", "Pending", "Chars", "Result"}

// numeric columns are right aligned.
var numericColumns = []int{4, 5, 6, 7, 8}

func renderResults(results []app.Result) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(resultHeaders)
	for _, res := range results {
		s := res.Summary
		outcome := "ok"
		if res.Err != nil {
			outcome = res.Err.Error()
		}
		tw.AppendRow(table.Row{
			strconv.FormatInt(s.WorkID, 10),
			s.Title,
			s.Status,
			s.Fetched,
			s.Reused,
			s.Failed,
			s.Pending(),
			s.Chars,
			outcome,
		})
	}
	configs := make([]table.ColumnConfig, 0, len(numericColumns))
	for _, n := range numericColumns {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
