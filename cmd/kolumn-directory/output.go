package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/handlers"
	"github.com/schemabounce/kolumn/directory/helpers/ui"
	"github.com/schemabounce/kolumn/directory/snapshot"
)

const (
	outputJSON  = "json"
	outputTable = "table"
)

var outputFormat string

// render prints data in the selected output format. Table output falls back
// to the JSON envelope on failure or for shapes it does not know.
func render(cmd *cobra.Command, data interface{}, err error) error {
	if outputFormat != outputTable || err != nil {
		return writeResponse(cmd.OutOrStdout(), data, err)
	}
	headers, rows, ok := tabulate(data)
	if !ok {
		return writeResponse(cmd.OutOrStdout(), data, nil)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No rows.")
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), ui.Table(headers, rows, ui.GetStyleOptions(cmd.OutOrStdout())))
	return nil
}

func tabulate(data interface{}) ([]string, [][]string, bool) {
	var rows [][]string
	switch v := data.(type) {
	case []core.Node:
		for _, n := range v {
			rows = append(rows, []string{strconv.FormatInt(n.ID, 10), n.Label, n.Description})
		}
		return []string{"oid", "name", "description"}, rows, true
	case []*snapshot.Snapshot:
		for _, s := range v {
			rows = append(rows, []string{strconv.FormatInt(s.OID, 10), s.Name, s.Owner, s.Location, s.DescriptionText()})
		}
		return []string{"oid", "name", "owner", "location", "description"}, rows, true
	case []core.DependentRecord:
		for _, d := range v {
			rows = append(rows, []string{d.Type, d.Name, d.Field})
		}
		return []string{"type", "name", "field"}, rows, true
	case []core.DependencyRecord:
		for _, d := range v {
			rows = append(rows, []string{d.Type, d.Name, d.Field})
		}
		return []string{"type", "name", "field"}, rows, true
	case []core.Row:
		return tabulateRows(v)
	default:
		return nil, nil, false
	}
}

func tabulateRows(in []core.Row) ([]string, [][]string, bool) {
	if len(in) == 0 {
		return nil, nil, true
	}
	headers := make([]string, 0, len(in[0]))
	for k := range in[0] {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	rows := make([][]string, 0, len(in))
	for _, r := range in {
		row := make([]string, len(headers))
		for i, h := range headers {
			if !r.IsNull(h) {
				row[i] = fmt.Sprint(r[h])
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, true
}

// reportStatus writes a one-line outcome of a change to w.
func reportStatus(w io.Writer, subject string, done string, err error) {
	opts := ui.GetStyleOptions(w)
	var partial *handlers.PartialSuccessError
	switch {
	case err == nil:
		fmt.Fprintln(w, ui.FormatStatusLine("", done, subject, "", opts))
	case errors.As(err, &partial):
		fmt.Fprintln(w, ui.FormatStatusLine("", "partial", subject, partial.Err.Error(), opts))
	default:
		fmt.Fprintln(w, ui.FormatStatusLine("", "failed", subject, err.Error(), opts))
	}
}
