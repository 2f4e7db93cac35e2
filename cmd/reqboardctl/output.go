package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// printOutput renders v in the format selected with --output. The yaml path
// round-trips through JSON so keys follow the API field names instead of Go
// identifiers.
func printOutput(v any) error {
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	}
	return fmt.Errorf("unsupported output format for structured data: %s (use json or yaml)", outputFmt)
}

// printTable writes an aligned table for the operator-facing list views,
// headers uppercased.
func printTable(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(os.Stdout, 4, 4, 3, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(headers, "\t")))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// formatWhen compacts an RFC3339Nano timestamp for table cells. Anything
// unparseable prints as received.
func formatWhen(ts string) string {
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return parsed.Local().Format("2006-01-02 15:04")
}

// truncate caps s at max characters, marking the cut with an ellipsis when
// there is room for one.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
