package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reqboard/reqboard/pkg/trace"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Show the project's traceability coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var cov trace.Coverage
		if err := client.getJSON("/api/v1/trace/coverage", &cov); err != nil {
			return err
		}

		if outputFmt == "table" {
			printTable(
				[]string{"total", "covered", "percent"},
				[][]string{{
					fmt.Sprintf("%d", cov.TotalRequirements),
					fmt.Sprintf("%d", cov.CoveredRequirements),
					fmt.Sprintf("%d%%", cov.Percent),
				}},
			)
			return nil
		}
		return printOutput(cov)
	},
}

var (
	matrixStatusFilter []string
	matrixKindFilter   []string
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Show the project's traceability matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		query := url.Values{}
		for _, st := range matrixStatusFilter {
			query.Add("status", st)
		}
		for _, k := range matrixKindFilter {
			query.Add("kind", k)
		}
		path := "/api/v1/trace/matrix"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var matrix trace.Matrix
		if err := client.getJSON(path, &matrix); err != nil {
			return err
		}

		if outputFmt == "table" {
			rows := make([][]string, len(matrix.Rows))
			for i, row := range matrix.Rows {
				rows[i] = []string{
					row.DisplayID,
					truncate(row.Title, 40),
					strings.Join(row.Artifacts[trace.ArtifactTask], ","),
					strings.Join(row.Artifacts[trace.ArtifactTestCase], ","),
					fmt.Sprintf("%t", row.Covered),
				}
			}
			printTable([]string{"id", "title", "tasks", "tests", "covered"}, rows)
			return nil
		}
		return printOutput(matrix)
	},
}

func init() {
	matrixCmd.Flags().StringSliceVar(&matrixStatusFilter, "status", nil, "Filter by requirement status (repeatable)")
	matrixCmd.Flags().StringSliceVar(&matrixKindFilter, "kind", nil, "Filter by requirement kind (repeatable)")
}
