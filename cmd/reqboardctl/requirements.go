package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/requirements"
)

var (
	reqStatusFilter []string
	reqKindFilter   []string
)

var requirementsCmd = &cobra.Command{
	Use:     "requirements",
	Aliases: []string{"req"},
	Short:   "Manage requirements",
}

var requirementsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requirements in the project",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		query := url.Values{}
		for _, st := range reqStatusFilter {
			query.Add("status", st)
		}
		for _, k := range reqKindFilter {
			query.Add("kind", k)
		}
		path := "/api/v1/requirements"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var list requirements.RequirementList
		if err := client.getJSON(path, &list); err != nil {
			return err
		}

		if outputFmt == "table" {
			rows := make([][]string, len(list.Requirements))
			for i, r := range list.Requirements {
				rows[i] = []string{
					r.DisplayID,
					truncate(r.Title, 48),
					string(r.Kind),
					string(r.Priority),
					string(r.Status),
					fmt.Sprintf("%t", r.IsBaselined),
				}
			}
			printTable([]string{"id", "title", "kind", "priority", "status", "baselined"}, rows)
			return nil
		}
		return printOutput(list)
	},
}

var requirementsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a single requirement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var req requirements.Requirement
		if err := client.getJSON("/api/v1/requirements/"+url.PathEscape(args[0]), &req); err != nil {
			return err
		}
		if outputFmt == "table" {
			outputFmt = "json"
		}
		return printOutput(req)
	},
}

var requirementsHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a requirement's change history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var list history.EntryList
		if err := client.getJSON("/api/v1/requirements/"+url.PathEscape(args[0])+"/history", &list); err != nil {
			return err
		}

		if outputFmt == "table" {
			rows := make([][]string, len(list.Entries))
			for i, e := range list.Entries {
				version := ""
				if e.BaselineVersion != nil {
					version = fmt.Sprintf("v%d", *e.BaselineVersion)
				}
				rows[i] = []string{
					fmt.Sprintf("%d", e.Seq),
					string(e.Action),
					e.ActorID,
					version,
					formatWhen(e.CreatedAt),
				}
			}
			printTable([]string{"seq", "action", "actor", "baseline", "at"}, rows)
			return nil
		}
		return printOutput(list)
	},
}

func init() {
	requirementsListCmd.Flags().StringSliceVar(&reqStatusFilter, "status", nil, "Filter by status (repeatable)")
	requirementsListCmd.Flags().StringSliceVar(&reqKindFilter, "kind", nil, "Filter by kind (repeatable)")

	requirementsCmd.AddCommand(requirementsListCmd)
	requirementsCmd.AddCommand(requirementsGetCmd)
	requirementsCmd.AddCommand(requirementsHistoryCmd)
}
