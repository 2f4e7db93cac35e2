package main

import (
	"net/url"

	"github.com/spf13/cobra"

	"github.com/reqboard/reqboard/pkg/changecontrol"
)

var crStatusFilter []string

var changeRequestsCmd = &cobra.Command{
	Use:     "changerequests",
	Aliases: []string{"rfc"},
	Short:   "Manage change requests",
}

var changeRequestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List change requests in the project",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		query := url.Values{}
		for _, st := range crStatusFilter {
			query.Add("status", st)
		}
		path := "/api/v1/changerequests"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var list changecontrol.ChangeRequestList
		if err := client.getJSON(path, &list); err != nil {
			return err
		}

		if outputFmt == "table" {
			rows := make([][]string, len(list.ChangeRequests))
			for i, cr := range list.ChangeRequests {
				rows[i] = []string{
					cr.DisplayID,
					truncate(cr.Title, 48),
					string(cr.Status),
					string(cr.ImpactLevel),
					cr.RequesterID,
				}
			}
			printTable([]string{"id", "title", "status", "impact", "requester"}, rows)
			return nil
		}
		return printOutput(list)
	},
}

var changeRequestsTransitionCmd = &cobra.Command{
	Use:   "transition <id> <status>",
	Short: "Move a change request to a new workflow state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		note, _ := cmd.Flags().GetString("note")
		var cr changecontrol.ChangeRequest
		err = client.postJSON("/api/v1/changerequests/"+url.PathEscape(args[0])+"/transition",
			changecontrol.TransitionInput{Status: changecontrol.Status(args[1]), Note: note}, &cr)
		if err != nil {
			return err
		}
		if outputFmt == "table" {
			outputFmt = "json"
		}
		return printOutput(cr)
	},
}

func init() {
	changeRequestsListCmd.Flags().StringSliceVar(&crStatusFilter, "status", nil, "Filter by status (repeatable)")
	changeRequestsTransitionCmd.Flags().String("note", "", "Decision note to record")

	changeRequestsCmd.AddCommand(changeRequestsListCmd)
	changeRequestsCmd.AddCommand(changeRequestsTransitionCmd)
}
