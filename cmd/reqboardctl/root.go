package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL string
	project   string
	principal string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "reqboardctl",
	Short: "CLI for the reqboard server",
	Long: `reqboardctl talks to a running reqboard server.

All commands operate within a project. Set it with --project, the
REQBOARD_PROJECT environment variable, or a reqboardctl config file.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Reqboard server URL")
	rootCmd.PersistentFlags().StringVarP(&project, "project", "p", "", "Project to operate on")
	rootCmd.PersistentFlags().StringVar(&principal, "as", "", "Principal to act as (sent as X-User-Principal)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	viper.SetEnvPrefix("REQBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))

	rootCmd.AddCommand(requirementsCmd)
	rootCmd.AddCommand(changeRequestsCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(matrixCmd)
}

// resolvedServer returns the effective server URL.
// Priority: --server flag > REQBOARD_SERVER env var > default.
func resolvedServer() string {
	return viper.GetString("server")
}

// resolvedProject returns the effective project.
// Priority: --project flag > REQBOARD_PROJECT env var.
func resolvedProject() string {
	return viper.GetString("project")
}
