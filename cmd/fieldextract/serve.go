package main

import "github.com/spf13/cobra"

// serveCmd is a thin stub: §1 scopes this repository to the extraction
// facade's three operations (extract, submit_corrections, train) as a
// library and CLI, not a long-running service. A real deployment would
// wrap pipeline.Pipeline behind an HTTP or gRPC front end here.
var serveCmd = &cobra.Command{
	Use:    "serve",
	Short:  "Out of scope: run fieldextract as a long-running service",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errNotImplemented
	},
}
