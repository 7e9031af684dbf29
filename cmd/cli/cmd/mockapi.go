// Package cmd - CLI command: cloudcost-etl mockapi
package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"cloudcost-etl/adapters/mockapi"
	"cloudcost-etl/internal/logging"
)

var mockAddr string

var mockapiCmd = &cobra.Command{
	Use:   "mockapi",
	Short: "Serve the mock cloud cost API",
	Long: `Serve a deterministic stand-in for the external cost API, including
the data quality problems the pipeline is built to absorb: sentinel
costs ("N/A", "pending"), missing team or currency, empty cost
centers and comma-formatted numbers (~10% of records).

The same date window always produces the same payload, so the
idempotency self-test can run against this server.`,
	RunE: runMockAPI,
}

func init() {
	rootCmd.AddCommand(mockapiCmd)
	mockapiCmd.Flags().StringVar(&mockAddr, "addr", ":5001", "listen address")
}

func runMockAPI(cmd *cobra.Command, args []string) error {
	defer logging.Sync()

	server := mockapi.NewServer(logging.Logger)
	fmt.Printf("Mock cloud cost API listening on %s\n", mockAddr)
	fmt.Println("  GET /v1/cloud-costs?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD")
	fmt.Println("  GET /health")
	return http.ListenAndServe(mockAddr, server.Handler())
}
