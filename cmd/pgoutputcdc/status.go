package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdcstream/pgoutputcdc/internal/metrics"
)

var statusAPIAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the replication state of a running pgoutputcdc instance",
	Long: `Status queries the status HTTP API of an already-running pgoutputcdc
process (started with --api-port) and prints its current state, LSN
watermarks, lag, and throughput.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		snap, err := fetchStatus(client, statusAPIAddr)
		if err != nil {
			return fmt.Errorf("fetch status from %s: %w", statusAPIAddr, err)
		}

		fmt.Printf("State:         %s\n", snap.State)
		fmt.Printf("Elapsed:       %.0fs\n", snap.ElapsedSec)
		fmt.Printf("Received LSN:  %s\n", snap.ReceivedLSN)
		fmt.Printf("Applied LSN:   %s\n", snap.AppliedLSN)
		fmt.Printf("Lag:           %s\n", snap.LagFormatted)
		fmt.Printf("Throughput:    %.1f events/s\n", snap.EventsPerSec)
		fmt.Printf("Total events:  %d\n", snap.TotalEvents)
		for kind, n := range snap.EventCounts {
			fmt.Printf("  %-10s %d\n", kind, n)
		}
		if snap.ErrorCount > 0 {
			fmt.Printf("Errors:        %d (last: %s)\n", snap.ErrorCount, snap.LastError)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAPIAddr, "api-addr", "http://localhost:7654", "Address of a running pgoutputcdc status API")
	rootCmd.AddCommand(statusCmd)
}

func fetchStatus(client *http.Client, addr string) (*metrics.Snapshot, error) {
	resp, err := client.Get(addr + "/api/v1/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var snap metrics.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
