// Command pgoutputcdc streams logical changes from a PostgreSQL pgoutput
// replication slot to a configurable sink (stdout, HTTP, or a webhook
// service), with an optional status API and terminal dashboard.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
