// dagpilot drives a generated Airflow DAG from generation to a successful
// run, regenerating it whenever validation, testing or the run reports errors.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "dagpilot",
	Short: "Lifecycle controller for generated Airflow DAGs",
	Long: `dagpilot generates an Airflow DAG file, registers it with the scheduler,
validates and tests it, triggers a run and monitors it. Any error reported
along the way is fed back to the generator for another attempt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
