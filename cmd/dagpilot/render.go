package main

import (
	"fmt"

	"dagpilot/internal/config"
	"dagpilot/internal/generator"

	"github.com/moby/sys/atomicwriter"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the templated DAG file without touching the scheduler",
	Long: `Render runs the built-in template generator once for the DAG definition
and prints the result, or writes it to --out.`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	renderCmd.Flags().String("dag", "", "DAG definition file (default $DAG_FILE or dag.yaml)")
	renderCmd.Flags().StringP("out", "o", "", "write the rendered file here instead of stdout")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	svc := config.LoadServiceConfig()
	if path, _ := cmd.Flags().GetString("dag"); path != "" {
		svc.DAGFile = path
	}

	d, err := config.LoadDAG(svc.DAGFile)
	if err != nil {
		return err
	}
	content, err := generator.NewTemplate().Generate(cmd.Context(), generator.Request{DAG: d, Attempt: 1})
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		_, err = cmd.OutOrStdout().Write(content)
		return err
	}
	if err := atomicwriter.WriteFile(out, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Rendered %s to %s\n", d.ID, out)
	return nil
}
