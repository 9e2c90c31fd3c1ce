package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/villasimius/sitebuild/internal/pipeline"
)

// outputFormat is a validating pflag.Value for --output.
type outputFormat string

var outputFormats = []string{"table", "json", "yaml"}

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }
func (f *outputFormat) Type() string   { return "format" }

func (f *outputFormat) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, known := range outputFormats {
		if v == known {
			*f = outputFormat(v)
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q (supported: %s)", v, strings.Join(outputFormats, ", "))
}

var tasksOutput = outputFormat("table")

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"list", "l"},
	Short:   "List tasks and their stages",
	Long: `List every task with its stages. Producers are listed as single-stage
tasks under their own names.

Examples:
  sitebuild tasks              # Table
  sitebuild tasks -o yaml      # Fully expanded plans as YAML`,
	RunE: runListTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().VarP(&tasksOutput, "output", "o", "output format (table|json|yaml)")
}

func runListTasks(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	s, err := a.site(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	tasks := s.Graph.Tasks()
	out := cmd.OutOrStdout()
	switch tasksOutput {
	case "json", "yaml":
		plans := make([]*pipeline.Plan, 0, len(tasks))
		for _, t := range tasks {
			plan, err := s.Graph.Describe(t.Name)
			if err != nil {
				return err
			}
			plans = append(plans, plan)
		}
		if tasksOutput == "json" {
			return writeJSON(out, plans)
		}
		return writeYAML(out, plans)
	default:
		return writeTaskTable(out, s.Graph, tasks)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func writeTaskTable(w io.Writer, g *pipeline.Graph, tasks []pipeline.Task) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTAGES\tPRODUCERS")
	fmt.Fprintln(tw, "----\t------\t---------")
	for _, t := range tasks {
		stages := make([]string, len(t.Stages))
		for i, st := range t.Stages {
			stages[i] = st.String()
		}
		plan, err := g.Describe(t.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", t.Name, strings.Join(stages, " -> "), len(plan.Producers()))
	}
	return tw.Flush()
}
