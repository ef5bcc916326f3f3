package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/geofencer/internal/harness"
)

// Golden comparison outcomes.
const (
	GoldenMatch    = "match"
	GoldenMismatch = "mismatch"
	GoldenUpdated  = "updated"
	GoldenMissing  = "missing"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Filter    string
	Update    bool
	GoldenDir string
}

// ScenarioOutcome is the result of one scenario.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	Golden string   `json:"golden"`
}

// SimulateResult summarizes a simulate run.
type SimulateResult struct {
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Scenarios []ScenarioOutcome `json:"scenarios"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenarios-dir|scenario.yaml>",
		Short: "Run scenarios against a simulated device",
		Long: `Run YAML scenarios against a coordinator with a simulated device.

Each scenario runs in a fresh in-memory store. Its trace is compared with
golden/<name>.golden next to the scenario when that file exists; --update
rewrites the golden files instead.

Example:
  geofencer simulate ./scenarios
  geofencer simulate ./scenarios --filter arrive
  geofencer simulate ./scenarios/arrive_home.yaml --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name contains this")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "write golden files instead of comparing")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory (default: <scenario dir>/golden)")

	return cmd
}

func runSimulate(opts *SimulateOptions, target string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	paths, err := findScenarioFiles(target, opts.Filter)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if len(paths) == 0 {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no scenarios found in %s", target), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenarios found in %s", target))
	}

	var runOpts []harness.Option
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(newLogger(opts.RootOptions, formatter.GetErrWriter())))
	}

	result := SimulateResult{Scenarios: make([]ScenarioOutcome, 0, len(paths))}
	for _, path := range paths {
		formatter.VerboseLog("Running %s", path)
		outcome := runScenario(opts, path, runOpts)
		result.Total++
		if outcome.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, outcome)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputSimulateText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

// findScenarioFiles returns target itself when it is a file, otherwise the
// scenarios in the directory whose file name contains filter.
func findScenarioFiles(target, filter string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("scenario path not found: %s", target)
	}
	if !info.IsDir() {
		return []string{target}, nil
	}

	all, err := harness.FindScenarios(target)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return all, nil
	}
	var out []string
	for _, p := range all {
		if strings.Contains(filepath.Base(p), filter) {
			out = append(out, p)
		}
	}
	return out, nil
}

func runScenario(opts *SimulateOptions, path string, runOpts []harness.Option) ScenarioOutcome {
	outcome := ScenarioOutcome{Path: path, Golden: GoldenMissing}

	scenario, err := harness.LoadScenarioWithBasePath(path, filepath.Dir(path))
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return outcome
	}
	outcome.Name = scenario.Name

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("failed to run scenario: %v", err)}
		return outcome
	}
	outcome.Errors = result.Errors
	outcome.Pass = result.Pass

	golden, err := checkGolden(goldenFilePath(opts, path, scenario.Name), scenario.Name, result, opts.Update)
	if err != nil {
		outcome.Pass = false
		outcome.Errors = append(outcome.Errors, err.Error())
	}
	outcome.Golden = golden
	if golden == GoldenMismatch {
		outcome.Pass = false
		outcome.Errors = append(outcome.Errors, "trace differs from golden file")
	}
	return outcome
}

func goldenFilePath(opts *SimulateOptions, scenarioPath, name string) string {
	dir := opts.GoldenDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(scenarioPath), "golden")
	}
	return filepath.Join(dir, name+".golden")
}

// checkGolden compares the scenario trace with the golden file, or writes it
// when update is set.
func checkGolden(path, name string, result *harness.Result, update bool) (string, error) {
	actual, err := harness.MarshalSnapshot(name, result.Trace)
	if err != nil {
		return GoldenMissing, fmt.Errorf("failed to marshal trace: %w", err)
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return GoldenMissing, fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, actual, 0644); err != nil {
			return GoldenMissing, fmt.Errorf("failed to write golden file: %w", err)
		}
		return GoldenUpdated, nil
	}

	expected, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return GoldenMissing, nil
	}
	if err != nil {
		return GoldenMissing, fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(expected, actual) {
		return GoldenMismatch, nil
	}
	return GoldenMatch, nil
}

func outputSimulateText(formatter *OutputFormatter, result SimulateResult) {
	for _, s := range result.Scenarios {
		name := s.Name
		if name == "" {
			name = s.Path
		}
		mark := "✓"
		if !s.Pass {
			mark = "✗"
		}
		fmt.Fprintf(formatter.Writer, "%s %s", mark, name)
		if s.Golden != GoldenMissing {
			fmt.Fprintf(formatter.Writer, " (golden: %s)", s.Golden)
		}
		fmt.Fprintln(formatter.Writer)
		for _, e := range s.Errors {
			fmt.Fprintf(formatter.Writer, "    %s\n", e)
		}
	}
	fmt.Fprintf(formatter.Writer, "\n%d scenario(s): %d passed, %d failed\n", result.Total, result.Passed, result.Failed)
}
