package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snietofennis/BEP-code/internal/metrics"
	"github.com/snietofennis/BEP-code/pkg/analysis"
	"github.com/snietofennis/BEP-code/pkg/netlist"
)

var batchCmd = &cobra.Command{
	Use:   "batch netlist...",
	Short: "Run several netlists concurrently",
	Long: `Each netlist is an independent run with the same run file settings.
A failed run does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	f := batchCmd.Flags()
	f.Int("parallel", runtime.NumCPU(), "Runs at a time")
	f.String("out-dir", "", "Write one CSV per run into this directory")
}

func runBatch(cmd *cobra.Command, args []string) error {
	rc, fromFile, err := loadRunConfig()
	if err != nil {
		return err
	}
	logger := newLogger(rc)
	solver := metrics.NewSolver()

	var jobs []analysis.Job
	for _, path := range args {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		nl, err := netlist.ParseFile(path, netlist.WithParams(rc.Params), netlist.WithName(name))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		ac, err := analysisConfig(nl, rc, fromFile)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		jobs = append(jobs, analysis.Job{
			Name:    name,
			Circuit: nl.Circuit,
			Config:  ac,
			Options: []analysis.Option{
				analysis.WithInitialConditions(mergeICs(nl.InitialConditions, rc.InitialConditions)),
				analysis.WithLogger(logger),
				analysis.WithObserver(solver),
			},
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	parallel, _ := cmd.Flags().GetInt("parallel")
	results, runErr := analysis.RunBatch(ctx, jobs, parallel)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-32s %-36s %8s %8s %8s  %s\n", "run", "id", "points", "accepted", "rejected", "status")
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		points := 0
		if r.Store != nil {
			points = r.Store.Len()
		}
		fmt.Fprintf(w, "%-32s %-36s %8d %8d %8d  %s\n", r.Name, r.RunID, points, r.Stats.Accepted, r.Stats.Rejected, status)
	}

	outDir, _ := cmd.Flags().GetString("out-dir")
	if outDir == "" {
		return runErr
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Join(runErr, err)
	}
	var errs []error
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	for _, r := range results {
		if r.Store == nil {
			continue
		}
		path := filepath.Join(outDir, sanitize(r.Name)+".csv")
		if err := writeFile(path, r.Store.WriteCSV); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(append([]error{runErr}, errs...)...)
}

var fileNameReplacer = strings.NewReplacer("/", "_", " ", "_")

func sanitize(name string) string {
	return fileNameReplacer.Replace(name)
}
