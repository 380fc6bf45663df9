package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snietofennis/BEP-code/internal/config"
	"github.com/snietofennis/BEP-code/internal/metrics"
	"github.com/snietofennis/BEP-code/pkg/analysis"
	"github.com/snietofennis/BEP-code/pkg/netlist"
	"github.com/snietofennis/BEP-code/pkg/result"
)

var runCmd = &cobra.Command{
	Use:   "run [netlist]",
	Short: "Run a transient analysis",
	Long: `Parses the netlist, solves the operating point and steps to the end time.
The netlist may also come from the run file. Points committed before a
failure are still printed and written.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("csv", "", "Write the results as CSV to this file")
	f.String("json", "", "Write the results and run metadata as JSON to this file")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address while running, e.g. :2112")
	f.StringToString("param", nil, "Override a .param value, name=value")
	f.Int("every", 1, "Print every n-th point")
	f.BoolP("quiet", "q", false, "Do not print the result table")

	_ = viper.BindPFlag("metrics_addr", f.Lookup("metrics-addr"))
}

func runRun(cmd *cobra.Command, args []string) error {
	rc, fromFile, err := loadRunConfig()
	if err != nil {
		return err
	}
	path := rc.Netlist
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no netlist given")
	}

	flagParams, _ := cmd.Flags().GetStringToString("param")
	params, err := mergeParams(rc.Params, flagParams)
	if err != nil {
		return err
	}
	nl, err := netlist.ParseFile(path, netlist.WithParams(params))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	ac, err := analysisConfig(nl, rc, fromFile)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	logger := newLogger(rc)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	solver := metrics.NewSolver()
	reg := prometheus.NewRegistry()
	if err := solver.Register(reg); err != nil {
		return err
	}
	if addr := viper.GetString("metrics_addr"); addr != "" {
		serveMetrics(ctx, addr, reg, logger)
	}

	tr, err := analysis.NewTransient(nl.Circuit, ac,
		analysis.WithInitialConditions(mergeICs(nl.InitialConditions, rc.InitialConditions)),
		analysis.WithLogger(logger),
		analysis.WithObserver(solver),
	)
	if err != nil {
		return err
	}
	store, runErr := tr.Run(ctx)

	quiet, _ := cmd.Flags().GetBool("quiet")
	if !quiet {
		every, _ := cmd.Flags().GetInt("every")
		printTable(cmd.OutOrStdout(), store, every)
	}

	stats := tr.Stats()
	meta := result.Metadata{
		RunID:     tr.RunID(),
		Circuit:   nl.Circuit.Name(),
		Scheme:    tr.Config().Scheme.String(),
		Timestamp: time.Now().UTC(),
		Steps:     stats.Accepted,
		Rejected:  stats.Rejected,
	}
	csvPath, _ := cmd.Flags().GetString("csv")
	jsonPath, _ := cmd.Flags().GetString("json")
	if csvPath == "" {
		csvPath = rc.Output.CSV
	}
	if jsonPath == "" {
		jsonPath = rc.Output.JSON
	}
	if err := writeOutputs(store, meta, csvPath, jsonPath); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// analysisConfig combines the netlist .tran and .options cards with the run
// file. Solver settings come from the run file when there is one; its time
// span replaces .tran only when end_time is set.
func analysisConfig(nl *netlist.Netlist, rc *config.Config, fromFile bool) (analysis.Config, error) {
	base, err := nl.AnalysisConfig()
	if err != nil {
		return analysis.Config{}, err
	}
	ac := base
	if fromFile {
		if ac, err = rc.ToAnalysis(); err != nil {
			return analysis.Config{}, err
		}
		if ac.EndTime == 0 {
			ac.StartTime, ac.EndTime = base.StartTime, base.EndTime
			if ac.DtInitial == 0 {
				ac.DtInitial = base.DtInitial
			}
			if ac.DtMax == 0 {
				ac.DtMax = base.DtMax
			}
		}
		ac.UseInitialConditions = ac.UseInitialConditions || base.UseInitialConditions
	}
	if ac.EndTime == 0 {
		return analysis.Config{}, errors.New("no .tran card and no end_time in the run file")
	}
	return ac, nil
}

func mergeParams(base map[string]float64, overrides map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, raw := range overrides {
		v, err := netlist.ParseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// mergeICs lets run file values replace .ic values of the same name.
func mergeICs(maps ...map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
