package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sxmcli/internal/app"
	"sxmcli/internal/config"
	"sxmcli/internal/exporter"
	"sxmcli/internal/validation"
	"sxmcli/pkg/contracts/domain"
	"sxmcli/pkg/contracts/events"
)

func main() {
	in := flag.String("in", "", "sweep file or glob pattern")
	channel := flag.String("channel", "", "channel to fit")
	matrix := flag.Bool("matrix", false, "assemble the inputs into a matrix scan and fit every cell")
	outDir := flag.String("out-dir", "", "write per-coefficient XYZ maps to this directory (matrix mode)")
	csvOut := flag.Bool("csv", false, "also write the fit table as CSV (matrix mode, needs -out-dir)")
	report := flag.Bool("report", false, "also write the xlsx fit report (matrix mode, needs -out-dir)")
	trace := flag.Bool("trace", false, "emit batch spans to stdout")
	flag.Parse()

	if *in == "" || *channel == "" {
		slog.Error("-in and -channel are required")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.Engine.Tracing = *trace

	engine, err := app.New(cfg, nil)
	if err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	logger := engine.Logger

	paths, err := resolveInputs(engine, *in)
	if err != nil {
		logger.Error("Input resolution failed", slog.String("in", *in), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Sweep files resolved", slog.Int("count", len(paths)))

	if !*matrix {
		if *outDir != "" || *csvOut || *report {
			logger.Warn("-out-dir, -csv and -report apply to matrix mode only")
		}
		if !fitSingles(engine, paths, *channel) {
			os.Exit(1)
		}
		return
	}

	if *outDir != "" {
		validator := validation.NewFileValidator(logger)
		if err := validator.ValidateOutputDirectory(*outDir); err != nil {
			logger.Error("Output directory rejected", slog.String("dir", *outDir), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if !fitMatrix(engine, paths, *channel, *outDir, *csvOut, *report) {
		os.Exit(1)
	}
}

// resolveInputs expands a glob pattern and checks every match carries a
// spectroscopy extension. A plain existing path matches itself.
func resolveInputs(engine *app.App, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no input files match %q", pattern)
	}

	validator := validation.NewFileValidator(engine.Logger)
	for _, path := range matches {
		if err := validator.ValidateMeasurementFile(path, engine.Config.Format.SweepExtensions); err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// fitSingles fits each sweep independently and prints one result line
// per file. A file that fails only skips itself.
func fitSingles(engine *app.App, paths []string, channel string) bool {
	succeeded := 0
	for i, path := range paths {
		engine.Logger.Info("Fitting sweep",
			slog.Int("current", i+1),
			slog.Int("total", len(paths)),
			slog.String("path", path))

		res, err := engine.GetSpectroscopy(context.Background(), domain.SpectroscopyRequest{Paths: []string{path}})
		if err != nil {
			engine.Logger.Error("Sweep load failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		fit, err := engine.FitParabola(res.Record, domain.FitRequest{Channel: channel})
		if err != nil {
			engine.Logger.Error("Fit failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		printFit(path, fit)
		succeeded++
	}

	fmt.Printf("Fitted %d of %d sweeps\n", succeeded, len(paths))
	return succeeded > 0
}

func printFit(path string, fit domain.FitResult) {
	fmt.Printf("%s: a=%.6g b=%.6g c=%.6g", path, fit.A, fit.B, fit.C)
	if fit.Vertex.Valid {
		fmt.Printf(" vertex=(%.6g, %.6g)", fit.Vertex.X, fit.Vertex.Y)
	}
	fmt.Printf(" rmse=%.6g converged=%v\n", fit.RMSE, fit.Converged)
}

// fitMatrix runs the per-cell fit batch through the runner, reporting
// progress from the event stream, then writes the requested outputs
// from the retained result. Ctrl-C cancels the batch.
func fitMatrix(engine *app.App, paths []string, channel, outDir string, csvOut, report bool) bool {
	token, err := engine.Runner.SubmitMatrixFit(paths, channel)
	if err != nil {
		engine.Logger.Error("Failed to submit matrix fit", slog.String("error", err.Error()))
		return false
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		engine.Logger.Warn("Cancelling matrix fit", slog.String("token", token))
		engine.Cancel(token)
	}()

	done := waitForBatch(engine, token)
	if done == nil {
		return false
	}
	if done.Cancelled {
		fmt.Println("Matrix fit cancelled")
		return false
	}

	fmt.Printf("Fitted %d of %d cells\n", done.Stats.Succeeded, done.Stats.Submitted)

	res, ok := engine.Runner.Result(token)
	if !ok || res.Maps == nil {
		engine.Logger.Error("Matrix fit produced no maps", slog.String("token", token))
		return false
	}
	defer engine.Runner.DiscardResult(token)

	if outDir == "" {
		return true
	}
	return writeOutputs(engine, paths, res.Maps, outDir, csvOut, report)
}

// waitForBatch drains the event stream until the batch finishes,
// logging per-cell failures along the way.
func waitForBatch(engine *app.App, token string) *events.BatchDone {
	for ev := range engine.Events() {
		if ev.Token != token {
			continue
		}
		switch ev.Type {
		case events.TypeFitReady:
			engine.Logger.Debug("Cell fitted",
				slog.Int("row", ev.FitReady.Row),
				slog.Int("col", ev.FitReady.Col))
		case events.TypeBatchError:
			engine.Logger.Warn("Cell failed",
				slog.Int("row", ev.BatchError.Row),
				slog.Int("col", ev.BatchError.Col),
				slog.String("path", ev.BatchError.Path),
				slog.String("kind", ev.BatchError.Kind),
				slog.String("message", ev.BatchError.Message))
		case events.TypeBatchDone:
			return ev.BatchDone
		}
	}
	engine.Logger.Error("Event stream closed before batch completion", slog.String("token", token))
	return nil
}

// writeOutputs writes one XYZ map per fit parameter over grid indices,
// plus the optional CSV table and xlsx report. The scan is reloaded
// only when a report wants per-cell positions.
func writeOutputs(engine *app.App, paths []string, maps *domain.FitMaps, outDir string, csvOut, report bool) bool {
	xs := indexAxis(maps.Cols)
	ys := indexAxis(maps.Rows)

	ok := true
	for _, named := range maps.ParameterGrids() {
		dest := filepath.Join(outDir, "fit_"+named.Name+".xyz")
		points := exporter.MapsToPoints(named.Grid, xs, ys)
		if err := engine.ExportPoints(points, dest); err != nil {
			engine.Logger.Error("Map export failed",
				slog.String("map", named.Name),
				slog.String("error", err.Error()))
			ok = false
			continue
		}
		engine.Logger.Info("Map exported", slog.String("dest", dest), slog.Int("points", len(points)))
	}

	if !csvOut && !report {
		return ok
	}

	var scan *domain.MatrixScan
	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	res, err := engine.GetSpectroscopy(loadCtx, domain.SpectroscopyRequest{Paths: paths, Matrix: true})
	if err != nil {
		engine.Logger.Warn("Could not reload scan for report positions", slog.String("error", err.Error()))
	} else {
		scan = res.Matrix
	}

	if csvOut {
		dest := filepath.Join(outDir, "fit_table.csv")
		if err := exporter.WriteFitCSV(scan, maps, dest); err != nil {
			engine.Logger.Error("CSV table failed", slog.String("error", err.Error()))
			ok = false
		} else {
			engine.Logger.Info("CSV table written", slog.String("dest", dest))
		}
	}
	if report {
		dest := filepath.Join(outDir, "fit_report.xlsx")
		if err := exporter.WriteFitReport(scan, maps, dest); err != nil {
			engine.Logger.Error("Fit report failed", slog.String("error", err.Error()))
			ok = false
		} else {
			engine.Logger.Info("Fit report written", slog.String("dest", dest))
		}
	}
	return ok
}

func indexAxis(n int) []float64 {
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = float64(i)
	}
	return axis
}
