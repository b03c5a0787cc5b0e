package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"sxmcli/internal/app"
	"sxmcli/internal/config"
	"sxmcli/internal/dataset"
	"sxmcli/internal/exporter"
	"sxmcli/internal/imagefilter"
	"sxmcli/internal/validation"
	"sxmcli/pkg/contracts/domain"
)

// frameListing is one line of the -json output. DZ is dropped when the
// derived value is not finite so the listing stays valid JSON.
type frameListing struct {
	Path       string   `json:"path"`
	Rows       int      `json:"rows,omitempty"`
	Cols       int      `json:"cols,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	DZ         *float64 `json:"dz,omitempty"`
	Channels   []string `json:"channels,omitempty"`
	AcquiredAt string   `json:"acquired_at,omitempty"`
	Size       int64    `json:"size"`
	Error      string   `json:"error,omitempty"`
}

func main() {
	dir := flag.String("dir", ".", "measurement folder to index")
	configPath := flag.String("config", "", "config file (YAML), defaults to $SXM_CONFIG")
	watch := flag.Bool("watch", false, "keep running, refreshing the index and printing changed paths")
	interval := flag.Duration("interval", 5*time.Second, "refresh interval in watch mode")
	exportDir := flag.String("export-dir", "", "write one XYZ file per frame to this directory")
	channel := flag.String("channel", "", "channel to export (required with -export-dir)")
	filterKey := flag.String("filter", "", "filter applied before export, one of: "+filterKeys())
	sigma := flag.Float64("sigma", 0, "filter sigma, 0 selects the filter default")
	trace := flag.Bool("trace", false, "emit batch spans to stdout")
	asJSON := flag.Bool("json", false, "print the listing as JSON lines")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.Engine.Tracing = *trace

	if *exportDir != "" && *channel == "" {
		slog.Error("-channel is required with -export-dir")
		os.Exit(1)
	}

	engine, err := app.New(cfg, nil)
	if err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	logger := engine.Logger

	validator := validation.NewFileValidator(logger)
	if err := validator.ValidateInputDirectory(*dir, ""); err != nil {
		logger.Error("Input directory rejected", slog.String("dir", *dir), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *exportDir != "" {
		if err := validator.ValidateOutputDirectory(*exportDir); err != nil {
			logger.Error("Export directory rejected", slog.String("dir", *exportDir), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	scanFiles := 0
	for _, ext := range cfg.Format.ScanExtensions {
		n, err := validator.CountFiles(*dir, "*"+ext)
		if err == nil {
			scanFiles += n
		}
	}
	logger.Info("Scan files discovered", slog.String("dir", *dir), slog.Int("count", scanFiles))

	if err := engine.OpenFolder(domain.OpenFolderRequest{Dir: *dir}); err != nil {
		logger.Error("Failed to open folder", slog.String("dir", *dir), slog.String("error", err.Error()))
		os.Exit(1)
	}

	entries := engine.ListFrames()
	logger.Info("Folder indexed", slog.Int("frames", len(entries)))
	printListing(entries, *asJSON)

	if *exportDir != "" {
		if ok := exportFrames(engine, entries, *channel, *filterKey, *sigma, *exportDir); !ok {
			os.Exit(1)
		}
	}

	if *watch {
		watchLoop(engine, *interval)
	}
}

// loadConfig resolves the engine configuration. An explicit -config
// path that fails to load is fatal rather than silently defaulted.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func filterKeys() string {
	var keys []string
	for _, def := range imagefilter.Definitions() {
		keys = append(keys, def.Key)
	}
	return strings.Join(keys, ", ")
}

func printListing(entries []dataset.FrameEntry, asJSON bool) {
	enc := json.NewEncoder(os.Stdout)
	for _, entry := range entries {
		if asJSON {
			enc.Encode(listingOf(entry))
			continue
		}
		if entry.Err != nil {
			fmt.Printf("%s\tERROR\t%s\n", entry.Path, entry.Err)
			continue
		}
		m := entry.Meta
		fmt.Printf("%s\t%dx%d\t%s\tdz=%s\t%s\n",
			entry.Path, m.Rows, m.Cols, m.Mode, formatDZ(m.DZ), formatTime(m.AcquiredAt))
	}
}

func listingOf(entry dataset.FrameEntry) frameListing {
	listing := frameListing{Path: entry.Path}
	if entry.Err != nil {
		listing.Error = entry.Err.Error()
		return listing
	}
	m := entry.Meta
	listing.Rows = m.Rows
	listing.Cols = m.Cols
	listing.Mode = string(m.Mode)
	listing.Size = m.Size
	if m.DZ != nil && !math.IsNaN(*m.DZ) && !math.IsInf(*m.DZ, 0) {
		listing.DZ = m.DZ
	}
	for _, ch := range m.Channels {
		listing.Channels = append(listing.Channels, ch.Name)
	}
	if !m.AcquiredAt.IsZero() {
		listing.AcquiredAt = m.AcquiredAt.Format(time.RFC3339)
	}
	return listing
}

func formatDZ(dz *float64) string {
	if dz == nil || math.IsNaN(*dz) || math.IsInf(*dz, 0) {
		return "-"
	}
	return fmt.Sprintf("%g", *dz)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// exportFrames writes one XYZ file per decodable frame that carries the
// channel, applying the optional filter first. A frame that fails only
// skips itself.
func exportFrames(engine *app.App, entries []dataset.FrameEntry, channel, filterKey string, sigma float64, outDir string) bool {
	exported, failed := 0, 0
	for _, entry := range entries {
		if entry.Err != nil {
			continue
		}

		dest := filepath.Join(outDir, exportName(entry.Path, channel))
		if err := exportOne(engine, entry.Path, channel, filterKey, sigma, dest); err != nil {
			engine.Logger.Error("Frame export failed",
				slog.String("path", entry.Path),
				slog.String("error", err.Error()))
			failed++
			continue
		}
		exported++
	}

	engine.Logger.Info("Export complete",
		slog.String("dir", outDir),
		slog.String("channel", channel),
		slog.Int("exported", exported),
		slog.Int("failed", failed))
	fmt.Printf("Exported %d of %d frames\n", exported, exported+failed)
	return failed == 0
}

func exportOne(engine *app.App, path, channel, filterKey string, sigma float64, dest string) error {
	if filterKey == "" {
		return engine.ExportXYZ(domain.ExportXYZRequest{Path: path, Channel: channel, Dest: dest})
	}

	frame, err := engine.GetFrame(domain.FrameRequest{Path: path})
	if err != nil {
		return err
	}
	ch, ok := frame.Channel(channel)
	if !ok {
		return fmt.Errorf("frame has no channel %q", channel)
	}
	filtered, err := imagefilter.Apply(filterKey, ch.Grid, sigma)
	if err != nil {
		return err
	}
	xs, ys := exporter.FrameAxes(frame)
	return engine.ExportPoints(exporter.GridToPoints(filtered, xs, ys), dest)
}

// exportName derives the destination file name from the frame and the
// channel, with spaces flattened for shell friendliness.
func exportName(framePath, channel string) string {
	stem := strings.TrimSuffix(filepath.Base(framePath), filepath.Ext(framePath))
	ch := strings.ReplaceAll(channel, " ", "_")
	return fmt.Sprintf("%s_%s.xyz", stem, ch)
}

// watchLoop refreshes the index on the given interval until interrupted,
// printing each changed path on stdout.
func watchLoop(engine *app.App, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		engine.Logger.Info("Stopping watch")
		cancel()
	}()

	engine.Logger.Info("Watching for changes", slog.Duration("interval", interval))
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		changed := engine.Refresh()
		if len(changed) == 0 {
			continue
		}
		engine.Logger.Info("Dataset changed", slog.Int("paths", len(changed)))
		for _, p := range changed {
			fmt.Println(p)
		}
	}
}
