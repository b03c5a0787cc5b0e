package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"sxmcli/internal/config"
	"sxmcli/internal/dataset"
	"sxmcli/internal/errs"
	"sxmcli/internal/exporter"
	"sxmcli/internal/fitting"
	"sxmcli/internal/infrastructure"
	"sxmcli/internal/operations"
	"sxmcli/internal/spectroscopy"
	"sxmcli/pkg/contracts/domain"
	"sxmcli/pkg/contracts/events"
)

// App is the engine facade. Components are exported so collaborators
// that need one layer directly (the runner for async batches, the
// index for cache control) are not forced through the facade methods.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *infrastructure.Metrics
	OTel    *infrastructure.OTelProviders
	Index   *dataset.Index
	Loader  *spectroscopy.Loader
	Fitter  *fitting.Fitter
	Runner  *operations.Runner

	validate *validator.Validate
	cancel   context.CancelFunc
}

// SpectroscopyResult carries either a single sweep or an assembled
// matrix scan, whichever the request asked for. Exactly one field is
// set.
type SpectroscopyResult struct {
	Record *domain.SpectroscopyRecord `json:"record,omitempty"`
	Matrix *domain.MatrixScan         `json:"matrix,omitempty"`
}

// New assembles the engine and starts its worker pool. A nil cfg loads
// the default configuration chain; a nil logger initializes one from
// cfg.Logging.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	var err error
	if cfg == nil {
		cfg, err = config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	if logger == nil {
		logger, err = infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	logger.Info("engine starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion))

	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.EnableTracing = cfg.Engine.Tracing
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics := infrastructure.NewMetrics()
	index := dataset.New(cfg, logger, metrics)
	loader := spectroscopy.NewLoader(logger, cfg.Format.MaxHeaderBytes, cfg.WorkerCount())
	fitter := fitting.NewFitter(logger, cfg.Fit.VertexEpsilon)
	runner := operations.NewRunner(cfg, index, loader, fitter, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		OTel:     providers,
		Index:    index,
		Loader:   loader,
		Fitter:   fitter,
		Runner:   runner,
		validate: validator.New(),
		cancel:   cancel,
	}, nil
}

// OpenFolder points the dataset index at a measurement folder. Frames
// already tracked from a previous folder are released.
func (a *App) OpenFolder(req domain.OpenFolderRequest) error {
	if err := a.validateRequest(req); err != nil {
		return err
	}
	return a.Index.Open(req.Dir)
}

// ListFrames returns the cheap metadata of every tracked frame, with
// per-entry parse errors in place of metadata where decoding failed.
func (a *App) ListFrames() []dataset.FrameEntry {
	return a.Index.ListFrames()
}

// GetFrame returns one fully decoded frame, parsing it on first access.
func (a *App) GetFrame(req domain.FrameRequest) (*domain.ScanFrame, error) {
	if err := a.validateRequest(req); err != nil {
		return nil, err
	}
	return a.Index.GetFrame(req.Path)
}

// GetSpectroscopy loads a single sweep or assembles a matrix scan. A
// matrix request accepts one multi-section file or a set of per-point
// files; a single request takes exactly one path.
func (a *App) GetSpectroscopy(ctx context.Context, req domain.SpectroscopyRequest) (*SpectroscopyResult, error) {
	if err := a.validateRequest(req); err != nil {
		return nil, err
	}
	if req.Matrix {
		scan, err := a.Loader.LoadMatrix(ctx, req.Paths)
		if err != nil {
			return nil, err
		}
		return &SpectroscopyResult{Matrix: scan}, nil
	}
	if len(req.Paths) != 1 {
		return nil, errs.Validation(fmt.Sprintf("a single sweep load takes exactly one path, got %d", len(req.Paths)), nil)
	}
	rec, err := a.Loader.LoadSingle(req.Paths[0])
	if err != nil {
		return nil, err
	}
	return &SpectroscopyResult{Record: rec}, nil
}

// FitParabola fits a quadratic model to one channel of a sweep. A
// request epsilon overrides the configured vertex degeneracy threshold
// for this call only.
func (a *App) FitParabola(rec *domain.SpectroscopyRecord, req domain.FitRequest) (domain.FitResult, error) {
	if err := a.validateRequest(req); err != nil {
		return domain.FitResult{}, err
	}
	if rec == nil {
		return domain.FitResult{}, errs.Validation("record is required", nil)
	}

	res, err := a.fitterFor(req.Epsilon).Fit(rec, req.Channel)
	if err != nil {
		return domain.FitResult{}, err
	}
	a.Metrics.RecordFit(res.Converged)
	return res, nil
}

// FitMatrix fits every present cell of an already assembled matrix
// scan into parameter maps. For asynchronous fits with progress events
// use Runner.SubmitMatrixFit instead.
func (a *App) FitMatrix(ctx context.Context, scan *domain.MatrixScan, req domain.MatrixFitRequest) (*domain.FitMaps, error) {
	if err := a.validateRequest(req); err != nil {
		return nil, err
	}
	if scan == nil {
		return nil, errs.Validation("scan is required", nil)
	}

	observe := func(_, _ int, res domain.FitResult, err error) {
		if err == nil {
			a.Metrics.RecordFit(res.Converged)
		}
	}
	return a.fitterFor(req.Epsilon).FitMatrix(ctx, scan, req.Channel, observe)
}

// ExportPoints writes pre-flattened triples to dest in the XYZ text
// convention. Points are written in caller order; absent cells must be
// filtered out beforehand.
func (a *App) ExportPoints(points []domain.XYZPoint, dest string) error {
	if dest == "" {
		return errs.Validation("dest is required", nil)
	}
	if err := exporter.WriteXYZ(points, dest); err != nil {
		return err
	}
	a.Metrics.RecordExport()
	return nil
}

// ExportXYZ flattens one frame channel over its physical axes and
// writes it to dest in the XYZ text convention.
func (a *App) ExportXYZ(req domain.ExportXYZRequest) error {
	if err := a.validateRequest(req); err != nil {
		return err
	}

	frame, err := a.Index.GetFrame(req.Path)
	if err != nil {
		return err
	}
	ch, ok := frame.Channel(req.Channel)
	if !ok {
		return errs.Validation(fmt.Sprintf("frame %s has no channel %q", req.Path, req.Channel), nil)
	}

	xs, ys := exporter.FrameAxes(frame)
	points := exporter.GridToPoints(ch.Grid, xs, ys)
	if err := exporter.WriteXYZ(points, req.Dest); err != nil {
		return err
	}

	a.Metrics.RecordExport()
	a.Logger.Info("exported frame channel",
		slog.String("path", req.Path),
		slog.String("channel", req.Channel),
		slog.String("dest", req.Dest),
		slog.Int("points", len(points)))
	return nil
}

// Refresh re-stats all tracked files and returns the changed paths.
// Evicted entries are re-parsed lazily on next access; to re-warm them
// eagerly with progress events use Runner.SubmitRefresh.
func (a *App) Refresh() []string {
	return a.Index.Refresh()
}

// Cancel requests best-effort cancellation of an in-flight batch.
func (a *App) Cancel(token string) error {
	return a.Runner.Cancel(token)
}

// Events returns the completion channel carrying typed results from
// the batch runner.
func (a *App) Events() <-chan events.Event {
	return a.Runner.Events()
}

// Close stops the worker pool, shuts down tracing, and releases the
// index. The engine cannot be reused afterwards.
func (a *App) Close() error {
	a.Logger.Info("engine shutting down")

	err := a.Runner.Stop(a.Config.Engine.ShutdownTimeout)
	a.cancel()

	if a.OTel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Engine.ShutdownTimeout)
		defer cancel()
		if oerr := a.OTel.Shutdown(shutdownCtx); oerr != nil {
			infrastructure.WithError(a.Logger, oerr).Error("tracing shutdown failed")
		}
	}

	a.Index.Close()
	infrastructure.CloseLogFile()
	return err
}

// fitterFor returns the shared fitter, or a one-shot fitter when the
// request overrides the vertex epsilon.
func (a *App) fitterFor(epsilon float64) *fitting.Fitter {
	if epsilon > 0 && epsilon != a.Fitter.Epsilon() {
		return fitting.NewFitter(a.Logger, epsilon)
	}
	return a.Fitter
}

// validateRequest checks a request struct against its validate tags and
// converts failures into one typed validation error.
func (a *App) validateRequest(req interface{}) error {
	err := a.validate.Struct(req)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errs.Validation("invalid request", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return errs.Validation(strings.Join(msgs, "; "), err)
}

// formatFieldError formats one field failure for the request error.
func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
