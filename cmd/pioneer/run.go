package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stagesim/pioneer/internal/api"
	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/internal/device"
	"github.com/stagesim/pioneer/internal/dispatcher"
	"github.com/stagesim/pioneer/internal/frontend"
	"github.com/stagesim/pioneer/internal/influx"
	"github.com/stagesim/pioneer/internal/logging"
	"github.com/stagesim/pioneer/internal/monitor"
	intOtel "github.com/stagesim/pioneer/internal/otel"
	"github.com/stagesim/pioneer/internal/parser"
	"github.com/stagesim/pioneer/internal/raster"
	"github.com/stagesim/pioneer/internal/sim"
	"github.com/stagesim/pioneer/internal/storage"
	"github.com/stagesim/pioneer/internal/worker"
	"github.com/stagesim/pioneer/internal/world"
	"github.com/stagesim/pioneer/pkg/core"
	"go.uber.org/multierr"
)

const (
	uploadTimeout   = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// service is one wired simulator process.
type service struct {
	start   time.Time
	clock   clock.Clock
	logsDir string

	logFile    *os.File
	slog       *logging.SlogManager
	logger     *slog.Logger
	zlog       zerolog.Logger
	otel       *intOtel.Provider
	gelfCloser io.Closer

	backend  storage.Backend
	influx   *influx.Manager
	sim      *sim.Simulator
	disp     *dispatcher.Dispatcher
	worker   *worker.Manager
	frontend *frontend.Server
	monitor  *monitor.Service
	api      *api.Client
}

// newService builds every component from the loaded config. Nothing is
// started yet.
func newService(ctx context.Context, clk clock.Clock) (*service, error) {
	s := &service{
		start: clk.Now(),
		clock: clk,
	}
	if err := s.setupLogging(ctx); err != nil {
		return nil, err
	}

	w, grid, mapFile, err := s.setupWorld()
	if err != nil {
		return nil, s.fail(err)
	}

	s.backend, s.influx, err = createStorageBackend(config.GetStorageConfig(), storageDeps{
		Logger:    s.logger,
		ZeroLog:   s.zlog,
		Clock:     clk,
		Start:     s.start,
		ServerURL: config.GetString("api.serverUrl"),
	})
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.backend.Init(); err != nil {
		return nil, s.fail(fmt.Errorf("failed to initialize storage backend: %w", err))
	}

	s.disp, err = dispatcher.New(logging.NewDispatcherLogger(s.zlog))
	if err != nil {
		return nil, s.fail(err)
	}
	s.frontend = frontend.New(s.disp, s.logger)

	s.sim = sim.New(sim.Dependencies{
		World:   w,
		Surface: grid,
		Backend: s.backend,
		Logger:  s.logger,
		Sink:    s.frontend.PacketSink(),
	})

	dc := config.GetDeviceConfig()
	if _, err := s.sim.AddDevice(device.Config{
		ID:     dc.ID,
		Width:  dc.Width,
		Length: dc.Length,
		Pose:   core.Pose{X: dc.X, Y: dc.Y, Heading: dc.Heading},
		Color:  core.Color(dc.Color),
	}); err != nil {
		return nil, s.fail(err)
	}

	deps := worker.Dependencies{
		Sim:           s.sim,
		ParserService: parser.NewParser(s.logger),
		Logger:        s.logger,
		DefaultTag:    config.GetString("defaultTag"),
		MapFile:       mapFile,
		Log:           s.slog,
	}
	if s.influx != nil {
		deps.Metrics = s.influx
	}
	s.worker = worker.NewManager(deps, s.backend)
	s.worker.RegisterHandlers(s.disp)
	s.logger.Info("Worker handlers registered with dispatcher", "commands", len(s.disp.Commands()))
	if !s.disp.HasHandler("metric") {
		s.logger.Debug("metric command disabled, no influx backend configured")
	}

	s.sim.AddQueueSource(s.disp.QueueLengths)
	s.sim.AddQueueSource(s.worker.BackendQueueLengths)

	s.monitor = monitor.NewService(monitor.Dependencies{
		Source:     s.sim,
		Logger:     s.logger,
		Clock:      clk,
		Interval:   config.GetDuration("monitor.interval"),
		Record:     s.sim.RecordStatus,
		StatusFile: filepath.Join(s.logsDir, "status.json"),
	})

	s.api = api.New(config.GetString("api.serverUrl"), config.GetString("api.apiKey"))
	return s, nil
}

func (s *service) setupLogging(ctx context.Context) error {
	s.logsDir = config.GetString("logsDir")
	f, err := logging.OpenLogFile(s.logsDir, ServiceName, s.start)
	if err != nil {
		return err
	}
	s.logFile = f

	s.zlog = zerolog.New(f).With().Timestamp().Str("service", ServiceName).Logger()

	s.otel, err = intOtel.New(ctx, intOtel.FromConfig(config.GetOTelConfig(), f))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize OTel provider: %v\n", err)
		s.otel, _ = intOtel.New(ctx, intOtel.Config{})
	}

	opts := logging.Options{
		File:     f,
		Level:    config.GetString("logLevel"),
		Provider: s.otel.LoggerProvider(),
		Context: func() []slog.Attr {
			if s.sim == nil {
				return nil
			}
			return s.sim.LogContext()
		},
	}
	if config.GetBool("graylog.enabled") {
		gw, err := logging.NewGelfWriter(config.GetString("graylog.address"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Graylog: %v\n", err)
		} else {
			opts.Graylog = gw
			if c, ok := any(gw).(io.Closer); ok {
				s.gelfCloser = c
			}
		}
	}

	s.slog = logging.NewSlogManager()
	s.slog.SetupWith(opts)
	s.logger = s.slog.Logger()
	slog.SetDefault(s.logger)
	s.logger.Info("Begin logging in logs directory", "path", f.Name(), "version", CurrentVersion, "otel", s.otel.Enabled())
	return nil
}

func (s *service) setupWorld() (*world.World, *raster.Grid, string, error) {
	wc := config.GetWorldConfig()
	w := world.New(world.Config{
		Scale:           wc.Scale,
		TimeStep:        wc.TimeStep,
		MaxAngularError: wc.MaxAngularError,
		ErrorSeed:       wc.ErrorSeed,
	}, s.clock)

	if wc.MapFile == "" {
		s.logger.Info("Using empty map", "width", wc.Width, "height", wc.Height)
		return w, raster.NewGrid(wc.Width, wc.Height), "", nil
	}
	grid, err := raster.LoadImage(wc.MapFile, uint8(wc.MapThreshold))
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading map: %w", err)
	}
	s.logger.Info("Loaded map", "path", wc.MapFile,
		"width", grid.Bounds().Dx(), "height", grid.Bounds().Dy(),
		"obstacles", grid.Count(core.Obstacle))
	return w, grid, wc.MapFile, nil
}

// fail releases what setup created so far and returns err.
func (s *service) fail(err error) error {
	if s.logger != nil {
		s.logger.Error("Startup failed", "error", err)
	}
	if s.backend != nil {
		_ = s.backend.Close()
	}
	_ = s.closeLogging()
	return err
}

// checkServerStatus logs whether the recording server answers.
func (s *service) checkServerStatus(ctx context.Context) {
	if config.GetString("api.apiKey") == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.api.Healthcheck(ctx); err != nil {
		s.logger.Warn("Recording server is not reachable", "error", err)
		return
	}
	s.logger.Info("Recording server is reachable")
}

// run starts a session and blocks until ctx is done or the front end
// closes. stdin selects the stdin/stdout front end instead of TCP.
func (s *service) run(ctx context.Context, stdin bool, listen, tag string) error {
	if tag == "" {
		tag = config.GetString("defaultTag")
	}
	sess, err := s.sim.StartSession(sim.SessionOptions{
		MapFile: config.GetWorldConfig().MapFile,
		Tag:     tag,
	})
	if err != nil {
		return err
	}
	s.logger.Info("Session started", "session", sess.SessionID, "device", sess.DeviceID)

	if err := s.monitor.Start(); err != nil {
		s.logger.Warn("Failed to start status monitor", "error", err)
	}
	go s.checkServerStatus(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.sim.Run(ctx)
	}()

	if stdin {
		go func() {
			err := s.frontend.ServeConn(ctx, os.Stdin, os.Stdout)
			s.logger.Info("stdin closed")
			errCh <- err
		}()
	} else {
		if listen == "" {
			listen = config.GetString("frontend.listen")
		}
		if _, err := s.frontend.Listen(listen); err != nil {
			return err
		}
		go func() {
			errCh <- s.frontend.Serve(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// shutdown ends the session, uploads what the backends exported and
// releases every resource.
func (s *service) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	errs = multierr.Append(errs, s.frontend.Close())
	if s.monitor.IsRunning() {
		s.monitor.Stop()
	}

	if err := s.sim.EndSession(); err != nil && !errors.Is(err, sim.ErrNoSession) {
		s.logger.Error("Failed to end session", "error", err)
		errs = multierr.Append(errs, err)
	}
	s.upload()

	errs = multierr.Append(errs, s.backend.Close())
	last := s.monitor.Last()
	s.logger.Info("Shutdown complete",
		"ticks", s.sim.Ticks(),
		"elapsed", s.sim.Elapsed(),
		"uptime", s.sim.Uptime(),
		"collisions", last.Collisions,
		"stalls", last.Stalls,
		"lastDBWrite", s.worker.GetLastDBWriteDuration())

	errs = multierr.Append(errs, s.otel.Flush(ctx))
	errs = multierr.Append(errs, s.otel.Shutdown(ctx))
	errs = multierr.Append(errs, s.closeLogging())
	return errs
}

// upload sends every exported recording to the server when an API key is set.
func (s *service) upload() {
	if config.GetString("api.apiKey") == "" {
		return
	}
	for _, u := range uploadables(s.backend) {
		path := u.GetExportedFilePath()
		if path == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		err := s.api.Upload(ctx, path, u.GetExportMetadata())
		cancel()
		if err != nil {
			s.logger.Error("Failed to upload recording", "path", path, "error", err)
			continue
		}
		s.logger.Info("Uploaded recording", "path", path)
	}
}

func (s *service) closeLogging() error {
	var errs error
	if s.slog != nil {
		errs = multierr.Append(errs, s.slog.Flush(context.Background()))
	}
	if s.gelfCloser != nil {
		errs = multierr.Append(errs, s.gelfCloser.Close())
	}
	if s.logFile != nil {
		errs = multierr.Append(errs, s.logFile.Close())
		s.logFile = nil
	}
	return errs
}
