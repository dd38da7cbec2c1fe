package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName identifies this process to the OTel and Graylog sinks.
const ServiceName = "pioneer"

// console output, swapped out by tests
var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// Options selects the log sinks. Zero values disable a sink. Without a File,
// records go to the console; with one the console stays quiet so stdout can
// carry the line protocol.
type Options struct {
	File     io.Writer
	Level    string
	Provider *sdklog.LoggerProvider
	Graylog  GelfSender
	Context  ContextProvider
}

// SlogManager owns the process logger and the OTel provider behind it.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts slog level names in any case ("warn", "DEBUG",
// "info+2"). Anything else is info.
func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

func sinks(opts Options, lvl slog.Level) []slog.Handler {
	text := opts.File
	if text == nil {
		text = osStdout
	}
	out := []slog.Handler{
		slog.NewTextHandler(text, &slog.HandlerOptions{Level: lvl, ReplaceAttr: utcTime}),
	}
	if opts.Provider != nil {
		out = append(out, otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(opts.Provider)))
	}
	if opts.Graylog != nil {
		out = append(out, NewGelfHandler(opts.Graylog, lvl))
	}
	return out
}

// SetupWith builds the handler chain described by opts and replaces the
// current logger.
func (m *SlogManager) SetupWith(opts Options) {
	lvl := parseLevel(opts.Level)
	m.logProvider = opts.Provider

	var h slog.Handler = NewMultiHandler(sinks(opts, lvl)...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}
	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", lvl.String())
}

// Logger returns the configured logger, or slog.Default before SetupWith.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes pending OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider == nil {
		return nil
	}
	return m.logProvider.ForceFlush(ctx)
}

// WriteLog logs a line sent by a front-end client under its component name.
func (m *SlogManager) WriteLog(component, data, level string) {
	if m.logger == nil {
		return
	}
	m.logger.Log(context.Background(), parseLevel(level), data, "component", component, "source", "client")
}
