// Command herdctl records reproductive events and reads herd state from the
// command line. Storage, notifier and ledger backends come from the herdcore
// configuration file and HERDCORE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"herdcore/internal/config"
	"herdcore/internal/core"
	"herdcore/internal/infra/ledger"
	notifymem "herdcore/internal/infra/notify/memory"
	redisnotify "herdcore/internal/infra/notify/redis"
	"herdcore/pkg/domain"
)

var exitFunc = os.Exit

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"enroll":   runEnroll,
	"record":   runRecord,
	"animal":   runAnimal,
	"timeline": runTimeline,
	"metrics":  runMetrics,
	"dispatch": runDispatch,
}

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "usage: herdctl [-config file] [-metrics-file file] <%s> [flags]\n", strings.Join(names, "|"))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("herdctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("HERDCORE_CONFIG"), "path to YAML configuration")
	metricsFile := fs.String("metrics-file", "", "write Prometheus metrics to this file on exit")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", fs.Arg(0))
		usage(stderr)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "setup: %v\n", err)
		return 1
	}
	runErr := cmd(ctx, a, fs.Args()[1:])
	closeErr := a.Close()
	if *metricsFile != "" {
		if err := a.writeMetrics(*metricsFile); err != nil {
			fmt.Fprintf(stderr, "metrics: %v\n", err)
		}
	}
	switch {
	case errors.Is(runErr, flag.ErrHelp):
		return 0
	case runErr != nil:
		fmt.Fprintf(stderr, "%s: %v\n", fs.Arg(0), runErr)
		var validation domain.ValidationError
		var notFound domain.NotFoundError
		if errors.As(runErr, &validation) || errors.As(runErr, &notFound) {
			return 3
		}
		return 1
	case closeErr != nil:
		fmt.Fprintf(stderr, "close: %v\n", closeErr)
		return 1
	}
	return 0
}

// dispatcher is implemented by notifiers that hold deferred reminders.
type dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (int, error)
}

type app struct {
	engine   *core.Engine
	logger   *log.Logger
	registry *prometheus.Registry
	notifier dispatcher
	stdout   io.Writer
	stderr   io.Writer
	closers  []func() error
}

func newLogger(cfg config.Log, out io.Writer) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(out)
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	switch cfg.Format {
	case "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return logger, nil
}

func openNotifier(cfg config.Notifier) (domain.NotificationGateway, dispatcher, func() error) {
	switch cfg.Driver {
	case config.NotifierRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		gw := redisnotify.New(client, cfg.KeyPrefix)
		return gw, gw, client.Close
	case config.NotifierMemory:
		gw := notifymem.New()
		return gw, gw, nil
	default:
		return nil, nil, nil
	}
}

func newApp(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) (*app, error) {
	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger, registry: prometheus.NewRegistry(), stdout: stdout, stderr: stderr}

	store, err := core.OpenPersistentStore(ctx, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, closer.Close)
	}

	books, closeLedger, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.closers = append(a.closers, closeLedger)

	recorder, err := core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	opts := []core.Option{
		core.WithLogger(core.NewLogrusLogger(logger)),
		core.WithMetricsRecorder(recorder),
		core.WithTracer(core.NewOTelTracer(otel.Tracer("herdcore"))),
		core.WithAlertTimeout(cfg.Alerts.Timeout),
	}
	gateway, disp, closeNotifier := openNotifier(cfg.Notifier)
	if gateway != nil {
		opts = append(opts, core.WithNotificationGateway(gateway))
		a.notifier = disp
	}
	if closeNotifier != nil {
		a.closers = append(a.closers, closeNotifier)
	}
	if books != nil {
		opts = append(opts, core.WithFinancialLedger(books))
	}
	a.engine = core.NewEngine(store, opts...)
	logger.WithFields(log.Fields{
		"storage":  cfg.Storage.Driver,
		"notifier": cfg.Notifier.Driver,
		"ledger":   cfg.Ledger.Driver,
	}).Debug("herdctl ready")
	return a, nil
}

// Close waits for background reminders, then releases backends in reverse order.
func (a *app) Close() error {
	if a.engine != nil {
		a.engine.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) writeMetrics(path string) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", value)
	}
	return t, nil
}
