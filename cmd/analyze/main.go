package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/gpsguard/internal/app"
	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/pkg/config"
	"github.com/samirrijal/gpsguard/internal/pkg/logging"
	"github.com/samirrijal/gpsguard/internal/report"
	"github.com/samirrijal/gpsguard/internal/track"
	"github.com/samirrijal/gpsguard/internal/workflows"
)

type Options struct {
	Output         string  `short:"o" long:"out" description:"Output file path. Writes to stdout if empty"`
	Format         string  `short:"f" long:"format" description:"Output format" choice:"table" choice:"json" choice:"geojson" default:"table"`
	Radius         float64 `short:"r" long:"radius" description:"Search radius in metres (10-200). Defaults to configuration"`
	MinHeight      float64 `short:"m" long:"min-height" description:"Minimum building height in metres (5-100). Defaults to configuration"`
	Stride         int     `long:"stride" description:"Explicit downsampling stride. 0 picks it from the track length"`
	SkipDownsample bool    `long:"skip-downsample" description:"Analyse every point"`
	SkipWeather    bool    `long:"skip-weather" description:"Do not query weather conditions"`
	Submit         bool    `long:"submit" description:"Run as a Temporal workflow instead of in-process"`
	Wait           bool    `long:"wait" description:"With --submit, wait for the workflow result"`
	Verbose        bool    `short:"v" long:"verbose" description:"Debug logging on stderr"`

	Args struct {
		Track string `positional-arg-name:"TRACK" description:"GPX or JSON track file"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts Options) error {
	cfg, err := config.Load("gpsguard-analyze")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(os.Stderr, level, "text"))

	tr, err := track.ReadFile(opts.Args.Track)
	if err != nil {
		return err
	}

	params := overlay(app.DefaultParams(cfg.Analysis), opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var a *domain.Analysis
	if opts.Submit {
		a, err = submit(ctx, cfg, tr, params, opts.Wait)
		if err != nil || a == nil {
			return err
		}
	} else {
		if params.SkipWeather {
			cfg.Analysis.SkipWeather = true
		}
		svc, err := app.Build(ctx, cfg, app.Options{Cache: true})
		if err != nil {
			return err
		}
		defer svc.Close()

		a, err = svc.Analysis.Analyze(ctx, tr, params)
		if err != nil {
			return err
		}
	}

	var out io.Writer = os.Stdout
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	return write(out, a, opts.Format)
}

// overlay applies command-line values over the configured defaults.
func overlay(p domain.AnalysisParams, opts Options) domain.AnalysisParams {
	if opts.Radius != 0 {
		p.SearchRadiusM = opts.Radius
	}
	if opts.MinHeight != 0 {
		p.MinHeightM = opts.MinHeight
	}
	if opts.SkipDownsample {
		p.SkipDownsample = true
	}
	if opts.SkipWeather {
		p.SkipWeather = true
	}
	p.Stride = opts.Stride
	return p
}

func submit(ctx context.Context, cfg *config.Config, tr domain.Track, params domain.AnalysisParams, wait bool) (*domain.Analysis, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	input := workflows.AnalysisInput{
		JobID:      uuid.NewString(),
		Track:      tr,
		Params:     params,
		PointDelay: cfg.Analysis.PointDelay(),
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       "analysis-" + input.JobID,
		TaskQueue:                cfg.Temporal.TaskQueue,
		WorkflowExecutionTimeout: 24 * time.Hour,
	}, workflows.AnalysisWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	fmt.Fprintf(os.Stderr, "submitted analysis %s (workflow %s, run %s)\n", input.JobID, run.GetID(), run.GetRunID())
	if !wait {
		return nil, nil
	}

	var a domain.Analysis
	if err := run.Get(ctx, &a); err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	return &a, nil
}

func write(w io.Writer, a *domain.Analysis, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	case "geojson":
		data, err := report.GeoJSON(a).MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		return report.WriteTable(w, a)
	}
}
