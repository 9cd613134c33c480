package summarizer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-summarizer/flags"
	"github.com/ethereum-optimism/infra/op-summarizer/history"
	"github.com/ethereum-optimism/infra/op-summarizer/ingest"
	"github.com/ethereum-optimism/infra/op-summarizer/reporting"
	"github.com/ethereum-optimism/infra/op-summarizer/service"
)

// Config holds the application configuration
type Config struct {
	Inputs          []string              // Runner output files, "-" for stdin
	Format          ingest.Format         // Input format, auto-detected by default
	OutputDir       string                // Directory receiving the reports
	StateFile       string                // Persisted outcome of the previous run
	TopN            int                   // Number of slowest tests to report
	TeamConfig      string                // Optional team ownership config
	DefaultTeam     string                // Team of tests no ownership rule matches
	BuildInfoFile   string                // Optional build metadata document
	BuildInfoFields []string              // key=value build metadata overrides
	Concurrency     int                   // Number of inputs decoded at once
	TableFormat     reporting.TableFormat // Console report format
	Color           bool
	Serve           bool // Keep serving healthz and metrics after the run
	Service         service.Config
	DatabaseURI     string
	Stdout          io.Writer
	Log             log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	format, err := ingest.ParseFormat(ctx.String(flags.InputFormat.Name))
	if err != nil {
		return nil, err
	}
	tableFormat, err := reporting.ParseTableFormat(ctx.String(flags.TableFormat.Name))
	if err != nil {
		return nil, err
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	cfg := &Config{
		Inputs:          ctx.StringSlice(flags.Inputs.Name),
		Format:          format,
		OutputDir:       ctx.String(flags.OutputDir.Name),
		StateFile:       ctx.String(flags.StateFile.Name),
		TopN:            ctx.Int(flags.TopN.Name),
		TeamConfig:      ctx.String(flags.TeamConfig.Name),
		DefaultTeam:     ctx.String(flags.DefaultTeam.Name),
		BuildInfoFile:   ctx.String(flags.BuildInfoFile.Name),
		BuildInfoFields: ctx.StringSlice(flags.BuildInfoFields.Name),
		Concurrency:     ctx.Int(flags.Concurrency.Name),
		TableFormat:     tableFormat,
		Color:           ctx.Bool(flags.Color.Name),
		Serve:           ctx.Bool(flags.Serve.Name) || metricsCfg.Enabled,
		Service: service.Config{
			HealthzAddr: ctx.String(flags.HealthzAddr.Name),
			MetricsAddr: net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort)),
		},
		DatabaseURI: ctx.String(flags.DatabaseURI.Name),
		Stdout:      os.Stdout,
		Log:         log,
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve fills defaults, makes file paths absolute and validates the config
func (c *Config) resolve() error {
	if len(c.Inputs) == 0 {
		return errors.New("at least one input is required")
	}
	if c.TopN < 0 {
		return fmt.Errorf("top-n must not be negative, got %d", c.TopN)
	}
	if c.OutputDir == "" {
		c.OutputDir = "test-results"
	}
	if c.Format == "" {
		c.Format = ingest.FormatAuto
	}
	if c.TableFormat == "" {
		c.TableFormat = reporting.TableFormatText
	}
	if c.Concurrency <= 0 {
		c.Concurrency = ingest.DefaultConcurrency
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}

	var err error
	if c.OutputDir, err = filepath.Abs(c.OutputDir); err != nil {
		return fmt.Errorf("failed to resolve absolute path for output dir '%s': %w", c.OutputDir, err)
	}
	if c.StateFile == "" {
		c.StateFile = filepath.Join(c.OutputDir, history.DefaultStateFile)
	} else if c.StateFile, err = filepath.Abs(c.StateFile); err != nil {
		return fmt.Errorf("failed to resolve absolute path for state file '%s': %w", c.StateFile, err)
	}
	if c.TeamConfig != "" {
		if c.TeamConfig, err = filepath.Abs(c.TeamConfig); err != nil {
			return fmt.Errorf("failed to resolve absolute path for team config '%s': %w", c.TeamConfig, err)
		}
	}
	if c.BuildInfoFile != "" {
		if c.BuildInfoFile, err = filepath.Abs(c.BuildInfoFile); err != nil {
			return fmt.Errorf("failed to resolve absolute path for build info '%s': %w", c.BuildInfoFile, err)
		}
	}
	for i, in := range c.Inputs {
		if in == ingest.StdinPath {
			continue
		}
		if c.Inputs[i], err = filepath.Abs(in); err != nil {
			return fmt.Errorf("failed to resolve absolute path for input '%s': %w", in, err)
		}
	}
	return nil
}
