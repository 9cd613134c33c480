package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-summarizer/ingest"
	"github.com/ethereum-optimism/infra/op-summarizer/reporting"
)

const EnvVarPrefix = "OP_SUMMARIZER"

var (
	Inputs = &cli.StringSliceFlag{
		Name:    "input",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INPUT"),
		Usage:   "Test runner output to summarize; repeat for several files or use '-' for stdin",
	}
	InputFormat = &cli.StringFlag{
		Name:    "format",
		Value:   string(ingest.FormatAuto),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FORMAT"),
		Usage:   "Input format: 'auto', 'jsonl' (runner events) or 'gotest' (go test -json)",
		Action: func(_ *cli.Context, v string) error {
			_, err := ingest.ParseFormat(v)
			return err
		},
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   "test-results",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_DIR"),
		Usage:   "Directory receiving summary.json, comparison.json and per-failure logs",
	}
	StateFile = &cli.StringFlag{
		Name:    "state-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATE_FILE"),
		Usage:   "Path of the persisted previous-run state. Defaults to <output-dir>/.last-run.json",
	}
	TopN = &cli.IntFlag{
		Name:    "top-n",
		Value:   10,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TOP_N"),
		Usage:   "Number of slowest tests to report",
		Action: func(_ *cli.Context, v int) error {
			if v < 0 {
				return fmt.Errorf("top-n must not be negative, got %d", v)
			}
			return nil
		},
	}
	TeamConfig = &cli.StringFlag{
		Name:    "team-config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEAM_CONFIG"),
		Usage:   "Path to the team ownership config file (eg. 'teams.yaml')",
	}
	DefaultTeam = &cli.StringFlag{
		Name:    "default-team",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_TEAM"),
		Usage:   "Team assigned to tests no ownership rule matches",
	}
	BuildInfoFile = &cli.StringFlag{
		Name:    "build-info",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILD_INFO"),
		Usage:   "YAML or JSON file of build metadata to embed in the summary",
	}
	BuildInfoFields = &cli.StringSliceFlag{
		Name:    "build-info-field",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILD_INFO_FIELD"),
		Usage:   "Extra build metadata as key=value, overriding the build info file",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   4,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of input files decoded concurrently",
	}
	TableFormat = &cli.StringFlag{
		Name:    "table-format",
		Value:   string(reporting.TableFormatText),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TABLE_FORMAT"),
		Usage:   "Console report format: 'text' or 'markdown'",
		Action: func(_ *cli.Context, v string) error {
			_, err := reporting.ParseTableFormat(v)
			return err
		},
	}
	Color = &cli.BoolFlag{
		Name:    "color",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COLOR"),
		Usage:   "Color the console report by run outcome",
	}
	Serve = &cli.BoolFlag{
		Name:    "serve",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVE"),
		Usage:   "Keep running after the summary and serve /healthz and /metrics until interrupted",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz server",
	}
	DatabaseURI = &cli.StringFlag{
		Name:    "database-uri",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DATABASE_URI"),
		Usage:   "Postgres connection string; when set every run is stored for trend analysis",
	}
)

var requiredFlags = []cli.Flag{
	Inputs,
}

var optionalFlags = []cli.Flag{
	InputFormat,
	OutputDir,
	StateFile,
	TopN,
	TeamConfig,
	DefaultTeam,
	BuildInfoFile,
	BuildInfoFields,
	Concurrency,
	TableFormat,
	Color,
	Serve,
	HealthzAddr,
	DatabaseURI,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
