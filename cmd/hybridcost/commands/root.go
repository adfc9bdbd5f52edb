package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DrSkyle/hybridcost/internal/app"
	"github.com/DrSkyle/hybridcost/pkg/config"
	"github.com/DrSkyle/hybridcost/pkg/telemetry"
	"github.com/DrSkyle/hybridcost/pkg/version"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// rootOptions is the state shared by every subcommand.
type rootOptions struct {
	cfgFile string
	output  string
	v       *viper.Viper
	cfg     config.Config
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree with its own configuration state.
func NewRootCmd() *cobra.Command {
	o := &rootOptions{v: config.NewViper()}
	d := config.Default()

	rootCmd := &cobra.Command{
		Use:   "hybridcost",
		Short: "AWS pricing acquisition and caching service",
		Long: `hybridcost keeps a daily snapshot of AWS list prices for EC2, EBS, S3 and
data transfer, and serves it to cost estimation.

Fetch. Persist. Degrade gracefully.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.load()
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVar(&o.cfgFile, "config", "", "config file (default ~/.hybridcost.yaml)")
	f.StringVarP(&o.output, "output", "o", outputTable, "output format: table or json")
	f.String("log-format", d.Log.Format, "log format: json, text or pretty")
	f.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	f.String("region", d.AWS.Region, "AWS region used for API calls")
	f.String("profile", "", "AWS shared config profile")
	f.String("endpoint", "", "AWS endpoint override (e.g. LocalStack)")
	f.String("storage", d.Storage.Backend, "snapshot store: memory, local, s3, postgres or redis")
	f.String("storage-path", d.Storage.Path, "directory of the local snapshot store")
	f.Bool("mock", false, "use a scripted pricing source instead of AWS")
	f.Int("mock-failures", 0, "number of leading mock fetches that fail")
	f.Bool("no-telemetry", false, "disable OpenTelemetry tracing")
	_ = f.MarkHidden("mock-failures")

	o.bind(f, map[string]string{
		"log.format":            "log-format",
		"log.level":             "log-level",
		"aws.region":            "region",
		"aws.profile":           "profile",
		"aws.endpoint":          "endpoint",
		"storage.backend":       "storage",
		"storage.path":          "storage-path",
		"pricing.mock":          "mock",
		"pricing.mock_failures": "mock-failures",
		"telemetry.disabled":    "no-telemetry",
	})

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd.OutOrStdout(), cmd)
	})

	rootCmd.AddCommand(
		newServeCmd(o),
		newFetchCmd(o),
		newLatestCmd(o),
		newHistoryCmd(o),
		newQuoteCmd(o),
	)
	return rootCmd
}

// bind maps config keys to flags so that a changed flag beats file and env.
func (o *rootOptions) bind(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := o.v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func (o *rootOptions) load() error {
	_ = godotenv.Load()

	if o.output != outputTable && o.output != outputJSON {
		return fmt.Errorf("unknown output format %q", o.output)
	}
	if err := config.ReadFile(o.v, o.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(o.v)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func (o *rootOptions) openApp(cmd *cobra.Command) (*app.App, error) {
	logger := telemetry.NewLogger(cmd.ErrOrStderr(), telemetry.LogOptions{
		Format: o.cfg.Log.Format,
		Level:  o.cfg.Log.Level,
	})
	return app.New(cmd.Context(), o.cfg, app.WithLogger(logger))
}

func renderHelp(w io.Writer, cmd *cobra.Command) {
	title := titleStyle.MarginBottom(1)

	fmt.Fprintln(w, title.Render(fmt.Sprintf("HYBRIDCOST %s", version.Current)))
	if cmd.Long != "" {
		fmt.Fprintln(w, cmd.Long)
	} else {
		fmt.Fprintln(w, cmd.Short)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, title.Render("USAGE"))
	fmt.Fprintf(w, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(w, title.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(w, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, title.Render("EXAMPLES"))
		fmt.Fprintln(w, "  hybridcost serve --storage postgres      # Daily refresh + HTTP API")
		fmt.Fprintln(w, "  hybridcost fetch --mock                  # One cycle, scripted source")
		fmt.Fprintln(w, "  hybridcost quote --cpu 4 --memory 16     # Estimate from latest prices")
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, title.Render("FLAGS"))
	flagStyle := lipgloss.NewStyle().Foreground(colorTextSub)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		line := fmt.Sprintf("  --%-15s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			line += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(w, flagStyle.Render(line))
	})
	fmt.Fprintln(w)
}
