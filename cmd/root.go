package cmd

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/config"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/metrics"
)

var (
	configPath string
	logLevel   string
	overrides  []string
	seedPath   string

	cfg    *config.Config
	logger logging.Logger
	meters *metrics.Metrics
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "iflowpipe",
	Short: "Drive SAP integration flows through the deployment pipeline",
	Long: `iflowpipe selects integration packages and iFlows, checks them against the
design guidelines, probes their dependencies, uploads and deploys their artifacts
and runs the generated test suites. Each of the eight stages must pass its gate
before the next one starts.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&seedPath, "catalog", "", "YAML catalog seed replacing the demo packages")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "Override a configuration field, e.g. --set Upload.Transport=sftp")
}

// initConfig loads the configuration, applies --set overrides and builds the logger
func initConfig() {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		exitf("Error loading configuration: %v\n", err)
	}

	pairs, err := config.ParseOverrides(overrides)
	if err != nil {
		exitf("Error: %v\n", err)
	}
	if err := config.ApplyOverrides(cfg, pairs); err != nil {
		exitf("Error applying overrides: %v\n", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	zl, err := logging.NewZap(logging.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		exitf("Error creating logger: %v\n", err)
	}
	logger = zl

	meters, err = metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		exitf("Error registering metrics: %v\n", err)
	}
}

// loadCatalog returns the demo catalog or the one given with --catalog
func loadCatalog() *catalog.Static {
	if seedPath == "" {
		return catalog.NewDefault()
	}
	seed, err := catalog.LoadSeed(seedPath)
	if err != nil {
		exitf("Error loading catalog: %v\n", err)
	}
	c, err := catalog.NewStatic(seed)
	if err != nil {
		exitf("Error loading catalog: %v\n", err)
	}
	return c
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
