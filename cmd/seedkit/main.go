package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configFile  string
	dbURL       string
	logLevel    string
	logFormat   string
	metricsFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "seedkit",
		Short: "Seed, verify and maintain content tables",
		Long: `Seedkit generates educational content through a chat-completion API, imports it
into the database in batches, and verifies that every expected key has matching
rows. It also covers the small maintenance chores around that workflow: counts,
schema checks, purges, migrations, storage buckets, function smoke tests and
text-to-speech caching.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Config file (default: ./seedkit.yaml or ./config/seedkit.yaml if present)")
	pf.StringVar(&opts.dbURL, "db-url", "", "Database URL (postgres://, mysql:// or sqlite://); overrides DATABASE_URL")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (default: info)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json (default: console)")
	pf.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path on exit")

	cmd.AddCommand(
		newCoverageCmd(opts),
		newCountCmd(opts),
		newSchemaCmd(opts),
		newGenerateCmd(opts),
		newImportCmd(opts),
		newPurgeCmd(opts),
		newMigrateCmd(opts),
		newBucketCmd(opts),
		newSmokeCmd(opts),
		newTTSCmd(opts),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
