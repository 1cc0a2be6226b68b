// Command watchtower runs the Watchtower supply-chain worker: the queue
// dispatcher in daemon mode, plus a one-shot analyze command for debugging
// the analysis pipeline locally.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/deptex/watchtower/pkg/analysis"
	"github.com/deptex/watchtower/pkg/autobump"
	"github.com/deptex/watchtower/pkg/config"
	"github.com/deptex/watchtower/pkg/console"
	"github.com/deptex/watchtower/pkg/constants"
	"github.com/deptex/watchtower/pkg/queue"
	"github.com/deptex/watchtower/pkg/registry"
	"github.com/deptex/watchtower/pkg/storage"
	"github.com/deptex/watchtower/pkg/worker"
)

// Build-time variables set by the release pipeline
var version = "dev"

// defaultConfigFile is the optional on-disk config next to the binary
const defaultConfigFile = "watchtower.yml"

var rootCmd = &cobra.Command{
	Use:     constants.CLIName,
	Short:   "Watchtower supply-chain worker",
	Version: version,
	Long: `Watchtower monitors upstream packages for organizations: it verifies new
releases, profiles contributors for behavioral anomalies, and orchestrates
automated dependency-bump pull requests under per-organization quarantine
policies.

Common tasks:
  watchtower worker                # run the queue dispatcher
  watchtower analyze lodash        # one-shot analysis of a package
  watchtower analyze lodash 4.17.21`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue dispatcher loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		if cfg.IsTest() {
			fmt.Fprintln(os.Stderr, console.FormatWarningMessage("worker entrypoint is disabled under NODE_ENV=test"))
			return nil
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
			os.Exit(1)
		}

		queues, err := queue.New(cfg.RedisURL, cfg.RedisToken)
		if err != nil {
			fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
			os.Exit(1)
		}
		defer queues.Close()

		store, err := storage.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
			os.Exit(1)
		}
		defer store.Close()

		registryClient := registry.NewClient(cfg.NPMRegistryURL)
		analyzer := analysis.New(registryClient)
		orchestrator := autobump.New(store, analyzer, autobump.NewHTTPPRClient(cfg.PRServiceURL))
		dispatcher := worker.New(cfg, queues, store, analyzer, orchestrator, registryClient)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return dispatcher.Run(ctx)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <package> [version]",
	Short: "Run the analysis pipeline once against a package",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		name := args[0]
		target := "latest"
		if len(args) == 2 {
			target = args[1]
		}

		spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = fmt.Sprintf(" analyzing %s@%s...", name, target)
		spin.Start()

		analyzer := analysis.New(registry.NewClient(cfg.NPMRegistryURL))
		results, runErr := runAnalysis(cmd.Context(), analyzer, name, target)
		spin.Stop()

		if runErr != nil {
			fmt.Fprintln(os.Stderr, console.FormatErrorMessage(runErr.Error()))
			return runErr
		}

		fmt.Fprintln(os.Stderr, console.FormatSuccessMessage(fmt.Sprintf("analysis of %s@%s complete", name, target)))
		fmt.Fprint(os.Stderr, console.RenderTable(console.TableConfig{
			Headers: []string{"Check", "Status", "Reason"},
			Rows: [][]string{
				{"registry integrity", console.FormatCheckStatus(results.RegistryIntegrity.Status), results.RegistryIntegrity.Reason},
				{"install scripts", console.FormatCheckStatus(results.InstallScripts.Status), results.InstallScripts.Reason},
				{"entropy", console.FormatCheckStatus(results.Entropy.Status), results.Entropy.Reason},
			},
		}))
		return nil
	},
}

// runAnalysis executes the one-shot pipeline with scoped temp cleanup
func runAnalysis(ctx context.Context, analyzer *analysis.Analyzer, name, target string) (*storage.AnalysisResults, error) {
	if target == "latest" {
		result := analyzer.AnalyzePackage(ctx, name)
		defer analysis.CleanupTempDir(result.TmpDir)
		if !result.Success {
			return nil, fmt.Errorf("analysis failed: %s", result.Error)
		}
		return result.Data, nil
	}

	result := analyzer.AnalyzePackageVersion(ctx, name, target)
	defer analysis.CleanupTempDir(result.TmpDir)
	if !result.Success {
		return nil, fmt.Errorf("analysis failed: %s", result.Error)
	}
	return result.Data, nil
}

func init() {
	rootCmd.PersistentFlags().String("config", defaultConfigFile, "Path to the optional YAML config file")
	rootCmd.SetOut(os.Stderr)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
		os.Exit(1)
	}
}
