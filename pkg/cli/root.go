// Package cli provides the command-line interface for Kiln
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kilnproject/kiln/pkg/config"
	"github.com/kilnproject/kiln/pkg/types"
)

var (
	cfgFile   string
	verbosity string
	version   string

	recipeDirFlag string
	buildDirFlag  string
	logDirFlag    string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Build packages from recipes, in dependency order",
	Long: `Kiln reads package recipes, resolves their dependency graph and
builds them in parallel: sources are fetched, verified and unpacked,
then each recipe's build steps run as subprocesses in a private working
directory. A failing package never stops its independent siblings.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("kiln v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// Explicit instead of init() so tests can rebuild the command tree.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: kiln.config.json)")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&recipeDirFlag, "recipe-dir", "", "directory containing recipe files")
	rootCmd.PersistentFlags().StringVar(&buildDirFlag, "build-dir", "", "root for per-package working directories")
	rootCmd.PersistentFlags().StringVar(&logDirFlag, "log-dir", "", "directory for build logs and session summaries")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newDescribeCmd())
	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("kiln.config")
	}

	viper.SetEnvPrefix("KILN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig resolves the session configuration: the file named by
// --config (or kiln.config.json / kiln.config.yaml in the working
// directory) when present, built-in defaults otherwise.
func loadConfig() (*types.KilnConfig, error) {
	mgr := config.NewManager()

	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		for _, candidate := range []string{"kiln.config.json", "kiln.config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	cfg := config.Default()
	if path != "" {
		loaded, err := mgr.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if recipeDirFlag != "" {
		cfg.RecipeDir = recipeDirFlag
	}
	if buildDirFlag != "" {
		cfg.BuildDir = buildDirFlag
	}
	if logDirFlag != "" {
		cfg.LogDir = logDirFlag
	}
	return cfg, nil
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("%s %s\n", color.GreenString("[kiln]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("[kiln]"), message)
}

func printInfo(message string) {
	fmt.Printf("%s %s\n", color.CyanString("[kiln]"), message)
}

func printWarning(message string) {
	fmt.Printf("%s %s\n", color.YellowString("[kiln]"), message)
}
