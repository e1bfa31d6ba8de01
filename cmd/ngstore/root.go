package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	ngstore "github.com/nextgis/nextgis-datastore-sub001"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ngstore",
		Short: "inspect and maintain geodata stores",
		Long: fmt.Sprintf(`ngstore (v%s)

Builds vector overviews, serves tiles and reads the edit history of
sqlite geodata stores. Flags can be set through NGS_<FLAG> environment
variables or a .env file.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: bindFlags,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ngstore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ngstore v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(overviewsCmd)
	RootCmd.AddCommand(tileCmd)
	RootCmd.AddCommand(editLogCmd)
	RootCmd.AddCommand(hashCmd)
	RootCmd.AddCommand(exportCmd)
	RootCmd.AddCommand(importCmd)

	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", "log level (debug, info, warn, error)")
	key = "workers"
	RootCmd.PersistentFlags().Int(key, 0, "tiling workers, 0 uses the number of CPUs")
	key = "read-only"
	RootCmd.PersistentFlags().Bool(key, false, "open the store read only")
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("ngs")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// newContext builds the store context from the bound configuration.
func newContext() (*ngstore.Context, error) {
	ctx := ngstore.NewContext()
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	ctx.Log.SetLevel(level)
	ctx.Log.SetOutput(os.Stderr)
	ctx.Workers = viper.GetInt("workers")
	ctx.ReadOnly = viper.GetBool("read-only")
	return ctx, nil
}

func openStore(path string) (*ngstore.DataStore, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}
	return ngstore.Open(ctx, path)
}

// progress prints progress messages to stderr.
func progress(log *logrus.Logger) ngstore.Progress {
	return func(code ngstore.Code, complete float64, message string) bool {
		entry := log.WithFields(logrus.Fields{
			"status":   code.String(),
			"complete": fmt.Sprintf("%.0f%%", complete*100),
		})
		if code == ngstore.CodeWarning {
			entry.Warn(message)
		} else {
			entry.Debug(message)
		}
		return true
	}
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
