package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/mvkv/cmd/history"
	"github.com/ValentinKolb/mvkv/cmd/kv"
	"github.com/ValentinKolb/mvkv/cmd/pull"
	"github.com/ValentinKolb/mvkv/cmd/serve"
	"github.com/ValentinKolb/mvkv/cmd/util"
	"github.com/ValentinKolb/mvkv/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mvkv",
		Short: "multi-version key-value store",
		Long: fmt.Sprintf(`mvkv (v%s)

A multi-version key-value store written in Go. Every write is a commit in a
per-device history; histories of different devices are merged by pulling
their commits, last writer wins per key.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: initLogging,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mvkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mvkv v%s\n", Version)
		},
	}
)

func init() {
	// run the PersistentPreRunE of every parent, not only the nearest one
	cobra.EnableTraverseRunHooks = true
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(pull.SyncCmd)
	RootCmd.AddCommand(history.LogCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("level at which logs are written to stderr (debug, info, warn, error)"))
	key = "log-levels"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("per logger levels overriding --log-level, e.g. 'vacuum=debug,engine=error'"))
}

// initLogging installs the logger format before any command runs
func initLogging(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"), viper.GetString("log-levels"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
