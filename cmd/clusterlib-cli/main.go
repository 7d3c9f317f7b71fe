// Command clusterlib-cli is an interactive and scriptable shell over a
// clusterlib ensemble: connect, inspect the notifyable hierarchy, take and
// release locks, and read or publish property values.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/clusterlib/clusterlib/common/logging"
	"github.com/clusterlib/clusterlib/factory"
)

const (
	cfgEnsemble   = "ensemble"
	cfgCommand    = "command"
	cfgListCmds   = "list"
	cfgLogLevel   = "loglevel"
	cfgConnectDur = "connect-timeout"
)

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "clusterlib-cli",
		Short:         "Interactive shell and scripting entry point for a clusterlib ensemble",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}

	rootCmd.PersistentFlags().StringP("ensemble", "z", "", "ensemble host:port[,host:port...]; empty uses an in-process store")
	rootCmd.PersistentFlags().StringP("command", "c", "", "run a single command then exit")
	rootCmd.PersistentFlags().BoolP("list", "l", false, "list available commands and exit")
	rootCmd.PersistentFlags().IntP("loglevel", "d", int(logging.LevelInfo), "log threshold 0..5: 0 (error) through 3 (debug); 4 and 5 act as 3")
	rootCmd.PersistentFlags().Duration(cfgConnectDur, 10*time.Second, "ensemble session timeout")

	return rootCmd
}

func bindOrPanic(v *viper.Viper, flags *flag.FlagSet) {
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	v := viper.New()
	bindOrPanic(v, cmd.Flags())

	if v.GetBool(cfgListCmds) {
		fmt.Fprint(stdout, listCommands())
		return nil
	}

	level := v.GetInt(cfgLogLevel)
	if level < 0 || level > 5 {
		return fmt.Errorf("loglevel must be 0..5")
	}
	if level > int(logging.LevelDebug) {
		level = int(logging.LevelDebug)
	}
	logging.SetLevel(logging.Level(level))

	var servers []string
	if ensemble := v.GetString(cfgEnsemble); ensemble != "" {
		servers = strings.Split(ensemble, ",")
	}

	ctx := context.Background()
	f, err := factory.New(ctx, factory.Config{
		ZKServers:      servers,
		SessionTimeout: v.GetDuration(cfgConnectDur),
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer f.Close()

	if oneShot := v.GetString(cfgCommand); oneShot != "" {
		out, err := dispatch(ctx, f, oneShot)
		if err != nil {
			return err
		}
		if out != "" {
			fmt.Fprintln(stdout, out)
		}
		return nil
	}

	return runInteractive(ctx, f)
}
