package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/djamfikr7/ble32/pkg/client"
)

var (
	logLevel       = "info"
	logFile        = ""
	unixSocketPath = "/var/run/scale.sock"
	configPath     = "/etc/scale.json"
)

var apiClient *client.Client

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	if logFile != "" {
		// Rotated file plus stderr.
		logrus.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}))
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: scale daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'scale daemon', or point --daemon-socket at its socket.")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or restart the daemon with '--always-allow-non-root-access'")
	}
}

func main() {
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "scale runs and controls a load-cell kitchen scale",
		Long: `scale runs and controls a load-cell kitchen scale.

The daemon samples the load cell, filters the readings and publishes
weight packets over WebSocket and MQTT. The other commands talk to the
daemon through its unix socket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			if cmd.Name() == "daemon" {
				return nil
			}
			if clientVersion, daemonVersion, err := getVersion(); err == nil && daemonVersion != clientVersion {
				logrus.WithFields(logrus.Fields{
					"clientVersion": clientVersion,
					"daemonVersion": daemonVersion,
				}).Warn("version mismatch between client and daemon")
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&logFile, "log-file", "", "also write logs to this file, rotated")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "scale daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewWeightCommand(),
		NewTareCommand(),
		NewCalibrateCommand(),
		NewUnitCommand(),
		NewStatusCommand(),
		NewWatchCommand(),
		NewNoiseCommand(),
		NewAutoTareCommand(),
		NewHistoryCommand(),
		NewBatteryCommand(),
		NewSimulateCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
