package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewNoiseCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "noise [process-noise] [measurement-noise]",
		Short:   "Tune the Kalman filter",
		GroupID: gAdvanced,
		Long: `Tune the Kalman filter.

A smaller process noise or a larger measurement noise gives a smoother but
slower reading. Both must be positive. Defaults are 0.01 and 0.1.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			q, err := parseFloatArg(args[:1], "process noise")
			if err != nil {
				return err
			}
			r, err := parseFloatArg(args[1:], "measurement noise")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetNoise(q, r)
			if err != nil {
				return fmt.Errorf("failed to set noise: %w", err)
			}
			logResponse(ret)
			logrus.Infof("successfully set process noise to %g and measurement noise to %g", q, r)
			return nil
		},
	}
}

func NewAutoTareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto-tare [cron-expression]",
		Short: "Manage the automatic tare schedule",
		Long: `Manage the automatic tare schedule.

At each scheduled time the scale is tared if the platform is empty and
stable. Without arguments the current schedule is shown.`,
		Example: `  scale auto-tare '0 3 * * *'   (every day at 03:00)
  scale auto-tare '@every 6h'
  scale auto-tare disable`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return showAutoTare(cmd)
			}

			ret, err := apiClient.SetAutoTare(args[0])
			if err != nil {
				return fmt.Errorf("failed to set auto-tare schedule: %w", err)
			}
			logResponse(ret)
			return showAutoTare(cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Disable automatic tare",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := apiClient.SetAutoTare(""); err != nil {
				return fmt.Errorf("failed to disable auto-tare: %w", err)
			}
			logrus.Info("successfully disabled auto-tare")
			return nil
		},
	})

	return cmd
}

func showAutoTare(cmd *cobra.Command) error {
	at, err := apiClient.GetAutoTare()
	if err != nil {
		return fmt.Errorf("failed to get auto-tare schedule: %w", err)
	}
	if at.Cron == "" {
		cmd.Println("Auto-tare: disabled")
		return nil
	}
	cmd.Printf("Auto-tare: %s\n", bold("%s", at.Cron))
	if at.NextRun != 0 {
		cmd.Printf("  Next run: %s\n", time.Unix(at.NextRun, 0).Format(time.DateTime))
	}
	return nil
}

func NewHistoryCommand() *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Show recent stable readings",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := apiClient.GetHistory(n)
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}
			for _, e := range entries {
				cmd.Printf("%s  %s\n", e.At.Local().Format(time.DateTime), bold("%s", e.Unit.Format(e.Grams)))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "count", "n", 20, "number of readings")
	return cmd
}

func NewBatteryCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "battery [percent]",
		Short:   "Show or override the reported battery level",
		GroupID: gAdvanced,
		Long: `Show or override the reported battery level.

Overriding only works when the daemon uses a fixed battery source.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				p, err := parseIntArg(args, "battery level")
				if err != nil {
					return err
				}
				if _, err := apiClient.SetBattery(p); err != nil {
					return fmt.Errorf("failed to set battery level: %w", err)
				}
			}

			p, err := apiClient.GetBattery()
			if err != nil {
				return err
			}
			cmd.Printf("Battery: %s\n", bold("%d%%", p))
			return nil
		},
	}
}

func NewSimulateCommand() *cobra.Command {
	var notReady bool

	cmd := &cobra.Command{
		Use:     "simulate [grams]",
		Short:   "Put a load on the simulated load cell",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, args []string) error {
			grams, err := parseFloatArg(args, "load")
			if err != nil {
				return err
			}

			ready := !notReady
			ret, err := apiClient.Simulate(grams, &ready)
			if err != nil {
				return fmt.Errorf("failed to set simulated load: %w", err)
			}
			logResponse(ret)
			logrus.Infof("simulated load set to %s g", strconv.FormatFloat(grams, 'f', -1, 64))
			return nil
		},
	}

	cmd.Flags().BoolVar(&notReady, "not-ready", false, "make the simulated sensor stop producing conversions")
	return cmd
}
