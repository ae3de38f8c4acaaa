package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/djamfikr7/ble32/pkg/scale"
	"github.com/djamfikr7/ble32/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewWeightCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "weight",
		Short:   "Print the current weight",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := apiClient.GetWeight()
			if err != nil {
				return fmt.Errorf("failed to get weight: %w", err)
			}
			cmd.Println(w.Status)
			return nil
		},
	}
}

func NewTareCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "tare",
		Short:   "Zero the scale",
		GroupID: gBasic,
		Long: `Zero the scale.

The load currently on the platform becomes the zero point. Containers can be
tared before filling them.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Tare()
			if err != nil {
				return fmt.Errorf("failed to tare: %w", err)
			}
			logResponse(ret)
			logrus.Info("successfully tared the scale")
			return nil
		},
	}
}

func NewCalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "calibrate [grams]",
		Short:   "Calibrate with a known mass",
		GroupID: gBasic,
		Long: `Calibrate with a known mass.

Tare the empty scale first, then put a reference mass on the platform and pass
its weight in grams. The new factor is kept until the daemon restarts.`,
		Example: `  scale tare
  scale calibrate 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reference, err := parseFloatArg(args, "reference mass")
			if err != nil {
				return err
			}

			st, err := apiClient.Calibrate(reference)
			if err != nil {
				return fmt.Errorf("failed to calibrate: %w", err)
			}

			logrus.Infof("successfully calibrated with %g g", reference)
			cmd.Printf("Calibration factor: %s\n", bold("%.4f", st.Factor))
			return nil
		},
	}
}

func NewUnitCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "unit [g|kg|lb|oz]",
		Short:     "Set the display unit",
		GroupID:   gBasic,
		ValidArgs: []string{"g", "kg", "lb", "oz"},
		Args:      cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			u, err := scale.ParseUnit(args[0])
			if err != nil {
				return err
			}

			ret, err := apiClient.SetUnit(u)
			if err != nil {
				return fmt.Errorf("failed to set unit: %w", err)
			}
			logResponse(ret)
			logrus.Infof("successfully set unit to %s", u)
			return nil
		},
	}
}
