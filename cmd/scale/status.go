package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/djamfikr7/ble32/pkg/calibration"
	"github.com/djamfikr7/ble32/pkg/config"
	"github.com/djamfikr7/ble32/pkg/daemon"
	"github.com/djamfikr7/ble32/pkg/scale"
)

type statusData struct {
	weight      *daemon.WeightResponse
	packet      *daemon.PacketResponse
	calibration *calibration.Status
	battery     int
	config      *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	weight, err := apiClient.GetWeight()
	if err != nil {
		return nil, fmt.Errorf("failed to get weight: %w", err)
	}

	pkt, err := apiClient.GetPacket()
	if err != nil {
		return nil, fmt.Errorf("failed to get weight packet: %w", err)
	}

	cal, err := apiClient.GetCalibration()
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration: %w", err)
	}

	battery, err := apiClient.GetBattery()
	if err != nil {
		return nil, fmt.Errorf("failed to get battery level: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		weight:      weight,
		packet:      pkt,
		calibration: cal,
		battery:     battery,
		config:      conf,
	}, nil
}

type statusJSON struct {
	Weight      *daemon.WeightResponse `json:"weight"`
	Packet      *daemon.PacketResponse `json:"packet"`
	Calibration *calibration.Status    `json:"calibration"`
	Battery     int                    `json:"battery"`
	Config      *config.RawFileConfig  `json:"config"`
}

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the scale",
		Long:    `Get the weight, sensor state, calibration and configuration.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statusJSON{
					Weight:      data.weight,
					Packet:      data.packet,
					Calibration: data.calibration,
					Battery:     data.battery,
					Config:      data.config,
				})
			}

			printStatus(cmd, data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, data *statusData) {
	conf := config.NewFileFromConfig(data.config, "")
	w := data.weight

	cmd.Println(bold("Weight:"))
	cmd.Printf("  Current: %s\n", bold("%s", w.Unit.Format(w.LastFiltered)))
	cmd.Println("  Stable: " + bool2Text(w.Stable))
	cmd.Printf("  Last stable: %s\n", w.Unit.Format(w.LastStable))
	cmd.Printf("  Raw: %s\n", scale.UnitGrams.Format(w.LastRaw))
	cmd.Printf("  Error: %s\n", errorText(w.Error))
	cmd.Printf("  Sensor ready: %s\n", bool2Text(w.Ready))
	cmd.Printf("  Packet: %s\n", data.packet.Hex)

	cmd.Println()

	cmd.Println(bold("Calibration:"))
	cmd.Printf("  Factor: %s\n", bold("%.4f", data.calibration.Factor))
	if !data.calibration.CalibratedAt.IsZero() {
		cmd.Printf("  Calibrated with %g g at %s\n", data.calibration.Reference, data.calibration.CalibratedAt.Local().Format(time.DateTime))
	} else {
		cmd.Println("  Not calibrated since the daemon started")
	}

	cmd.Println()

	cmd.Println(bold("Device:"))
	cmd.Printf("  Battery: %s\n", batteryText(data.battery))
	cmd.Printf("  Sensor: %s\n", conf.Sensor().Driver)

	cmd.Println()

	cmd.Println(bold("Configuration:"))
	cmd.Printf("  Unit: %s\n", bold("%s", conf.Unit()))
	cmd.Printf("  Range: %g g to %g g\n", conf.MinWeight(), conf.MaxWeight())
	cmd.Printf("  Kalman noise: process %g, measurement %g\n", conf.ProcessNoise(), conf.MeasurementNoise())
	cmd.Printf("  Stability: %g g over %d readings for %s\n", conf.StabilityThreshold(), conf.StabilityWindow(), conf.StabilityDwell())
	if expr := conf.AutoTareCron(); expr != "" {
		cmd.Printf("  Auto-tare: %s\n", bold("%s", expr))
	} else {
		cmd.Printf("  Auto-tare: %s\n", bool2Text(false))
	}
	cmd.Printf("  WebSocket: %s\n", textOrOff(conf.WebSocket().Listen))
	cmd.Printf("  MQTT: %s\n", textOrOff(conf.MQTT().Broker))
	cmd.Printf("  History: %s\n", textOrOff(conf.Redis().Addr))
	cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
}

func errorText(e scale.ErrorCode) string {
	if e == scale.ErrorNone {
		return color.New(color.Bold, color.FgGreen).Sprint(e)
	}
	return color.New(color.Bold, color.FgRed).Sprint(e)
}

func batteryText(p int) string {
	switch {
	case p <= 15:
		return color.New(color.Bold, color.FgRed).Sprintf("%d%%", p)
	case p <= 40:
		return color.New(color.Bold, color.FgYellow).Sprintf("%d%%", p)
	default:
		return color.New(color.Bold, color.FgGreen).Sprintf("%d%%", p)
	}
}

func textOrOff(s string) string {
	if s == "" {
		return bool2Text(false)
	}
	return s
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
