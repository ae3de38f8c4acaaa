package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/djamfikr7/ble32/pkg/events"
	"github.com/djamfikr7/ble32/pkg/scale"
)

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Print scale events as they happen",
		GroupID: gBasic,
		Long: `Print scale events as they happen.

Stable weights, tares, calibrations, unit changes and sensor errors are
printed until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			for ev := range apiClient.SubscribeEvents(ctx) {
				line, err := describeEvent(ev)
				if err != nil {
					logrus.WithError(err).WithField("event", ev.Name).Warn("failed to decode event")
					continue
				}
				cmd.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), line)
			}
			return nil
		},
	}
}

func describeEvent(ev events.Event) (string, error) {
	switch ev.Name {
	case events.WeightStable:
		p, err := events.DecodeAs[events.WeightStableEvent](ev)
		if err != nil {
			return "", err
		}
		u, err := scale.ParseUnit(p.Unit)
		if err != nil {
			return "", err
		}
		return "stable " + bold("%s", u.Format(p.Grams)), nil
	case events.Tared:
		p, err := events.DecodeAs[events.TareEvent](ev)
		if err != nil {
			return "", err
		}
		if p.Auto {
			return "tared (scheduled)", nil
		}
		return "tared", nil
	case events.Calibrated:
		p, err := events.DecodeAs[events.CalibratedEvent](ev)
		if err != nil {
			return "", err
		}
		if p.Error != "" {
			return color.RedString("calibration with %g g failed: %s", p.Reference, p.Error), nil
		}
		return color.GreenString("calibrated with %g g, factor %.4f", p.Reference, p.Factor), nil
	case events.UnitChanged:
		p, err := events.DecodeAs[events.UnitChangedEvent](ev)
		if err != nil {
			return "", err
		}
		return "unit " + p.From + " -> " + bold("%s", p.To), nil
	case events.ErrorChanged:
		p, err := events.DecodeAs[events.ErrorChangedEvent](ev)
		if err != nil {
			return "", err
		}
		if p.To == scale.ErrorNone.String() {
			return color.GreenString("error cleared (%s)", p.From), nil
		}
		return color.RedString("error %s", p.To), nil
	default:
		return ev.Name + " " + string(ev.Data), nil
	}
}
