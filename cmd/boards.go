package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sleepywoodpecker/bridgelog/internal/devices"
	"sleepywoodpecker/bridgelog/internal/session"
)

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List the connected boards",
	Long: `Open the device managers for a moment and list every board that
attached, with the names and column headers it would be sampled with.`,
	RunE: runBoards,
}

func init() {
	rootCmd.AddCommand(boardsCmd)
	boardsCmd.Flags().Duration("wait", 2*time.Second, "how long to wait for boards to attach")
	boardsCmd.Flags().Bool("test", false, "include the simulated board")
}

func runBoards(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlag("devices.virtual", cmd.Flags().Lookup("test")); err != nil {
		return err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := devices.NewRegistry(logger, devices.RegistryOptions{
		DictionaryPath:   cfg.Devices.Dictionary,
		DefaultSeparator: cfg.Devices.Separator,
		BoardOptions:     devices.ConfigOptions(cfg),
	})
	defer reg.Close()

	var managers []devices.Manager
	if serials := session.VirtualSerials(cfg); len(serials) > 0 {
		managers = append(managers, devices.NewVirtualManager(serials...))
	}
	if cfg.Devices.Serial.Enabled {
		managers = append(managers, devices.NewSerialManager(devices.SerialOptions{
			Ports:        cfg.Devices.Serial.Ports,
			VID:          cfg.Devices.Serial.VID,
			PID:          cfg.Devices.Serial.PID,
			BaudRate:     cfg.Devices.Serial.BaudRate,
			ScanInterval: cfg.Devices.Serial.ScanInterval.Duration(),
		}, logger))
	}

	wait, _ := cmd.Flags().GetDuration("wait")
	ctx, cancel := context.WithTimeout(cmd.Context(), wait)
	defer cancel()
	for _, m := range managers {
		reg.Watch(m)
		if err := m.Open(ctx); err != nil {
			return err
		}
		defer m.Close()
	}
	<-ctx.Done()

	out := cmd.OutOrStdout()
	boards := reg.Boards()
	if len(boards) == 0 {
		fmt.Fprintln(out, "No boards are connected.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tNAME\tGAIN\tREADY\tCOLUMNS")
	for _, b := range boards {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%v\n", b.Serial(), b.Name(), b.Gain(), b.Ready(), b.ColumnNames())
	}
	return tw.Flush()
}
