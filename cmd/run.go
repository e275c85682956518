package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/config"
	"sleepywoodpecker/bridgelog/internal/devices"
	"sleepywoodpecker/bridgelog/internal/output"
	"sleepywoodpecker/bridgelog/internal/output/zmqpub"
	"sleepywoodpecker/bridgelog/internal/runlog"
	"sleepywoodpecker/bridgelog/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample the connected boards",
	Long: `Start an acquisition session.

Without flags the readings go to "<prefix> - <date time>.csv" and you are
asked for the prefix. With --udp every sample is sent as one datagram of
little endian doubles and you are asked for the target IP and port. Values
passed as flags are not asked for; --no-prompt skips every question.

Sampling starts when ENTER is pressed and at least one board is connected,
or with --auto-start as soon as the first board shows up.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.Bool("udp", false, "send samples to a UDP target instead of a file")
	f.Bool("zmq", false, "publish samples on a ZMQ PUB socket instead of a file")
	f.Bool("test", false, "attach a simulated board")
	f.String("prefix", "", "file name prefix")
	f.String("output-dir", "", "directory for the CSV file")
	f.String("udp-ip", "", "UDP target IPv4 address")
	f.Int("udp-port", 0, "UDP target port")
	f.String("display", "", "display mode: tui, table or none")
	f.Bool("no-prompt", false, "do not ask for prefix, IP or port")
	f.Bool("auto-start", false, "start sampling as soon as a board is connected")
	runCmd.MarkFlagsMutuallyExclusive("udp", "zmq")
}

var runFlagKeys = map[string]string{
	"prefix":     "output.file.prefix",
	"output-dir": "output.file.dir",
	"udp-ip":     "output.udp.ip",
	"udp-port":   "output.udp.port",
	"display":    "display.mode",
	"test":       "devices.virtual",
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	v := viper.New()
	for name, key := range runFlagKeys {
		if flags.Changed(name) {
			if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
				return err
			}
		}
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if udp, _ := flags.GetBool("udp"); udp {
		cfg.Output.Mode = config.ModeUDP
	}
	if zmq, _ := flags.GetBool("zmq"); zmq {
		cfg.Output.Mode = config.ModeZMQ
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// the dashboard owns the terminal
	logger, err := newLogger(cfg, cfg.Log.Console && cfg.Display.Mode != config.DisplayTUI)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	noPrompt, _ := flags.GetBool("no-prompt")
	autoStart, _ := flags.GetBool("auto-start")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bridgelog %s: multi-board Bridge 4-Input logger\n\n", version)

	sess := session.New(cfg, session.Options{
		Version:      version,
		In:           os.Stdin,
		Out:          out,
		PromptPrefix: !noPrompt && !flags.Changed("prefix"),
		PromptUDP:    !noPrompt && !flags.Changed("udp-ip") && !flags.Changed("udp-port"),
		AutoStart:    autoStart,
		Managers:     managers,
		Recorder:     runlog.Connect(ctx, cfg.RunLog, version, logger),
		Output:       openOutput,
	}, logger)

	logger.Info("[main] starting session",
		zap.String("mode", cfg.Output.Mode),
		zap.String("display", cfg.Display.Mode),
		zap.Duration("samplingInterval", cfg.Sampling.Interval.Duration()),
	)
	if err := sess.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Shutting down.")
	return nil
}

// openOutput adds the zmq mode to the outputs the session opens itself.
func openOutput(cfg *config.Config, columns []string, at time.Time, logger *zap.Logger) (output.Writer, string, error) {
	if cfg.Output.Mode == config.ModeZMQ {
		pub, err := zmqpub.New(cfg.Output.ZMQ.Endpoint, cfg.Output.ZMQ.Topic, logger)
		if err != nil {
			return nil, "", err
		}
		return pub, cfg.Output.ZMQ.Endpoint, nil
	}
	return session.DefaultOutput(cfg, columns, at, logger)
}
