package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/listener"
	"sleepywoodpecker/bridgelog/internal/output"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print the datagrams sent by run --udp",
	Long: `Bind a UDP socket and print every datagram as a list of doubles.

Run it on the UDP target to check what bridgelog run --udp sends. The port
and byte order default to the output.udp settings.`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().String("ip", "0.0.0.0", "address to bind")
	listenCmd.Flags().Int("port", 0, "port to bind (default output.udp.port)")
	listenCmd.Flags().Int("count", 4, "doubles per datagram, 0 for all")
	listenCmd.Flags().String("byte-order", "", "little or big (default output.udp.byte_order)")
}

func runListen(cmd *cobra.Command, args []string) error {
	v := viper.New()
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cfg.Log.Console)
	if err != nil {
		return err
	}
	defer logger.Sync()

	flags := cmd.Flags()
	ip, _ := flags.GetString("ip")
	port, _ := flags.GetInt("port")
	if port == 0 {
		port = cfg.Output.UDP.Port
	}
	count, _ := flags.GetInt("count")
	orderName, _ := flags.GetString("byte-order")
	if orderName == "" {
		orderName = cfg.Output.UDP.ByteOrder
	}
	order, err := output.ByteOrder(orderName)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("[listener] listening", zap.String("addr", addr), zap.Int("count", count))
	out := cmd.OutOrStdout()
	return listener.New(conn, count, order, logger).Run(ctx, func(values []float64, from net.Addr) {
		fmt.Fprintf(out, "received message: %v\n", values)
	})
}
