// Command pipelinedemo drives a single reliability module over a real
// UDP socket, reading outbound payloads from stdin and printing inbound
// ones to stdout. It exists to exercise the pipeline end to end against
// actual packet loss and reordering, not as a production client.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Galaktikos/Modular-Packet-Management-Protocol/config"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/metrics"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/modules/ack"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/modules/dynack"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/modules/dynstream"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/modules/stream"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/pipeline"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/transport/udp"
)

var log = logging.Logger("pipelinedemo")

var (
	flagModule      string
	flagConfigPath  string
	flagMetricsAddr string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipelinedemo",
		Short: "Drive a single reliability module over UDP",
	}
	root.PersistentFlags().StringVar(&flagModule, "module", "stream", "module to run: ack, dynack, stream, dynstream")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a JSON config file (defaults to the spec's built-in defaults)")
	root.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")

	root.AddCommand(listenCmd(), dialCmd())
	return root
}

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen <local-addr>",
		Short: "Bind a UDP socket and wait for the first peer to speak",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := udp.Listen(args[0])
			if err != nil {
				return err
			}
			return run(cmd.Context(), peer)
		},
	}
}

func dialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dial <remote-addr>",
		Short: "Open a UDP socket targeting a remote peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := udp.Dial(args[0])
			if err != nil {
				return err
			}
			return run(cmd.Context(), peer)
		},
	}
}

// lifecycle is satisfied by every reliability module: each owns a
// background retransmission timer that must be started and, on
// shutdown, stopped and drained.
type lifecycle interface {
	Start()
	Close() error
}

func run(ctx context.Context, peer *udp.Peer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.New()
	log.Infow("starting session", "session", sessionID, "module", flagModule, "local", peer.LocalAddr())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	mset := metrics.NewSet(reg)
	if flagMetricsAddr != "" {
		serveMetrics(reg)
	}

	mod, lc, err := buildModule(flagModule, cfg, mset)
	if err != nil {
		return err
	}

	mgr := pipeline.NewManager(
		func(payload []byte) { fmt.Println(string(payload)) },
		func(frame []byte) {
			if err := peer.Send(frame); err != nil {
				log.Warnw("send failed", "error", err)
			}
		},
	)
	mgr.SetModules(mod)
	lc.Start()
	defer lc.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return peer.Close()
	})
	g.Go(func() error {
		return peer.Serve(mgr.Read)
	})
	g.Go(func() error {
		return readStdin(ctx, mgr)
	})
	return g.Wait()
}

func readStdin(ctx context.Context, mgr *pipeline.Manager) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		mgr.Build(scanner.Bytes())
	}
	return scanner.Err()
}

func loadConfig() (*config.Config, error) {
	if flagConfigPath == "" {
		return config.Default(), nil
	}
	return config.LoadFile(flagConfigPath)
}

func buildModule(name string, cfg *config.Config, mset *metrics.Set) (pipeline.Module, lifecycle, error) {
	switch name {
	case "ack":
		m := ack.New(ack.Config{Timeout: cfg.Ack.Timeout()}, ack.WithMetrics(mset))
		return m, m, nil
	case "dynack":
		m := dynack.New(dynack.Config{
			MinTimeout: cfg.DynAck.MinTimeout(),
			MaxTimeout: cfg.DynAck.MaxTimeout(),
			Multiplier: cfg.DynAck.Multiplier,
		}, dynack.WithMetrics(mset))
		return m, m, nil
	case "stream":
		m := stream.New(stream.Config{
			Timeout:           cfg.Stream.Timeout(),
			ReceiveBufferSize: cfg.Stream.ReceiveBufferSize,
		}, stream.WithMetrics(mset))
		return m, m, nil
	case "dynstream":
		m := dynstream.New(dynstream.Config{
			MinTimeout:        cfg.DynStream.MinTimeout(),
			MaxTimeout:        cfg.DynStream.MaxTimeout(),
			Multiplier:        cfg.DynStream.Multiplier,
			ReceiveBufferSize: cfg.DynStream.ReceiveBufferSize,
		}, dynstream.WithMetrics(mset))
		return m, m, nil
	default:
		return nil, nil, errors.Errorf("unknown module %q", name)
	}
}

func serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: flagMetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnw("metrics server exited", "error", err)
		}
	}()
}
