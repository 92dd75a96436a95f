package main

import (
	"context"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"maid/channel"
	"maid/config"
	"maid/metrics"
	"maid/middleware"
	"maid/registry"
)

func serveCmd(load loader) *cobra.Command {
	var (
		host    string
		port    int
		codecN  string
		admin   string
		etcd    []string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Echo service",
		Long: `Listen for connections and serve the Echo service.

When etcd endpoints are configured the service is advertised under
/maid/Echo/<addr> for as long as the process runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("codec") {
				cfg.Channel.Codec = codecN
			}
			if flags.Changed("admin") {
				cfg.Admin.Addr = admin
			}
			if flags.Changed("etcd") {
				cfg.Etcd.Endpoints = etcd
			}
			if verbose {
				cfg.Log.Level = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Address to listen on")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (0 picks a free port)")
	cmd.Flags().StringVar(&codecN, "codec", "", "Payload codec: proto, json or raw")
	cmd.Flags().StringVar(&admin, "admin", "", "Address of the /metrics and /healthz endpoint")
	cmd.Flags().StringSliceVar(&etcd, "etcd", nil, "etcd endpoints to advertise on")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithNamespace(cfg.Admin.Namespace), metrics.WithRegistry(reg))

	opts, err := cfg.ChannelOptions(logger, m)
	if err != nil {
		return err
	}
	ch := channel.New(opts...)
	ch.Use(middleware.TracingMiddleware(nil))
	ch.Use(middleware.LoggingMiddleware(logger))
	if cfg.Server.RateLimit > 0 {
		ch.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if d := cfg.Server.Timeout.Duration; d > 0 {
		ch.Use(middleware.TimeOutMiddleware(d))
	}
	if err := ch.Register(&Echo{}); err != nil {
		return err
	}

	ln, err := ch.Listen(ctx, cfg.Server.Host, cfg.Server.Port, cfg.Server.Backlog)
	if err != nil {
		return err
	}
	defer ch.Close(5 * time.Second)

	if len(cfg.Etcd.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout.Duration, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := ch.Withdraw(context.Background()); err != nil {
				logger.Warn("withdraw failed", zap.Error(err))
			}
			etcdReg.Close()
		}()

		addr := cfg.Server.Advertise
		if addr == "" {
			addr = advertiseAddr(cfg.Server.Host, ln.Addr())
		}
		if err := ch.Advertise(ctx, etcdReg, addr, cfg.Etcd.TTL); err != nil {
			return err
		}
	}

	if cfg.Admin.Addr != "" {
		go runAdmin(ctx, cfg.Admin.Addr, adminRouter(ch, reg), logger)
	}

	logger.Info("serving", zap.Stringer("addr", ln.Addr()), zap.Strings("services", ch.Services()), zap.String("codec", cfg.Channel.Codec))

	done := make(chan error, 1)
	go func() { done <- ln.Wait() }()
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-done:
		return err
	}
}

// advertiseAddr joins host with the bound port. Wildcard hosts advertise the
// loopback address.
func advertiseAddr(host string, bound net.Addr) string {
	tcp, ok := bound.(*net.TCPAddr)
	if !ok {
		return bound.String()
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}
