package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"maid/channel"
	"maid/config"
	"maid/registry"
)

func callCmd(load loader) *cobra.Command {
	var (
		host    string
		port    int
		codecN  string
		etcd    []string
		method  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "call [message]",
		Short: "Call a string method on a remote channel",
		Long: `Connect to a channel and call Service.Method with a string message.

With --etcd the address is discovered from the registry instead of
--host/--port, and the advertised codec is used unless --codec is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Client.Host = host
			}
			if flags.Changed("port") {
				cfg.Client.Port = port
			}
			if flags.Changed("codec") {
				cfg.Channel.Codec = codecN
			}
			if flags.Changed("etcd") {
				cfg.Etcd.Endpoints = etcd
			}
			if verbose {
				cfg.Log.Level = "debug"
			}

			var msg string
			if len(args) > 0 {
				msg = args[0]
			}

			if len(cfg.Etcd.Endpoints) > 0 {
				service, _, _ := strings.Cut(method, ".")
				if err := discover(cmd.Context(), cfg, service, !flags.Changed("codec")); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			reply, err := call(cmd.Context(), cfg, method, msg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Address to connect to")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to connect to")
	cmd.Flags().StringVar(&codecN, "codec", "", "Payload codec: proto, json or raw")
	cmd.Flags().StringSliceVar(&etcd, "etcd", nil, "etcd endpoints to discover the server from")
	cmd.Flags().StringVarP(&method, "method", "m", "Echo.Say", "Service.Method to call")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	return cmd
}

// discover points cfg.Client at the first advertised instance of service.
func discover(ctx context.Context, cfg *config.Config, service string, useCodec bool) error {
	reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout.Duration, zap.NewNop())
	if err != nil {
		return err
	}
	defer reg.Close()

	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return fmt.Errorf("no instance of %s registered", service)
	}

	inst := instances[0]
	h, p, err := net.SplitHostPort(inst.Addr)
	if err != nil {
		return fmt.Errorf("bad advertised address %q: %w", inst.Addr, err)
	}
	cfg.Client.Host = h
	if cfg.Client.Port, err = strconv.Atoi(p); err != nil {
		return fmt.Errorf("bad advertised port %q: %w", p, err)
	}
	if useCodec && inst.Codec != "" {
		cfg.Channel.Codec = inst.Codec
	}
	return nil
}

func call(ctx context.Context, cfg *config.Config, method, msg string) (string, error) {
	logger, err := cfg.NewLogger()
	if err != nil {
		return "", err
	}
	defer logger.Sync()

	opts, err := cfg.ChannelOptions(logger, nil)
	if err != nil {
		return "", err
	}
	ch := channel.New(opts...)
	defer ch.Close(cfg.Client.CallTimeout.Duration)

	if _, err := ch.Connect(ctx, cfg.Client.Host, cfg.Client.Port); err != nil {
		return "", err
	}

	// Raw payloads travel as plain bytes, the other codecs as a StringValue.
	if cfg.Channel.Codec == "raw" || cfg.Channel.Codec == "bytes" {
		var reply string
		if err := ch.Invoke(ctx, method, msg, &reply); err != nil {
			return "", err
		}
		return reply, nil
	}
	reply := &wrapperspb.StringValue{}
	if err := ch.Invoke(ctx, method, wrapperspb.String(msg), reply); err != nil {
		return "", err
	}
	return reply.GetValue(), nil
}
