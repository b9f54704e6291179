// Copyright 2024 The rtpscore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qeo-rtps/rtpscore"
	"github.com/qeo-rtps/rtpscore/config"
	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/wire"
)

// configFlags holds the flags shared by every subcommand that needs a
// decoded config.File (start, dump-forwarding-table, validate-config).
type configFlags struct {
	path   string
	domain uint32
	logLvl string
	logDev bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "config", "/etc/rtpscore/rtpscored.toml", "path to the TOML config file")
	cmd.Flags().Uint32Var(&f.domain, "domain", 0, "DDS domain id")
	cmd.Flags().StringVar(&f.logLvl, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&f.logDev, "log-development", false, "use zap's human-readable development encoder")
}

func (f *configFlags) load() (config.File, *zap.Logger, error) {
	cfg, err := config.LoadOptional(f.path)
	if err != nil {
		return config.File{}, nil, fmt.Errorf("load config: %w", err)
	}
	if f.logLvl != "" {
		cfg.Logging.Level = f.logLvl
	}
	if f.logDev {
		cfg.Logging.Development = true
	}
	log, err := rtpscore.NewLogger(rtpscore.LogConfig{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return config.File{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the rtpscored version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newValidateConfigCmd() *cobra.Command {
	flags := &configFlags{}
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "decode the config file and report any error, without starting the core",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (domain default %d, forward=%t)\n", flags.path, cfg.Domain, cfg.Forward)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.path, "config", "/etc/rtpscore/rtpscored.toml", "path to the TOML config file")
	return cmd
}

func newStartCmd() *cobra.Command {
	flags := &configFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the transport multiplexer and forwarder until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			rtpscore.SetDefaultLogger(log)

			domain := flags.domain
			if domain == 0 {
				domain = cfg.Domain
			}

			core := rtpscore.New(log, cfg, domain, func(domain uint32, msg *wire.Message, src locator.Locator) {
				log.Debug("received message with no registered DCPS consumer", zap.Uint32("domain", domain), zap.Stringer("src", src))
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Metrics.Enabled {
				srv := newMetricsServer(core, cfg.Metrics.Addr)
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error("metrics server exited", zap.Error(err))
					}
				}()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			log.Info("starting rtpscored", zap.Uint32("domain", domain))
			err = core.Start(ctx)
			closeErr := core.Close()
			if err != nil && ctx.Err() == nil {
				return err
			}
			return closeErr
		},
	}
	flags.register(cmd)
	return cmd
}

func newMetricsServer(core *rtpscore.Core, addr string) *http.Server {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(core.PrometheusRegistry(), promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}

// newDumpForwardingTableCmd runs the core in the foreground exactly like
// start, but also prints the forwarding table to stdout on SIGUSR1 and
// once more on shutdown — the closest this core's CLI/config surface
// gets to the original's rfwd_dump console command without a live
// admin API, which is explicitly out of scope (spec §1).
func newDumpForwardingTableCmd() *cobra.Command {
	flags := &configFlags{}
	cmd := &cobra.Command{
		Use:   "dump-forwarding-table",
		Short: "run the core, printing its forwarding table on SIGUSR1 and on exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			rtpscore.SetDefaultLogger(log)

			domain := flags.domain
			if domain == 0 {
				domain = cfg.Domain
			}

			core := rtpscore.New(log, cfg, domain, func(domain uint32, msg *wire.Message, src locator.Locator) {})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dump := make(chan os.Signal, 1)
			signal.Notify(dump, syscall.SIGUSR1)
			defer signal.Stop(dump)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-dump:
						fmt.Fprint(cmd.OutOrStdout(), core.Forwarder().Dump())
					}
				}
			}()

			err = core.Start(ctx)
			fmt.Fprint(cmd.OutOrStdout(), core.Forwarder().Dump())
			closeErr := core.Close()
			if err != nil && ctx.Err() == nil {
				return err
			}
			return closeErr
		},
	}
	flags.register(cmd)
	return cmd
}
