// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/service"
)

func serveCommand() *cli.Command {
	var (
		options commonOptions
		listen  string
	)
	return &cli.Command{
		Name:    "serve",
		Summary: "Accept signed build triggers over HTTP",
		Description: "Serve POST /trigger (form field \"text\", optional \"branch\"), GET /healthz,\n" +
			"and GET /metrics. Trigger requests must carry an HMAC-SHA256 signature\n" +
			"made with serve.signing_secret. Accepted triggers start their pipelines\n" +
			"in the background; on SIGINT or SIGTERM the server stops accepting\n" +
			"requests and waits for running pipelines to be cancelled.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringVar(&listen, "listen", "", "listen address (default serve.listen)")
			return flagSet
		},
		Run: func(args []string) error {
			a, err := openApp(options)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.config.Serve.SigningSecret == "" {
				return failure.New(failure.Configuration, "serve",
					"serve.signing_secret (or BUILDRELAY_SIGNING_SECRET) is required")
			}
			if listen == "" {
				listen = a.config.Serve.Listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if swept, err := a.coordinator.Recover(ctx); err != nil {
				a.logger.Warn("sweeping abandoned remote jobs failed", "error", err)
			} else if swept > 0 {
				a.logger.Info("removed scratch files of abandoned remote jobs", "jobs", swept)
			}

			handler := service.NewHandler(ctx, service.HandlerConfig{
				Table:    a.table,
				Runner:   a.coordinator,
				Secret:   []byte(a.config.Serve.SigningSecret),
				MaxSkew:  a.config.Serve.Skew(),
				Gatherer: a.registry,
				Notifier: a.notifier,
				Metrics:  a.metrics,
				Logger:   a.logger,
			})
			server := service.NewHTTPServer(service.HTTPServerConfig{
				Address: listen,
				Handler: handler,
				Logger:  a.logger,
			})

			a.logger.Info("serving build triggers",
				"listen", listen,
				"targets", a.targetNames(),
				"hosts", len(a.hosts)-1,
			)
			serveErr := server.Serve(ctx)
			stop()
			handler.Wait()
			return serveErr
		},
	}
}
