package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/coder/serpent"

	"github.com/via/orbuculum/trace"
	"github.com/via/orbuculum/trace/decoder/replay"
)

func (r *Root) CaptureCmd() *serpent.Command {
	var (
		opts        trace.Options
		configPath  string
		metricsAddr string
	)
	return &serpent.Command{
		Use:   "capture",
		Short: "Sample a trace stream and emit dot, callgrind, and pprof outputs.",
		Options: serpent.OptionSet{
			{
				Name:          "source",
				Description:   "Trace byte stream: tcp://host:port, ws://..., or a capture file path.",
				Flag:          "source",
				FlagShorthand: "s",
				Env:           "ORBPROFILE_SOURCE",
				Default:       "tcp://localhost:3443",
				Value:         serpent.StringOf(&opts.Source),
			},
			{
				Name:          "elf",
				Description:   "Target binary to use for symbol resolution.",
				Flag:          "elf",
				FlagShorthand: "e",
				Env:           "ORBPROFILE_ELF",
				Value:         serpent.StringOf(&opts.ElfFile),
			},
			{
				Name:          "strip-prefix",
				Description:   "Material to strip off the front of resolved file names.",
				Flag:          "strip-prefix",
				FlagShorthand: "d",
				Value:         serpent.StringOf(&opts.StripPrefix),
			},
			{
				Name:        "demangle",
				Description: "Demangle C++ symbol names.",
				Flag:        "demangle",
				Default:     "true",
				Value:       serpent.BoolOf(&opts.Demangle),
			},
			{
				Name:          "sample-duration",
				Description:   "How long to sample, measured from the first byte received.",
				Flag:          "sample-duration",
				FlagShorthand: "r",
				Default:       "1s",
				Value:         serpent.DurationOf(&opts.SampleDuration),
			},
			{
				Name:          "dot",
				Description:   "File for structured callgraph output in dot form.",
				Flag:          "dot",
				FlagShorthand: "y",
				Value:         serpent.StringOf(&opts.DotFile),
			},
			{
				Name:          "profile",
				Description:   "File for callgrind-compatible profile output.",
				Flag:          "profile",
				FlagShorthand: "z",
				Value:         serpent.StringOf(&opts.ProfileFile),
			},
			{
				Name:        "pprof",
				Description: "File for pprof protobuf profile output.",
				Flag:        "pprof",
				Value:       serpent.StringOf(&opts.PprofFile),
			},
			{
				Name:          "file-terminate",
				Description:   "End the sampling window at end of file instead of waiting for further input.",
				Flag:          "file-terminate",
				FlagShorthand: "E",
				Default:       "false",
				Value:         serpent.BoolOf(&opts.FileTerminate),
			},
			{
				Name:          "config",
				Description:   "YAML config file; values present in it override flags.",
				Flag:          "config",
				FlagShorthand: "c",
				Value:         serpent.StringOf(&configPath),
			},
			{
				Name:        "metrics-address",
				Description: "Serve prometheus metrics on this address while sampling.",
				Flag:        "metrics-address",
				Value:       serpent.StringOf(&metricsAddr),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			logger := r.Logger(inv)

			if configPath != "" {
				yamlData, err := os.ReadFile(configPath)
				if err != nil {
					return fmt.Errorf("read config: %w", err)
				}
				if err := yaml.Unmarshal(yamlData, &opts); err != nil {
					return fmt.Errorf("unmarshal config: %w", err)
				}
			}

			sess, err := trace.New(opts, replay.New(), logger.With().Str("service", "capture").Logger())
			if err != nil {
				return fmt.Errorf("new session: %w", err)
			}

			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				if err := reg.Register(sess); err != nil {
					return fmt.Errorf("register session metrics: %w", err)
				}
				srv := &http.Server{
					Addr: metricsAddr,
					Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{
						Registry: reg,
					}),
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error().Err(err).Msg("metrics server failed")
					}
				}()
				defer srv.Close()
			}

			// An interrupt closes the window; captured data is still
			// emitted before exit.
			ctx, stop := signal.NotifyContext(inv.Context(), os.Interrupt)
			defer stop()

			return sess.Run(ctx)
		},
	}
}
