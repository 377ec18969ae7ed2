// Package trace drives a timed sampling window over an instruction-trace
// byte stream and turns the captured data into call-graph and profile
// outputs.
package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/via/orbuculum/trace/callgrind"
	"github.com/via/orbuculum/trace/calltree"
	"github.com/via/orbuculum/trace/decoder"
	"github.com/via/orbuculum/trace/dot"
	"github.com/via/orbuculum/trace/pprofout"
	"github.com/via/orbuculum/trace/recorder"
	"github.com/via/orbuculum/trace/source"
	"github.com/via/orbuculum/trace/symbols"
)

const (
	// tickInterval bounds how long a blocked read can delay the
	// duration check.
	tickInterval = 10 * time.Millisecond

	transferSize   = 64 * 1024
	initialBackoff = time.Second
	maxBackoff     = 10 * time.Second
)

// Options configures one profiling session. YAML tags match the capture
// command's config file.
type Options struct {
	// Source is the trace byte stream: tcp://host:port, ws://... or a
	// capture file path.
	Source string `yaml:"source"`

	// ElfFile is the target binary used for symbol resolution.
	ElfFile string `yaml:"elf"`

	// StripPrefix is removed from the front of resolved file names.
	StripPrefix string `yaml:"strip_prefix"`

	// Demangle enables C++ symbol demangling.
	Demangle bool `yaml:"demangle"`

	// SampleDuration is how long to sample, measured from the first byte
	// received.
	SampleDuration time.Duration `yaml:"sample_duration"`

	// Output destinations. An empty path disables that emitter.
	DotFile     string `yaml:"dot"`
	ProfileFile string `yaml:"profile"`
	PprofFile   string `yaml:"pprof"`

	// FileTerminate ends the window at EOF for file sources instead of
	// waiting for further input.
	FileTerminate bool `yaml:"file_terminate"`

	// Resolver overrides the ELF-backed resolver. Used by tests.
	Resolver symbols.Resolver `yaml:"-"`
}

var _ prometheus.Collector = (*Session)(nil)

// Session owns the edge log and subcalls table for the duration of one
// sampling window. Single-threaded by construction: the decoder callback
// runs on the pump goroutine, and the log is handed whole to the
// reconstructor only after the window closes.
type Session struct {
	opts   Options
	logger zerolog.Logger
	dec    decoder.Decoder
	cache  *symbols.Cache
	rec    *recorder.Recorder

	sampling    bool
	windowEnd   time.Time
	windowBytes uint64

	bytesTotal      prometheus.Counter
	edgesRecorded   prometheus.Gauge
	reconnectsTotal prometheus.Counter
}

// New validates the configuration and loads symbols for the target
// binary. Configuration errors are fatal here, before any I/O starts.
func New(opts Options, dec decoder.Decoder, logger zerolog.Logger) (*Session, error) {
	if opts.Source == "" {
		return nil, fmt.Errorf("no trace source configured")
	}
	if opts.SampleDuration <= 0 {
		return nil, fmt.Errorf("sample duration must be positive, got %s", opts.SampleDuration)
	}
	if dec == nil {
		return nil, fmt.Errorf("no trace decoder configured")
	}

	res := opts.Resolver
	if res == nil {
		if opts.ElfFile == "" {
			return nil, fmt.Errorf("no target binary configured for symbol resolution")
		}
		var err error
		res, err = symbols.OpenELF(opts.ElfFile, opts.StripPrefix, opts.Demangle)
		if err != nil {
			return nil, fmt.Errorf("load symbols: %w", err)
		}
	}

	cache := symbols.NewCache(res)
	return &Session{
		opts:   opts,
		logger: logger,
		dec:    dec,
		cache:  cache,
		rec:    recorder.New(cache),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orbprofile",
			Name:      "trace_bytes_received_total",
			Help:      "Raw trace bytes pumped through the decoder.",
		}),
		edgesRecorded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orbprofile",
			Name:      "edges_recorded",
			Help:      "Function-transition edges captured in the last window.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orbprofile",
			Name:      "source_reconnects_total",
			Help:      "Times the trace source was re-dialed.",
		}),
	}, nil
}

func (s *Session) Describe(descs chan<- *prometheus.Desc) {
	s.bytesTotal.Describe(descs)
	s.edgesRecorded.Describe(descs)
	s.reconnectsTotal.Describe(descs)
}

func (s *Session) Collect(metrics chan<- prometheus.Metric) {
	s.bytesTotal.Collect(metrics)
	s.edgesRecorded.Collect(metrics)
	s.reconnectsTotal.Collect(metrics)
}

// Run executes one sampling window and emits the configured outputs when
// it closes. The window closes on sample-duration expiry (measured from
// the first byte), end-of-stream for terminating sources, or context
// cancellation; whatever the cause, already-pumped data is kept and
// emission happens exactly once. Network sources are re-dialed with
// capped backoff, both before and during the window.
func (s *Session) Run(ctx context.Context) error {
	s.rec.Reset()
	s.sampling = false
	s.windowBytes = 0

	network := source.IsNetwork(s.opts.Source)
	backoff := initialBackoff

	for {
		stream, err := source.Open(ctx, s.opts.Source)
		if err != nil {
			if !network {
				return err
			}
			if ctx.Err() != nil {
				break
			}
			s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("connect failed, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		complete, err := s.pump(ctx, stream)
		_ = stream.Close()

		if complete {
			break
		}
		if err == nil {
			// End of stream.
			if !network {
				break
			}
			s.reconnectsTotal.Inc()
			s.logger.Warn().Msg("trace stream closed, reconnecting")
			continue
		}
		if !network {
			return err
		}
		s.reconnectsTotal.Inc()
		s.logger.Warn().Err(err).Msg("trace stream failed, reconnecting")
	}

	return s.finish()
}

// pump reads the stream until the window completes, returning true when
// it has (duration expiry or cancellation) and false on end-of-stream or
// transport error. Short read deadlines act as the tick that re-checks
// elapsed time while the stream is quiet.
func (s *Session) pump(ctx context.Context, stream io.Reader) (bool, error) {
	type deadliner interface {
		SetReadDeadline(t time.Time) error
	}
	dl, hasDeadline := stream.(deadliner)

	buf := make([]byte, transferSize)
	for {
		if ctx.Err() != nil {
			return true, nil
		}
		if hasDeadline {
			_ = dl.SetReadDeadline(time.Now().Add(tickInterval))
		}

		n, err := stream.Read(buf)
		if n > 0 {
			if !s.sampling {
				s.sampling = true
				s.windowEnd = time.Now().Add(s.opts.SampleDuration)
				s.logger.Info().Dur("duration", s.opts.SampleDuration).Msg("sampling")
			}
			s.windowBytes += uint64(n)
			s.bytesTotal.Add(float64(n))
			s.dec.Pump(buf[:n], s.rec.OnEvent)
		}

		if s.sampling && time.Now().After(s.windowEnd) {
			return true, nil
		}

		if err == nil {
			continue
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			continue
		}
		if errors.Is(err, io.EOF) {
			if source.IsNetwork(s.opts.Source) || s.opts.FileTerminate {
				return false, nil
			}
			// Tail the file: wait for further input.
			select {
			case <-ctx.Done():
				return true, nil
			case <-time.After(tickInterval):
			}
			continue
		}
		return false, fmt.Errorf("read trace stream: %w", err)
	}
}

// finish emits every configured output exactly once. An empty edge log
// skips emission entirely; a failing emitter does not stop the others.
func (s *Session) finish() error {
	edges := s.rec.Edges()
	s.edgesRecorded.Set(float64(len(edges)))

	if len(edges) == 0 {
		s.logger.Info().Msg("no function transitions captured, skipping output")
		return nil
	}

	s.logger.Info().
		Uint64("raw_bytes", s.windowBytes).
		Int("edges", len(edges)).
		Int("symbols", s.cache.Len()).
		Msg("sampling window closed")

	var result *multierror.Error

	if s.opts.DotFile != "" {
		if err := writeFile(s.opts.DotFile, func(w io.Writer) error {
			return dot.Emit(w, edges)
		}); err != nil {
			result = multierror.Append(result, fmt.Errorf("dot output: %w", err))
		} else {
			s.logger.Info().Str("path", s.opts.DotFile).Msg("wrote call graph")
		}
	}

	if s.opts.ProfileFile != "" || s.opts.PprofFile != "" {
		// The subcalls table is rebuilt fresh for every window.
		subs, dropped := calltree.Reconstruct(edges)
		if dropped > 0 {
			s.logger.Info().Int("frames", dropped).Msg("dropped unmatched call frames at capture boundary")
		}
		summary := edges[len(edges)-1].Timestamp - edges[0].Timestamp

		if s.opts.ProfileFile != "" {
			if err := writeFile(s.opts.ProfileFile, func(w io.Writer) error {
				return callgrind.Emit(w, subs, s.cache, s.opts.ElfFile, summary)
			}); err != nil {
				result = multierror.Append(result, fmt.Errorf("profile output: %w", err))
			} else {
				s.logger.Info().Str("path", s.opts.ProfileFile).Int("subcalls", len(subs)).Msg("wrote profile")
			}
		}

		if s.opts.PprofFile != "" {
			if err := writeFile(s.opts.PprofFile, func(w io.Writer) error {
				conv := pprofout.New(s.cache, s.opts.ElfFile, summary)
				conv.Convert(subs)
				return conv.Write(w)
			}); err != nil {
				result = multierror.Append(result, fmt.Errorf("pprof output: %w", err))
			} else {
				s.logger.Info().Str("path", s.opts.PprofFile).Msg("wrote pprof profile")
			}
		}
	}

	return result.ErrorOrNil()
}

// Edges exposes the captured edge log, valid until the next Run.
func (s *Session) Edges() []recorder.Edge {
	return s.rec.Edges()
}

func writeFile(path string, emit func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = emit(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
