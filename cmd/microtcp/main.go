package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/irctrakz/microtcp/pkg/config"
	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/logging"
	"github.com/irctrakz/microtcp/pkg/socket"
	"github.com/irctrakz/microtcp/pkg/stream"
	"github.com/sirupsen/logrus"
)

type options struct {
	mode          string
	configPath    string
	listenAddr    string
	peerAddr      string
	input         string
	output        string
	capture       string
	debug         bool
	metricsEvery  time.Duration
	metricsFormat string
	chunkSize     int
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("microtcp", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "configuration file (.yaml, .yml or .json)")
	fs.StringVar(&o.listenAddr, "listen", "", "local UDP address (overrides config)")
	fs.StringVar(&o.peerAddr, "peer", "", "peer UDP address for connect mode (overrides config)")
	fs.StringVar(&o.input, "in", "-", "file to send in connect mode, - for stdin")
	fs.StringVar(&o.output, "out", "-", "file to write in listen mode, - for stdout")
	fs.StringVar(&o.capture, "pcap", "", "write every datagram to this pcap file")
	fs.BoolVar(&o.debug, "debug", false, "verbose logging and datagram copy mode")
	fs.DurationVar(&o.metricsEvery, "metrics-interval", 0, "periodic stats report interval, 0 disables")
	fs.StringVar(&o.metricsFormat, "metrics-format", "text", "stats report format: text or json")
	fs.IntVar(&o.chunkSize, "chunk", 32*1024, "bytes per Send/Recv call")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: microtcp [flags] listen|connect\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected exactly one mode argument")
	}
	o.mode = fs.Arg(0)
	switch o.mode {
	case "listen", "connect":
	default:
		return nil, fmt.Errorf("unknown mode %q", o.mode)
	}
	// METRICS_INTERVAL / METRICS_FORMAT apply when the flags are not given
	if o.metricsEvery == 0 {
		if iv := strings.TrimSpace(os.Getenv("METRICS_INTERVAL")); iv != "" {
			d, err := time.ParseDuration(iv)
			if err != nil {
				return nil, fmt.Errorf("METRICS_INTERVAL: %w", err)
			}
			o.metricsEvery = d
		}
	}
	if f := strings.TrimSpace(os.Getenv("METRICS_FORMAT")); f != "" && !flagSet(fs, "metrics-format") {
		o.metricsFormat = f
	}
	if o.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	return o, nil
}

func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// loadConfig layers defaults, the config file, MICROTCP_* variables and flags.
func loadConfig(o *options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		if err := config.LoadFromFile(o.configPath, cfg); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if o.listenAddr != "" {
		cfg.Transport.ListenAddr = o.listenAddr
	}
	if o.peerAddr != "" {
		cfg.Transport.PeerAddr = o.peerAddr
	}
	if o.capture != "" {
		cfg.Transport.CaptureFile = o.capture
	}
	if o.debug {
		cfg.Transport.Debug = true
		cfg.Logging.Level = "debug"
	}
	if o.mode == "connect" && cfg.Transport.PeerAddr == "" {
		return nil, fmt.Errorf("connect mode needs a peer address")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("microtcp: %v", err)
	}
	cfg, err := loadConfig(o)
	if err != nil {
		log.Fatalf("microtcp: %v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.Fatalf("logging: %v", err)
	}
	core.SetDebugMode(cfg.Transport.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, cfg); err != nil {
		logging.ErrorWithFields(logrus.Fields{"mode": o.mode}, "failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func openTransport(cfg *config.Config) (core.MeteredTransport, error) {
	udp, err := socket.ListenUDP(cfg.Transport)
	if err != nil {
		return nil, err
	}
	if cfg.Transport.CaptureFile == "" {
		return udp, nil
	}
	ct, err := socket.OpenCapture(udp, cfg.Transport.CaptureFile)
	if err != nil {
		udp.Close()
		return nil, err
	}
	return ct, nil
}

func run(ctx context.Context, o *options, cfg *config.Config) error {
	tr, err := openTransport(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	var conn *stream.Conn
	if o.mode == "listen" {
		logging.Infof("waiting for a connection on %s", tr.LocalAddr())
		conn, err = stream.Accept(ctx, tr, cfg.Engine)
	} else {
		peer, rerr := net.ResolveUDPAddr("udp", cfg.Transport.PeerAddr)
		if rerr != nil {
			return fmt.Errorf("resolve peer: %w", rerr)
		}
		conn, err = stream.Connect(ctx, tr, peer, cfg.Engine)
	}
	if err != nil {
		return err
	}
	logging.InfoWithFields(logrus.Fields{
		"local": conn.LocalAddr(),
		"peer":  conn.RemoteAddr(),
		"role":  conn.Role(),
	}, "connection established")

	if o.metricsEvery > 0 {
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go runMetricsReporter(rctx, conn, tr, o.metricsEvery, strings.ToLower(o.metricsFormat))
	}

	if o.mode == "listen" {
		err = receiveTo(ctx, conn, o.output, o.chunkSize)
	} else {
		err = sendFrom(ctx, conn, o.input, o.chunkSize)
	}
	if err != nil {
		return err
	}
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	dumpMetrics(conn, tr, strings.ToLower(o.metricsFormat))
	return nil
}

// sendFrom streams the input file (or stdin) into conn.
func sendFrom(ctx context.Context, conn *stream.Conn, path string, chunk int) error {
	in := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	buf := make([]byte, chunk)
	total := 0
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			sent, err := conn.Send(ctx, buf[:n])
			total += sent
			if err != nil {
				return fmt.Errorf("send after %d bytes: %w", total, err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read input: %w", rerr)
		}
	}
	logging.Infof("sent %d bytes", total)
	return nil
}

// receiveTo writes everything received on conn to the output file (or
// stdout) until the peer closes.
func receiveTo(ctx context.Context, conn *stream.Conn, path string, chunk int) error {
	out := io.Writer(os.Stdout)
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	total := 0
	for {
		b, err := conn.Recv(ctx, chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("recv after %d bytes: %w", total, err)
		}
		if _, err := out.Write(b); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		total += len(b)
	}
	logging.Infof("received %d bytes", total)
	return nil
}
