// Package config parses the command line shared by the benchmark binaries.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/requester"
	"github.com/ssd532/psbench/session"
)

type Args struct {
	Transport string
	Locator   string
	Mode      string
	Lease     time.Duration
	QoS       bool
	Conf      string

	// Workload
	Payload  int
	Interval float64 // seconds between probes
	Parallel bool
	Count    uint64 // 0 = run until interrupted
	Rate     float64
	Print    bool

	// Labels
	Scenario string
	Name     string

	// Outputs
	HistogramOut      string
	MetricsAddr       string
	CassandraHosts    []string
	CassandraKeyspace string

	// Capture analysis
	Pcap string
	Port uint16

	// Logging
	LogLevel string
	LogFile  string

	// Properties are loaded from Conf.
	Properties requester.Properties
}

// Parse parses argv (without the program name) into Args. payload is the
// default payload size of the calling binary.
func Parse(program string, argv []string, payload int) (Args, error) {
	var args Args
	fs := flag.NewFlagSet(program, flag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&args.Transport, "transport", "session", "Transport: session, loopback, nats, jetstream, stan, kafka, amqp, redis, nsq, liftbridge, rmqstream, mqtt")
	fs.StringVarP(&args.Locator, "locator", "l", "", "Endpoint of the system under test (default depends on the transport)")
	fs.StringVarP(&args.Locator, "peer", "e", "", "Alias of --locator")
	fs.StringVarP(&args.Mode, "mode", "m", "peer", "Session mode: peer, client or router")
	fs.DurationVar(&args.Lease, "lease", 10*time.Second, "Session lease announced during the handshake")
	fs.BoolVar(&args.QoS, "qos", false, "Request QoS during the session handshake")
	fs.StringVar(&args.Conf, "conf", "", "YAML file of transport properties")

	fs.IntVarP(&args.Payload, "payload", "p", payload, "Payload size in bytes, envelope included")
	fs.Float64VarP(&args.Interval, "interval", "i", 1, "Seconds between probes")
	fs.BoolVar(&args.Parallel, "parallel", false, "Pipeline probes instead of waiting for each reply")
	fs.Uint64VarP(&args.Count, "count", "c", 0, "Stop after this many messages (0 = forever)")
	fs.Float64Var(&args.Rate, "rate", 0, "Publisher messages per second (0 = unlimited)")
	fs.BoolVarP(&args.Print, "print", "t", false, "Print periodic rate reports")

	fs.StringVarP(&args.Scenario, "scenario", "s", "default", "Scenario label of the result lines")
	fs.StringVarP(&args.Name, "name", "n", program, "Name label of the result lines")

	fs.StringVar(&args.HistogramOut, "histogram-out", "", "Write the latency distribution to this file")
	fs.StringVar(&args.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringSliceVar(&args.CassandraHosts, "cassandra-hosts", nil, "Archive result lines to these Cassandra hosts")
	fs.StringVar(&args.CassandraKeyspace, "cassandra-keyspace", "psbench", "Cassandra keyspace of the result archive")

	fs.StringVar(&args.Pcap, "pcap", "", "Capture file to analyze")
	fs.Uint16Var(&args.Port, "port", 7447, "Session port in the capture")

	fs.StringVar(&args.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&args.LogFile, "log-file", "", "Also write logs to this file, rotated")

	if err := fs.Parse(argv); err != nil {
		return args, err
	}

	if _, err := zapcore.ParseLevel(args.LogLevel); err != nil {
		return args, errors.Errorf("log level %q is not one of debug, info, warn, error", args.LogLevel)
	}
	if _, err := session.ParseWhatAmI(args.Mode); err != nil {
		return args, err
	}
	if _, ok := requester.DefaultLocators[args.Transport]; !ok {
		return args, errors.Wrapf(requester.ErrUnknownTransport, "%q", args.Transport)
	}

	switch {
	case args.Payload < bench.EnvelopeSize:
		return args, errors.Errorf("payload must be at least %d bytes", bench.EnvelopeSize)
	case args.Transport == "session" && args.Payload > maxSessionPayload():
		return args, errors.Errorf("payload must be at most %d bytes on the session transport", maxSessionPayload())
	case args.Interval < 0:
		return args, errors.New("interval must not be negative")
	case args.Rate < 0:
		return args, errors.New("rate must not be negative")
	case args.Lease <= 0:
		return args, errors.New("lease must be positive")
	case len(args.CassandraHosts) > 0 && args.CassandraKeyspace == "":
		return args, errors.New("--cassandra-keyspace is required with --cassandra-hosts")
	}

	props, err := LoadProperties(args.Conf)
	if err != nil {
		return args, err
	}
	args.Properties = props
	return args, nil
}

// maxSessionPayload is the largest payload every benchmark key can carry in
// a single session frame.
func maxSessionPayload() int {
	limit := session.MaxFrameSize
	for _, key := range []string{bench.PingKey, bench.PongKey, bench.QueryKey, bench.ReplyKey(bench.QueryKey), bench.ThrKey, bench.DelayKey} {
		if n := session.MaxPayload(key); n < limit {
			limit = n
		}
	}
	return limit
}

// IntervalDuration returns Interval as a duration.
func (a Args) IntervalDuration() time.Duration {
	return time.Duration(a.Interval * float64(time.Second))
}

// Labels returns the result line labels for a run.
func (a Args) Labels() bench.Labels {
	return bench.Labels{
		Transport: a.Transport,
		Scenario:  a.Scenario,
		Name:      a.Name,
		Payload:   a.Payload,
		Interval:  a.Interval,
	}
}

// RequesterOptions returns the options selecting the transport.
func (a Args) RequesterOptions() requester.Options {
	return requester.Options{
		Transport:  a.Transport,
		Locator:    a.Locator,
		Mode:       a.Mode,
		Lease:      a.Lease,
		QoS:        a.QoS,
		Properties: a.Properties,
	}
}

// LoadProperties reads a flat YAML map of transport properties. An empty
// path yields no properties.
func LoadProperties(path string) (requester.Properties, error) {
	props := requester.Properties{}
	if path == "" {
		return props, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read properties")
	}
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, errors.Wrapf(err, "parse properties %s", path)
	}
	return props, nil
}
