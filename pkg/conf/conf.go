// Package conf contains the YAML configuration of a client.
package conf

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bluenviron/rtspengine"
	"github.com/bluenviron/rtspengine/pkg/base"
	"github.com/bluenviron/rtspengine/pkg/liberrors"
	"github.com/bluenviron/rtspengine/pkg/retry"
	"github.com/bluenviron/rtspengine/pkg/security"
)

// Transport is a transport candidate.
type Transport struct {
	Protocol  rtspengine.TransportProtocol `yaml:"protocol"`
	Secure    bool                         `yaml:"secure"`
	Address   string                       `yaml:"address"`
	PortRange [2]int                       `yaml:"port_range"`
	Priority  int                          `yaml:"priority"`
}

// Retry is the retry policy.
type Retry struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// TLS is the configuration of the control channel.
type TLS struct {
	VerifyMode security.TLSVerifyMode `yaml:"verify_mode"`
	Force      bool                   `yaml:"force"`
	// path of a PEM file with additional root certificates.
	CAFile string `yaml:"ca_file"`
}

// Clock is the configuration of the clock engine.
type Clock struct {
	BufferMode             rtspengine.BufferMode    `yaml:"buffer_mode"`
	NTPTimeSource          rtspengine.NTPTimeSource `yaml:"ntp_time_source"`
	DiscontinuityThreshold time.Duration            `yaml:"discontinuity_threshold"`
	LowWatermark           int                      `yaml:"low_watermark"`
	HighWatermark          int                      `yaml:"high_watermark"`
}

// Log is the logging configuration.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the configuration of a client.
type Config struct {
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`

	Transports         []Transport   `yaml:"transports"`
	MaxInFlight        int           `yaml:"max_in_flight"`
	AttemptTimeout     time.Duration `yaml:"attempt_timeout"`
	RaceTimeout        time.Duration `yaml:"race_timeout"`
	Retry              Retry         `yaml:"retry"`
	AnyPortEnable      bool          `yaml:"any_port_enable"`
	MulticastInterface string        `yaml:"multicast_interface"`
	UDPReadBufferSize  int           `yaml:"udp_read_buffer_size"`

	TLS   TLS   `yaml:"tls"`
	Clock Clock `yaml:"clock"`

	ReadTimeout           time.Duration `yaml:"read_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	InitialUDPReadTimeout time.Duration `yaml:"initial_udp_read_timeout"`
	TeardownTimeout       time.Duration `yaml:"teardown_timeout"`
	ReceiverReportPeriod  time.Duration `yaml:"receiver_report_period"`
	SenderReportPeriod    time.Duration `yaml:"sender_report_period"`

	UserAgent           string `yaml:"user_agent"`
	RedirectDisable     bool   `yaml:"redirect_disable"`
	RequestBackChannels bool   `yaml:"request_back_channels"`
	MaxDecodeErrors     int    `yaml:"max_decode_errors"`
	RTCPQueueSize       int    `yaml:"rtcp_queue_size"`
	EventQueueSize      int    `yaml:"event_queue_size"`

	Log Log `yaml:"log"`
}

// Default returns a configuration filled with default values.
func Default() *Config {
	return &Config{
		Clock: Clock{
			BufferMode: rtspengine.BufferModeAuto,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration from a file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(f)
}

// Read reads a configuration from a YAML stream.
// Unknown keys are rejected.
func Read(r io.Reader) (*Config, error) {
	conf := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err := dec.Decode(conf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	err = conf.Validate()
	if err != nil {
		return nil, err
	}

	return conf, nil
}

// Parse reads a configuration from a YAML document.
func Parse(byts []byte) (*Config, error) {
	return Read(bytes.NewReader(byts))
}

// Validate checks the configuration.
func (conf *Config) Validate() error {
	if conf.URL == "" {
		return liberrors.ErrConfiguration{Field: "url", Err: fmt.Errorf("value is missing")}
	}

	_, err := base.ParseURL(conf.URL)
	if err != nil {
		return liberrors.ErrConfiguration{Field: "url", Err: err}
	}

	for i, t := range conf.Transports {
		if t.PortRange != [2]int{} && (t.PortRange[0] <= 0 || t.PortRange[1] > 65535 ||
			t.PortRange[1] <= t.PortRange[0]) {
			return liberrors.ErrConfiguration{
				Field: fmt.Sprintf("transports[%d].port_range", i),
				Err:   fmt.Errorf("invalid range %v", t.PortRange),
			}
		}
	}

	if conf.Retry.MaxAttempts < 0 {
		return liberrors.ErrConfiguration{Field: "retry.max_attempts", Err: fmt.Errorf("value is negative")}
	}

	if conf.Retry.JitterFraction < 0 || conf.Retry.JitterFraction > 1 {
		return liberrors.ErrConfiguration{
			Field: "retry.jitter_fraction",
			Err:   fmt.Errorf("value must be between 0 and 1"),
		}
	}

	if conf.Clock.LowWatermark != 0 && conf.Clock.HighWatermark != 0 &&
		conf.Clock.LowWatermark > conf.Clock.HighWatermark {
		return liberrors.ErrConfiguration{
			Field: "clock.low_watermark",
			Err:   fmt.Errorf("value is greater than high_watermark"),
		}
	}

	if conf.RTCPQueueSize != 0 && (conf.RTCPQueueSize&(conf.RTCPQueueSize-1)) != 0 {
		return liberrors.ErrConfiguration{Field: "rtcp_queue_size", Err: fmt.Errorf("value must be a power of two")}
	}

	_, err = logrus.ParseLevel(conf.Log.Level)
	if err != nil {
		return liberrors.ErrConfiguration{Field: "log.level", Err: err}
	}

	switch conf.Log.Format {
	case "text", "json":
	default:
		return liberrors.ErrConfiguration{
			Field: "log.format",
			Err:   fmt.Errorf("invalid value '%s', expected 'text' or 'json'", conf.Log.Format),
		}
	}

	return nil
}

// Logger returns a logger configured as requested.
func (conf *Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(conf.Log.Level)
	if err != nil {
		return nil, liberrors.ErrConfiguration{Field: "log.level", Err: err}
	}

	l := logrus.New()
	l.SetLevel(level)

	if conf.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	return l, nil
}

func (conf *Config) tlsConfig() (*tls.Config, error) {
	if conf.TLS.CAFile == "" {
		return nil, nil
	}

	byts, err := os.ReadFile(conf.TLS.CAFile)
	if err != nil {
		return nil, liberrors.ErrConfiguration{Field: "tls.ca_file", Err: err}
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(byts) {
		return nil, liberrors.ErrConfiguration{
			Field: "tls.ca_file",
			Err:   fmt.Errorf("no certificates found"),
		}
	}

	return &tls.Config{RootCAs: pool}, nil
}

// Client returns a client that uses the configuration.
// The client still has to be started with the configured URL.
func (conf *Config) Client(logger logrus.FieldLogger) (*rtspengine.Client, error) {
	tlsConfig, err := conf.tlsConfig()
	if err != nil {
		return nil, err
	}

	var multicastInterface *net.Interface
	if conf.MulticastInterface != "" {
		multicastInterface, err = net.InterfaceByName(conf.MulticastInterface)
		if err != nil {
			return nil, liberrors.ErrConfiguration{Field: "multicast_interface", Err: err}
		}
	}

	var transports []rtspengine.TransportCandidate
	for _, t := range conf.Transports {
		transports = append(transports, rtspengine.TransportCandidate{
			Protocol:  t.Protocol,
			Secure:    t.Secure,
			Address:   t.Address,
			PortRange: t.PortRange,
			Priority:  t.Priority,
		})
	}

	bufferMode := conf.Clock.BufferMode

	return &rtspengine.Client{
		User:           conf.User,
		Pass:           conf.Pass,
		Transports:     transports,
		MaxInFlight:    conf.MaxInFlight,
		AttemptTimeout: conf.AttemptTimeout,
		RaceTimeout:    conf.RaceTimeout,
		Retry: retry.Policy{
			MaxAttempts:    conf.Retry.MaxAttempts,
			BaseDelay:      conf.Retry.BaseDelay,
			MaxDelay:       conf.Retry.MaxDelay,
			Multiplier:     conf.Retry.Multiplier,
			JitterFraction: conf.Retry.JitterFraction,
			AttemptTimeout: conf.Retry.AttemptTimeout,
		},
		AnyPortEnable:          conf.AnyPortEnable,
		MulticastInterface:     multicastInterface,
		UDPReadBufferSize:      conf.UDPReadBufferSize,
		TLSConfig:              tlsConfig,
		TLSVerifyMode:          conf.TLS.VerifyMode,
		ForceTLS:               conf.TLS.Force,
		BufferMode:             &bufferMode,
		NTPTimeSource:          conf.Clock.NTPTimeSource,
		DiscontinuityThreshold: conf.Clock.DiscontinuityThreshold,
		LowWatermark:           conf.Clock.LowWatermark,
		HighWatermark:          conf.Clock.HighWatermark,
		ReadTimeout:            conf.ReadTimeout,
		WriteTimeout:           conf.WriteTimeout,
		InitialUDPReadTimeout:  conf.InitialUDPReadTimeout,
		TeardownTimeout:        conf.TeardownTimeout,
		ReceiverReportPeriod:   conf.ReceiverReportPeriod,
		SenderReportPeriod:     conf.SenderReportPeriod,
		UserAgent:              conf.UserAgent,
		RedirectDisable:        conf.RedirectDisable,
		RequestBackChannels:    conf.RequestBackChannels,
		MaxDecodeErrors:        conf.MaxDecodeErrors,
		RTCPQueueSize:          conf.RTCPQueueSize,
		EventQueueSize:         conf.EventQueueSize,
		Logger:                 logger,
	}, nil
}
