package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/launchdarkly/test-collector/framework/ldtest"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
	"gopkg.in/yaml.v3"
)

// collectorConfig is the optional YAML configuration file. Command-line flags take precedence
// over the values it sets.
type collectorConfig struct {
	HarnessTimeout harnessTimeout         `yaml:"harness_timeout"`
	TestTimeoutMS  *int                   `yaml:"test_timeout_ms"`
	Properties     map[string]interface{} `yaml:"properties"`
	ServiceURL     string                 `yaml:"service_url"`
	Remotes        []remoteConfig         `yaml:"remotes"`
	ExportAddr     string                 `yaml:"export_addr"`
	MetricsAddr    string                 `yaml:"metrics_addr"`
}

// remoteConfig describes one remote context to aggregate. A remote either has a websocket URL
// or, if Service is set, is a suite that the test service runs for us.
type remoteConfig struct {
	Name       string                 `yaml:"name"`
	Kind       string                 `yaml:"kind"`
	URL        string                 `yaml:"url"`
	Service    bool                   `yaml:"service"`
	Properties map[string]interface{} `yaml:"properties"`
	TimeoutMS  *int                   `yaml:"timeout_ms"`
}

// harnessTimeout is the suite deadline. In YAML it is "normal", "long", a Go duration string,
// or a number of milliseconds.
type harnessTimeout struct {
	duration time.Duration
	set      bool
}

func (h *harnessTimeout) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	d, err := parseHarnessTimeout(s)
	if err != nil {
		return err
	}
	h.duration, h.set = d, true
	return nil
}

func (h harnessTimeout) orDefault() time.Duration {
	if h.set {
		return h.duration
	}
	return ldtest.DefaultHarnessTimeout
}

func parseHarnessTimeout(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ldtest.DefaultHarnessTimeout, nil
	case "long":
		return ldtest.LongHarnessTimeout, nil
	}
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid harness timeout %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid harness timeout %q", s)
	}
	return d, nil
}

func loadConfig(path string) (collectorConfig, error) {
	var config collectorConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("could not read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return config, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	for i, r := range config.Remotes {
		if err := r.validate(); err != nil {
			return config, fmt.Errorf("invalid config file %s: remote %d: %w", path, i+1, err)
		}
	}
	return config, nil
}

func (r remoteConfig) validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if _, err := r.channelKind(); err != nil {
		return err
	}
	if r.Service == (r.URL != "") {
		return fmt.Errorf("remote %q must have either a url or service: true", r.Name)
	}
	return nil
}

func (r remoteConfig) channelKind() (ldtest.RemoteChannelKind, error) {
	if r.Kind == "" {
		return ldtest.RemoteWorker, nil
	}
	return ldtest.ParseRemoteChannelKind(r.Kind)
}

func (r remoteConfig) properties() ldvalue.Value {
	return propertiesValue(r.Properties)
}

// propertiesValue converts a property map decoded from YAML into an ldvalue object.
func propertiesValue(m map[string]interface{}) ldvalue.Value {
	if m == nil {
		return ldvalue.ObjectBuild().Build()
	}
	return ldvalue.CopyArbitraryValue(m)
}

func optionalMillis(ms *int) ldvalue.OptionalInt {
	if ms == nil {
		return ldvalue.OptionalInt{}
	}
	return ldvalue.NewOptionalInt(*ms)
}
