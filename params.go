package main

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/launchdarkly/test-collector/framework"

	"github.com/alessio/shellescape"
	"github.com/urfave/cli/v2"
)

const (
	defaultPort        = 8111
	statusQueryTimeout = time.Second * 10
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a YAML configuration file",
	}
	serviceURLFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "test service URL, for remote suites that the test service runs",
	}
	hostFlag = &cli.StringFlag{
		Name:  "host",
		Value: "localhost",
		Usage: "external hostname of the test harness",
	}
	portFlag = &cli.IntFlag{
		Name:  "port",
		Value: defaultPort,
		Usage: "port that the test harness will listen on for test service callbacks",
	}
	remoteFlag = &cli.StringSliceFlag{
		Name:  "remote",
		Usage: "remote context to aggregate, as [kind:]name=ws://url (kind is worker, sharedworker, serviceworker or window)",
	}
	serviceSuiteFlag = &cli.StringSliceFlag{
		Name:  "service-suite",
		Usage: "name of a suite for the test service to run and report back",
	}
	runFlag = &cli.StringSliceFlag{
		Name:  "run",
		Usage: "regex pattern(s) to select tests to run",
	}
	skipFlag = &cli.StringSliceFlag{
		Name:  "skip",
		Usage: "regex pattern(s) to select tests not to run",
	}
	harnessTimeoutFlag = &cli.StringFlag{
		Name:  "harness-timeout",
		Usage: `suite deadline: "normal", "long", a duration, or milliseconds`,
	}
	exportAddrFlag = &cli.StringFlag{
		Name:  "export-addr",
		Usage: "address to serve the aggregated events on, as a websocket endpoint",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address to serve Prometheus metrics on",
	}
	lingerFlag = &cli.DurationFlag{
		Name:  "linger",
		Usage: "how long to keep the export endpoint open after the run completes",
	}
	stopServiceFlag = &cli.BoolFlag{
		Name:  "stop-service-at-end",
		Usage: "tell test service to exit after the test run",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug logging for failed runs",
	}
	debugAllFlag = &cli.BoolFlag{
		Name:  "debug-all",
		Usage: "enable debug logging for everything",
	}
)

var allFlags = []cli.Flag{
	configFlag,
	serviceURLFlag,
	hostFlag,
	portFlag,
	remoteFlag,
	serviceSuiteFlag,
	runFlag,
	skipFlag,
	harnessTimeoutFlag,
	exportAddrFlag,
	metricsAddrFlag,
	lingerFlag,
	stopServiceFlag,
	debugFlag,
	debugAllFlag,
}

type commandParams struct {
	config           collectorConfig
	configFile       string
	serviceURL       string
	host             string
	port             int
	filters          framework.RegexFilters
	remoteArgs       []string
	serviceSuites    []string
	harnessTimeout   time.Duration
	exportAddr       string
	metricsAddr      string
	linger           time.Duration
	stopServiceAtEnd bool
	debug            bool
	debugAll         bool
}

// readParams combines the configuration file, if any, with the command line.
func readParams(c *cli.Context) (commandParams, error) {
	p := commandParams{
		configFile:       c.String(configFlag.Name),
		host:             c.String(hostFlag.Name),
		port:             c.Int(portFlag.Name),
		linger:           c.Duration(lingerFlag.Name),
		stopServiceAtEnd: c.Bool(stopServiceFlag.Name),
		debug:            c.Bool(debugFlag.Name),
		debugAll:         c.Bool(debugAllFlag.Name),
	}
	if p.configFile != "" {
		config, err := loadConfig(p.configFile)
		if err != nil {
			return p, err
		}
		p.config = config
	}

	p.serviceURL = firstNonEmpty(c.String(serviceURLFlag.Name), p.config.ServiceURL)
	p.exportAddr = firstNonEmpty(c.String(exportAddrFlag.Name), p.config.ExportAddr)
	p.metricsAddr = firstNonEmpty(c.String(metricsAddrFlag.Name), p.config.MetricsAddr)

	p.harnessTimeout = p.config.HarnessTimeout.orDefault()
	if s := c.String(harnessTimeoutFlag.Name); s != "" {
		d, err := parseHarnessTimeout(s)
		if err != nil {
			return p, err
		}
		p.harnessTimeout = d
	}

	for _, pattern := range c.StringSlice(runFlag.Name) {
		if err := p.filters.MustMatch.Set(pattern); err != nil {
			return p, err
		}
	}
	for _, pattern := range c.StringSlice(skipFlag.Name) {
		if err := p.filters.MustNotMatch.Set(pattern); err != nil {
			return p, err
		}
	}

	p.remoteArgs = c.StringSlice(remoteFlag.Name)
	p.serviceSuites = c.StringSlice(serviceSuiteFlag.Name)
	for _, s := range p.remoteArgs {
		r, err := parseRemoteFlag(s)
		if err != nil {
			return p, err
		}
		p.config.Remotes = append(p.config.Remotes, r)
	}
	for _, name := range p.serviceSuites {
		p.config.Remotes = append(p.config.Remotes, remoteConfig{Name: name, Service: true})
	}

	if len(p.config.Remotes) == 0 {
		return p, fmt.Errorf("no remote contexts were specified; use --%s, --%s or --%s",
			remoteFlag.Name, serviceSuiteFlag.Name, configFlag.Name)
	}
	if p.usesTestService() && p.serviceURL == "" {
		return p, fmt.Errorf("--%s is required when a remote suite is run by the test service", serviceURLFlag.Name)
	}
	return p, nil
}

func (p commandParams) usesTestService() bool {
	for _, r := range p.config.Remotes {
		if r.Service {
			return true
		}
	}
	return false
}

// parseRemoteFlag parses "[kind:]name=url".
func parseRemoteFlag(s string) (remoteConfig, error) {
	name, url, ok := strings.Cut(s, "=")
	if !ok || url == "" {
		return remoteConfig{}, fmt.Errorf("invalid remote %q: expected [kind:]name=url", s)
	}
	r := remoteConfig{Name: name, URL: url}
	if kind, rest, found := strings.Cut(name, ":"); found {
		r.Kind, r.Name = kind, rest
	}
	if err := r.validate(); err != nil {
		return remoteConfig{}, fmt.Errorf("invalid remote %q: %w", s, err)
	}
	return r, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// rerunCommand returns a command line that runs only the given local tests again, with the same
// remote contexts available.
func rerunCommand(p commandParams, testNames []string) string {
	var cmd commandBuilder
	cmd.add("test-collector")
	if p.configFile != "" {
		cmd.add("--"+configFlag.Name, p.configFile)
	}
	if p.serviceURL != "" && p.serviceURL != p.config.ServiceURL {
		cmd.add("--"+serviceURLFlag.Name, p.serviceURL)
	}
	for _, r := range p.remoteArgs {
		cmd.add("--"+remoteFlag.Name, r)
	}
	for _, name := range p.serviceSuites {
		cmd.add("--"+serviceSuiteFlag.Name, name)
	}
	for _, name := range testNames {
		cmd.add("--"+runFlag.Name, "^"+regexp.QuoteMeta(name)+"$")
	}
	return cmd.String()
}

type commandBuilder []string

func (b *commandBuilder) add(args ...string) {
	for _, a := range args {
		*b = append(*b, shellescape.Quote(a))
	}
}

func (b commandBuilder) String() string {
	return strings.Join(b, " ")
}
