package config

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ClientConfig represents the top-level nodegraph.yml configuration
type ClientConfig struct {
	Version     string            `yaml:"version"`
	DefaultHost string            `yaml:"default_host,omitempty"`
	Timeout     time.Duration     `yaml:"timeout,omitempty"` // Per-request deadline, default 10s
	Retry       *RetryConfig      `yaml:"retry,omitempty"`
	Fallbacks   *FallbackConfig   `yaml:"fallbacks,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Routes      []Route           `yaml:"routes"`
	Records     *RecordsConfig    `yaml:"records,omitempty"`
	Logging     *LoggingConfig    `yaml:"logging,omitempty"`
}

// RetryConfig bounds write retries on connection failures
type RetryConfig struct {
	Limit    *int          `yaml:"limit,omitempty"` // Retries after the first attempt, default 5
	MinDelay time.Duration `yaml:"min_delay,omitempty"`
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`
}

// FallbackConfig lists the hosts a failed read is retried on, in order
type FallbackConfig struct {
	Read []string `yaml:"read"`
}

// Route maps a path pattern to its backend. Exactly one of Host, Hosts and
// HostTemplate is set. HostTemplate may reference pattern captures as $1..$9.
type Route struct {
	Pattern      string   `yaml:"pattern"`
	Host         string   `yaml:"host,omitempty"`
	Hosts        []string `yaml:"hosts,omitempty"`
	HostTemplate string   `yaml:"host_template,omitempty"`
	Ops          []string `yaml:"ops,omitempty"` // read, write; both when omitted
}

// RecordsConfig points the active_record layer at a Redis store
type RecordsConfig struct {
	RedisURL  string `yaml:"redis_url"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig selects the logrus level and output format
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // logrus level name, default warn
	Format string `yaml:"format,omitempty"` // "text" (default) or "json"
}

var captureRef = regexp.MustCompile(`\$([1-9])`)

// Validate performs strict validation on the configuration and applies defaults
func (c *ClientConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %s", c.Timeout)
	}
	if c.Timeout == 0 {
		c.Timeout = nodegraph.DefaultTimeout
	}

	if err := c.validateRetry(); err != nil {
		return err
	}

	if c.Fallbacks != nil {
		for i, host := range c.Fallbacks.Read {
			if host == "" {
				return fmt.Errorf("fallbacks.read[%d]: host cannot be empty", i)
			}
		}
	}

	for i := range c.Routes {
		if err := c.Routes[i].Validate(i); err != nil {
			return err
		}
	}

	if c.Records != nil {
		if c.Records.RedisURL == "" {
			return fmt.Errorf("records.redis_url is required")
		}
		if c.Records.Namespace == "" {
			return fmt.Errorf("records.namespace is required")
		}
	}

	if c.Logging != nil {
		if c.Logging.Level != "" {
			if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
				return fmt.Errorf("logging.level: %w", err)
			}
		}
		if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
			return fmt.Errorf("invalid logging.format: %s (must be 'text' or 'json')", c.Logging.Format)
		}
	}

	return nil
}

func (c *ClientConfig) validateRetry() error {
	defaults := nodegraph.DefaultRetryPolicy
	if c.Retry == nil {
		limit := defaults.Limit
		c.Retry = &RetryConfig{Limit: &limit, MinDelay: defaults.MinDelay, MaxDelay: defaults.MaxDelay}
		return nil
	}

	if c.Retry.Limit == nil {
		limit := defaults.Limit
		c.Retry.Limit = &limit
	}
	if *c.Retry.Limit < 0 {
		return fmt.Errorf("retry.limit must be >= 0, got %d", *c.Retry.Limit)
	}
	if c.Retry.MinDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if c.Retry.MinDelay == 0 && c.Retry.MaxDelay == 0 {
		c.Retry.MinDelay, c.Retry.MaxDelay = defaults.MinDelay, defaults.MaxDelay
	}
	if c.Retry.MaxDelay < c.Retry.MinDelay {
		return fmt.Errorf("retry.max_delay (%s) must be >= retry.min_delay (%s)", c.Retry.MaxDelay, c.Retry.MinDelay)
	}
	return nil
}

// Validate performs validation on a single route
func (r *Route) Validate(index int) error {
	targets := 0
	if r.Host != "" {
		targets++
	}
	if len(r.Hosts) > 0 {
		targets++
	}
	if r.HostTemplate != "" {
		targets++
	}
	if targets != 1 {
		return fmt.Errorf("route %d (%q): exactly one of host, hosts or host_template is required", index, r.Pattern)
	}

	for _, op := range r.Ops {
		if op != string(nodegraph.OpRead) && op != string(nodegraph.OpWrite) {
			return fmt.Errorf("route %d (%q): invalid op: %s (must be 'read' or 'write')", index, r.Pattern, op)
		}
	}

	if r.HostTemplate != "" {
		// Pattern captures are numbered by wildcard position.
		wildcards := 0
		for _, ch := range r.Pattern {
			if ch == '*' {
				wildcards++
			}
		}
		for _, m := range captureRef.FindAllStringSubmatch(r.HostTemplate, -1) {
			n, _ := strconv.Atoi(m[1])
			if n > wildcards {
				return fmt.Errorf("route %d (%q): host_template references $%d but the pattern has %d wildcards", index, r.Pattern, n, wildcards)
			}
		}
	}

	return nil
}

// Target converts the route into a router target.
func (r *Route) Target() nodegraph.Target {
	switch {
	case r.Host != "":
		return nodegraph.StaticHost(r.Host)
	case len(r.Hosts) > 0:
		return nodegraph.HostList(append([]string(nil), r.Hosts...))
	default:
		template := r.HostTemplate
		return nodegraph.DynamicHost(func(captures []string) string {
			missing := false
			host := captureRef.ReplaceAllStringFunc(template, func(ref string) string {
				n, _ := strconv.Atoi(ref[1:])
				if n > len(captures) || captures[n-1] == "" {
					missing = true
					return ""
				}
				return captures[n-1]
			})
			if missing {
				return ""
			}
			return host
		})
	}
}

// Router builds a router holding every configured route, in order.
func (c *ClientConfig) Router() (*nodegraph.Router, error) {
	router := nodegraph.NewRouter(nodegraph.WithDefaultHost(c.DefaultHost))
	for i, route := range c.Routes {
		ops := make([]nodegraph.Op, 0, len(route.Ops))
		for _, op := range route.Ops {
			ops = append(ops, nodegraph.Op(op))
		}
		if err := router.Register(route.Pattern, route.Target(), ops...); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
	}
	return router, nil
}

// Logger builds the logrus logger described by the logging section.
func (c *ClientConfig) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if c.Logging == nil {
		return logger
	}
	if level, err := logrus.ParseLevel(c.Logging.Level); err == nil && c.Logging.Level != "" {
		logger.SetLevel(level)
	}
	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// Options translates the configuration into client options. The record
// source is not included; see records.NewStoreFromURL.
func (c *ClientConfig) Options() ([]nodegraph.Option, error) {
	router, err := c.Router()
	if err != nil {
		return nil, err
	}

	opts := []nodegraph.Option{
		nodegraph.WithRouter(router),
		nodegraph.WithTimeout(c.Timeout),
		nodegraph.WithLogger(c.Logger()),
	}
	if c.Retry != nil && c.Retry.Limit != nil {
		opts = append(opts, nodegraph.WithRetry(nodegraph.RetryPolicy{
			Limit:    *c.Retry.Limit,
			MinDelay: c.Retry.MinDelay,
			MaxDelay: c.Retry.MaxDelay,
		}))
	}
	if c.Fallbacks != nil && len(c.Fallbacks.Read) > 0 {
		opts = append(opts, nodegraph.WithFallbacks(nodegraph.OpRead, c.Fallbacks.Read...))
	}
	if len(c.Headers) > 0 {
		h := make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			h.Set(k, v)
		}
		opts = append(opts, nodegraph.WithHeaders(h))
	}
	return opts, nil
}

// Load reads and validates nodegraph.yml from the specified path
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config ClientConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
