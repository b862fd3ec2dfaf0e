package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Server struct {
	Addr              string `yaml:"addr"`
	ReadTimeoutMS     int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS    int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS     int    `yaml:"idle_timeout_ms"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Limits struct {
	Backend           string `yaml:"backend"` // "memory" or "redis"
	RequestsPerWindow int    `yaml:"requests_per_window"`
	WindowMinutes     int    `yaml:"window_minutes"`
	SweepIntervalMS   int    `yaml:"sweep_interval_ms"` // memory backend only; defaults to the window
	BypassLoopback    *bool  `yaml:"bypass_loopback"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Mail struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	To           string `yaml:"to"`
	Brand        string `yaml:"brand"` // footer of the notification mail
	TimeoutMS    int    `yaml:"timeout_ms"`
	MaxPerMinute int    `yaml:"max_per_minute"` // outbound throttle across all clients
	Burst        int    `yaml:"burst"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Redis         Redis         `yaml:"redis"`
	Mail          Mail          `yaml:"mail"`
}

// env holds the variables that override the file. SMTP variables keep their
// conventional names; FOLIO_-prefixed forms are accepted too.
type env struct {
	SMTPServer    string `envconfig:"SMTP_SERVER"`
	SMTPPort      int    `envconfig:"SMTP_PORT"`
	SMTPUsername  string `envconfig:"SMTP_USERNAME"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
	CompanyEmail  string `envconfig:"COMPANY_EMAIL"`
	RedisAddr     string `split_words:"true"`
	RedisPassword string `split_words:"true"`
	LogLevel      string `split_words:"true"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 30 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) ShutdownTimeout() time.Duration {
	if s.ShutdownTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.ShutdownTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 64 << 10
	}
	return s.MaxBodyBytes
} // default 64KB

func (l Limits) Window() time.Duration {
	return time.Duration(l.WindowMinutes) * time.Minute
}

func (l Limits) SweepInterval() time.Duration {
	if l.SweepIntervalMS <= 0 {
		return l.Window()
	}
	return time.Duration(l.SweepIntervalMS) * time.Millisecond
}

func (l Limits) Bypass() bool {
	return l.BypassLoopback == nil || *l.BypassLoopback
}

func (m Mail) Timeout() time.Duration {
	if m.TimeoutMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// Missing names the settings delivery cannot work without.
func (m Mail) Missing() []string {
	var out []string
	if m.Host == "" {
		out = append(out, "host")
	}
	if m.Username == "" {
		out = append(out, "username")
	}
	if m.Password == "" {
		out = append(out, "password")
	}
	if m.To == "" {
		out = append(out, "to")
	}
	return out
}

// Load reads the YAML file at path (skipped when path is empty), applies the
// environment on top and fills defaults.
func Load(path string) (*Root, error) {
	var cfg Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	var e env
	if err := envconfig.Process("folio", &e); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.applyEnv(e)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Root) applyEnv(e env) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Mail.Host, e.SMTPServer)
	set(&c.Mail.Username, e.SMTPUsername)
	set(&c.Mail.Password, e.SMTPPassword)
	set(&c.Mail.To, e.CompanyEmail)
	set(&c.Redis.Addr, e.RedisAddr)
	set(&c.Redis.Password, e.RedisPassword)
	set(&c.Observability.LogLevel, e.LogLevel)
	if e.SMTPPort != 0 {
		c.Mail.Port = e.SMTPPort
	}
}

func (c *Root) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.PrometheusPath == "" {
		c.Observability.PrometheusPath = "/metrics"
	}
	c.Limits.Backend = strings.ToLower(strings.TrimSpace(c.Limits.Backend))
	if c.Limits.Backend == "" {
		c.Limits.Backend = BackendMemory
	}
	if c.Limits.RequestsPerWindow <= 0 {
		c.Limits.RequestsPerWindow = 20
	}
	if c.Limits.WindowMinutes <= 0 {
		c.Limits.WindowMinutes = 30
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "folio:ratelimit"
	}
	if c.Mail.Host == "" {
		c.Mail.Host = "smtp.gmail.com"
	}
	if c.Mail.Port <= 0 {
		c.Mail.Port = 587
	}
	if c.Mail.Brand == "" {
		c.Mail.Brand = "ErrorOp"
	}
	if c.Mail.MaxPerMinute <= 0 {
		c.Mail.MaxPerMinute = 30
	}
	if c.Mail.Burst <= 0 {
		c.Mail.Burst = 5
	}
}

func (c *Root) Validate() error {
	switch c.Limits.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("limits.backend is %q but redis.addr is empty", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown limits.backend %q", c.Limits.Backend)
	}
	if !strings.HasPrefix(c.Observability.PrometheusPath, "/") {
		return fmt.Errorf("observability.prometheus_path must start with /")
	}
	return nil
}
