// Package config loads the nanohttpd configuration.
package config

import "time"

// Config is the complete nanohttpd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP engine.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080" or ":8080".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	// Name is sent in the Server header.
	Name         string        `yaml:"name" mapstructure:"name"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"min=0"`
	DrainTimeout time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout" validate:"min=0"`

	MaxRequestBodySize int64 `yaml:"max_request_body_size" mapstructure:"max_request_body_size" validate:"min=0"`
	ReadBufferSize     int   `yaml:"read_buffer_size" mapstructure:"read_buffer_size" validate:"omitempty,min=512"`

	// Executor is "thread-per-conn" or "pool". MaxWorkers is required for
	// "pool".
	Executor   string `yaml:"executor" mapstructure:"executor" validate:"oneof=thread-per-conn pool"`
	MaxWorkers int    `yaml:"max_workers" mapstructure:"max_workers" validate:"min=0"`

	MaxConns    int     `yaml:"max_conns" mapstructure:"max_conns" validate:"min=0"`
	ReusePort   bool    `yaml:"reuse_port" mapstructure:"reuse_port"`
	Backlog     int     `yaml:"backlog" mapstructure:"backlog" validate:"min=0"`
	AcceptRate  float64 `yaml:"accept_rate" mapstructure:"accept_rate" validate:"min=0"`
	AcceptBurst int     `yaml:"accept_burst" mapstructure:"accept_burst" validate:"min=0"`

	GzipWhenAccepted bool `yaml:"gzip_when_accepted" mapstructure:"gzip_when_accepted"`
	// GzipLevel is -2 (huffman only) to 9. 0 and -1 select the default level.
	GzipLevel        int  `yaml:"gzip_level" mapstructure:"gzip_level" validate:"min=-2,max=9"`

	// TempDir receives spooled request bodies. os.TempDir() if empty.
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir" validate:"omitempty,dir"`
	MemoryLimit int    `yaml:"memory_limit" mapstructure:"memory_limit"`

	// Root is served as static files instead of the echo responder if set.
	Root       string   `yaml:"root" mapstructure:"root" validate:"omitempty,dir"`
	IndexNames []string `yaml:"index_names" mapstructure:"index_names"`
	DirListing bool     `yaml:"dir_listing" mapstructure:"dir_listing"`

	// MimeTypes lists extra .properties or .yaml MIME tables.
	MimeTypes []string `yaml:"mime_types" mapstructure:"mime_types" validate:"omitempty,dive,file"`

	Access AccessConfig `yaml:"access" mapstructure:"access"`
	TLS    TLSConfig    `yaml:"tls" mapstructure:"tls"`
}

// AccessConfig configures the connection access list.
type AccessConfig struct {
	// Default is "allow" or "deny".
	Default string `yaml:"default" mapstructure:"default" validate:"oneof=allow deny"`
	// Rules like "deny 10.0.0.0/8" or "allow localhost", first match wins.
	Rules []string `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive,access_rule"`
}

// TLSConfig enables HTTPS from a PKCS#12 keystore or a PEM pair.
type TLSConfig struct {
	Keystore   string `yaml:"keystore" mapstructure:"keystore" validate:"omitempty,file"`
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`
	CertFile   string `yaml:"cert_file" mapstructure:"cert_file" validate:"omitempty,file"`
	KeyFile    string `yaml:"key_file" mapstructure:"key_file" validate:"omitempty,file"`
}

// Enabled reports whether any TLS source is configured.
func (c TLSConfig) Enabled() bool {
	return c.Keystore != "" || c.CertFile != ""
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr of the metrics listener. Metrics are disabled if empty.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Path string `yaml:"path" mapstructure:"path" validate:"required,startswith=/"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=console json"`
}

// Defaults of every key, also used to register the keys for env overrides.
var defaults = map[string]any{
	"server.addr":                  "127.0.0.1:8080",
	"server.name":                  "",
	"server.read_timeout":          "5s",
	"server.write_timeout":         "0s",
	"server.drain_timeout":         "5s",
	"server.max_request_body_size": 0,
	"server.read_buffer_size":      0,
	"server.executor":              "thread-per-conn",
	"server.max_workers":           0,
	"server.max_conns":             0,
	"server.reuse_port":            false,
	"server.backlog":               0,
	"server.accept_rate":           0.0,
	"server.accept_burst":          0,
	"server.gzip_when_accepted":    false,
	"server.gzip_level":            -1,
	"server.temp_dir":              "",
	"server.memory_limit":          0,
	"server.root":                  "",
	"server.index_names":           []string{"index.html", "index.htm"},
	"server.dir_listing":           false,
	"server.mime_types":            []string{},
	"server.access.default":        "allow",
	"server.access.rules":          []string{},
	"server.tls.keystore":          "",
	"server.tls.passphrase":        "",
	"server.tls.cert_file":         "",
	"server.tls.key_file":          "",
	"metrics.addr":                 "",
	"metrics.path":                 "/metrics",
	"log.level":                    "info",
	"log.format":                   "console",
}
