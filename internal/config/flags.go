package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags exposes Config fields as command-line flags. Only flags the user
// actually set are applied, so an unset flag never hides a YAML or env value.
type Flags struct {
	vals  Config
	apply map[string]func(*Config)
}

// NewFlags returns an empty binding; register flag groups with Global and Serve.
func NewFlags() *Flags {
	return &Flags{vals: Defaults(), apply: make(map[string]func(*Config))}
}

func bind[T any](f *Flags, reg func(*T, string, T, string), name string, field func(*Config) *T, usage string) {
	reg(field(&f.vals), name, *field(&f.vals), usage)
	f.apply[name] = func(c *Config) { *field(c) = *field(&f.vals) }
}

// Global registers the options every subcommand needs.
func (f *Flags) Global(fs *pflag.FlagSet) {
	bind(f, fs.StringVar, "socket", func(c *Config) *string { return &c.SocketPath }, "Unix socket path")
	bind(f, fs.StringVar, "db", func(c *Config) *string { return &c.DBURL }, "PostgreSQL connection string for the audit log (empty disables it)")
	bind(f, fs.StringVar, "log-level", func(c *Config) *string { return &c.LogLevel }, "Log level: debug, info, warn, error")
	bind(f, fs.StringVar, "log-format", func(c *Config) *string { return &c.LogFormat }, "Log format: text or json")
	bind(f, fs.Int64Var, "max-payload", func(c *Config) *int64 { return &c.MaxPayloadBytes }, "Largest accepted frame payload in bytes")
}

// Serve registers the server-only options.
func (f *Flags) Serve(fs *pflag.FlagSet) {
	bind(f, fs.StringVar, "socket-mode", func(c *Config) *string { return &c.SocketMode }, "Octal permissions of the socket file")
	bind(f, fs.IntVar, "backlog", func(c *Config) *int { return &c.Backlog }, "Listen backlog")
	bind(f, fs.StringVar, "mode", func(c *Config) *string { return &c.Mode }, "Accept loop: sequential (one client at a time) or concurrent")
	bind(f, fs.IntVar, "max-sessions", func(c *Config) *int { return &c.MaxSessions }, "Concurrent mode only: maximum simultaneous clients (0 = unlimited)")

	bind(f, fs.DurationVar, "idle-timeout", func(c *Config) *time.Duration { return &c.IdleTimeout }, "Close a client that sends nothing for this long (0 disables)")
	bind(f, fs.DurationVar, "read-timeout", func(c *Config) *time.Duration { return &c.ReadTimeout }, "Deadline for reading a payload once its header arrived")
	bind(f, fs.DurationVar, "write-timeout", func(c *Config) *time.Duration { return &c.WriteTimeout }, "Deadline for writing a response")
	bind(f, fs.DurationVar, "recognize-timeout", func(c *Config) *time.Duration { return &c.RecognizeTimeout }, "Deadline for one recognition, including the wait for the backend")
	bind(f, fs.DurationVar, "shutdown-grace", func(c *Config) *time.Duration { return &c.ShutdownGrace }, "How long shutdown waits for clients before closing them")

	bind(f, fs.Int64Var, "max-image-pixels", func(c *Config) *int64 { return &c.MaxImagePixels }, "Images whose width*height exceeds this are answered as invalid")
	bind(f, fs.StringVar, "invalid-image-message", func(c *Config) *string { return &c.InvalidImageMessage }, "Error text returned for undecodable images")

	bind(f, fs.StringVar, "backend", func(c *Config) *string { return &c.Backend }, "Recognition backend (see `ocrbridge backends`)")
	bind(f, fs.StringVar, "lang", func(c *Config) *string { return &c.Lang }, "Recognition language")
	bind(f, fs.BoolVar, "translate", func(c *Config) *bool { return &c.Translate }, "LLM backends: translate the text to Spanish instead of transcribing it")
	bind(f, fs.StringVar, "python", func(c *Config) *string { return &c.PythonBin }, "Python interpreter for worker backends")
	bind(f, fs.StringVar, "worker-script", func(c *Config) *string { return &c.WorkerScript }, "Path to ocr_worker.py")
	bind(f, fs.StringVar, "ollama-url", func(c *Config) *string { return &c.OllamaURL }, "Ollama server URL")
	bind(f, fs.StringVar, "ollama-model", func(c *Config) *string { return &c.OllamaModel }, "Ollama vision model")
	bind(f, fs.StringVar, "gemini-model", func(c *Config) *string { return &c.GeminiModel }, "Gemini model")

	bind(f, fs.StringVar, "admin-addr", func(c *Config) *string { return &c.AdminAddr }, "Loopback address for /metrics and /health, e.g. 127.0.0.1:9090 (empty disables it)")
}

// Apply copies every flag that was set on fs into c.
func (f *Flags) Apply(fs *pflag.FlagSet, c *Config) {
	fs.Visit(func(fl *pflag.Flag) {
		if set, ok := f.apply[fl.Name]; ok {
			set(c)
		}
	})
}
