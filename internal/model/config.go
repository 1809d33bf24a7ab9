package model

import (
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	AuthTypeEnv         = "env"
	AuthTypeStaticToken = "static_token"
	AuthTypeSessionFile = "session_file"

	DefaultTokenVariable = "IMGSYNC_TOKEN"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	LogFormatJSON = "json"
	LogFormatText = "text"

	DefaultPollInterval   = 4 * time.Second
	DefaultServerTimeout  = 30 * time.Second
	DefaultResolveWorkers = 4
)

// DefaultExtensions are the image extensions accepted for upload.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("config.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version  int       `json:"version" yaml:"version"` // fixed 0 for now
	Server   Server    `json:"server" yaml:"server"`
	Auth     Auth      `json:"auth" yaml:"auth"`
	Poll     *Poll     `json:"poll,omitempty" yaml:"poll,omitempty"`
	Resolve  *Resolve  `json:"resolve,omitempty" yaml:"resolve,omitempty"`
	Upload   *Upload   `json:"upload,omitempty" yaml:"upload,omitempty"`
	Journal  *Journal  `json:"journal,omitempty" yaml:"journal,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Log      *Log      `json:"log,omitempty" yaml:"log,omitempty"`
}

// Server is the back-office API. URL is the API base, endpoints are joined to it.
type Server struct {
	URL     URL     `json:"url" yaml:"url"`
	Timeout *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Auth is a tagged union by Type: "env", "static_token" or "session_file".
type Auth struct {
	Type     string `json:"type" yaml:"type"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`       // static_token
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`         // session_file
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"` // env, default IMGSYNC_TOKEN
}

type Poll struct {
	Interval *string `json:"interval,omitempty" yaml:"interval,omitempty"`
}

type Resolve struct {
	Concurrency *int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Rate        *int `json:"rate,omitempty" yaml:"rate,omitempty"` // lookups per second, 0 => unlimited
}

type Upload struct {
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// Journal is the local SQLite run history. Empty path disables it.
type Journal struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Schedule drives timer mode: either a cron expression or an ISO-8601 duration.
type Schedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

type Log struct {
	Output  *string `json:"output,omitempty" yaml:"output,omitempty"` // "stderr"|"stdout"|"discard"|path
	Format  *string `json:"format,omitempty" yaml:"format,omitempty"` // "json"|"text"
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// DefaultConfig is stored when no config file exists yet.
func DefaultConfig() Config {
	var u URL
	_ = u.UnmarshalText([]byte("http://localhost:3000/api"))
	interval := "4s"
	return Config{
		Version: 0,
		Server:  Server{URL: u},
		Auth:    Auth{Type: AuthTypeEnv, Variable: DefaultTokenVariable},
		Poll:    &Poll{Interval: &interval},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("imgsync.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}

// ConfigErrDetails humanizes an error returned by LoadConfig.
func ConfigErrDetails(err error) []ConfigErrDetail {
	return humanize(err, schema)
}

func (c Config) PollInterval() (time.Duration, error) {
	if c.Poll == nil || c.Poll.Interval == nil {
		return DefaultPollInterval, nil
	}
	return ParseInterval(*c.Poll.Interval)
}

func (c Config) ServerTimeout() (time.Duration, error) {
	if c.Server.Timeout == nil {
		return DefaultServerTimeout, nil
	}
	return ParseInterval(*c.Server.Timeout)
}

func (c Config) ResolveConcurrency() int {
	if c.Resolve == nil || c.Resolve.Concurrency == nil {
		return DefaultResolveWorkers
	}
	return *c.Resolve.Concurrency
}

func (c Config) ResolveRate() int {
	if c.Resolve == nil || c.Resolve.Rate == nil {
		return 0
	}
	return *c.Resolve.Rate
}

func (c Config) Extensions() []string {
	if c.Upload == nil || len(c.Upload.Extensions) == 0 {
		return DefaultExtensions
	}
	return c.Upload.Extensions
}

func (c Config) JournalPath() string {
	if c.Journal == nil {
		return ""
	}
	return os.ExpandEnv(c.Journal.Path)
}

func (c Config) Verbose() bool {
	return c.Log != nil && c.Log.Verbose != nil && *c.Log.Verbose
}

func (c Config) LogOutput() string {
	if c.Log == nil || c.Log.Output == nil {
		return LogStderr
	}
	return *c.Log.Output
}

func (c Config) LogFormat() string {
	if c.Log == nil || c.Log.Format == nil {
		return LogFormatJSON
	}
	return *c.Log.Format
}
