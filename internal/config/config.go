package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFile is the configuration file looked up at the repository root
	DefaultFile = ".git-ftp.yml"
	// PasswordEnv supplies the password when neither the file nor a flag does
	PasswordEnv = "GIT_FTP_PASSWD"

	defaultRetries    = 3
	defaultTimeout    = 30 * time.Second
	defaultIgnoreFile = ".git-ftp-ignore"
)

var (
	// ErrUnknownScope is returned for a scope name that is not configured
	ErrUnknownScope = errors.New("unknown scope")
	// ErrMissingURL is returned when no target URL could be resolved
	ErrMissingURL = errors.New("no target url configured")
)

// Config represents the complete configuration file
type Config struct {
	Defaults Scope            `yaml:"defaults,omitempty"`
	Scopes   map[string]Scope `yaml:"scopes,omitempty"`
}

// Scope is a named set of deployment settings. Unset fields inherit from
// the defaults section.
type Scope struct {
	User       string `yaml:"user,omitempty"`
	Password   string `yaml:"password,omitempty"`
	URL        string `yaml:"url,omitempty"`
	SyncRoot   string `yaml:"syncroot,omitempty"`
	IgnoreFile string `yaml:"ignore_file,omitempty"`
	RemoteLock *bool  `yaml:"remote_lock,omitempty"`
	ActiveMode *bool  `yaml:"active,omitempty"`
	Insecure   *bool  `yaml:"insecure,omitempty"`
	Retries    *int   `yaml:"retries,omitempty"`
	KeyFile    string `yaml:"key,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
}

// Settings is the resolved, read-only configuration of one run
type Settings struct {
	User       string
	Password   string
	URL        string
	SyncRoot   string
	IgnoreFile string
	RemoteLock bool
	ActiveMode bool
	Insecure   bool
	Retries    int
	KeyFile    string
	Timeout    time.Duration
}

// Load reads and parses the configuration file. A .env file next to it is
// loaded first so that its variables can be referenced as ${VAR}; variables
// already set in the environment win.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", dotenv, err)
		}
	}

	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Defaults.expandEnv()
	for name, s := range c.Scopes {
		s.expandEnv()
		c.Scopes[name] = s
	}
}

func (s *Scope) expandEnv() {
	s.User = os.ExpandEnv(s.User)
	s.Password = os.ExpandEnv(s.Password)
	s.URL = os.ExpandEnv(s.URL)
	s.SyncRoot = os.ExpandEnv(s.SyncRoot)
	s.IgnoreFile = os.ExpandEnv(s.IgnoreFile)
	s.KeyFile = os.ExpandEnv(s.KeyFile)
	s.Timeout = os.ExpandEnv(s.Timeout)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := c.Defaults.validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for _, name := range c.ScopeNames() {
		if err := validScopeName(name); err != nil {
			return err
		}
		s := c.Scopes[name]
		if err := s.validate(); err != nil {
			return fmt.Errorf("scopes.%s: %w", name, err)
		}
	}
	return nil
}

func (s Scope) validate() error {
	if s.Retries != nil && *s.Retries < 0 {
		return fmt.Errorf("retries cannot be negative: %d", *s.Retries)
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", s.Timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive: %s", s.Timeout)
		}
	}
	if filepath.IsAbs(s.SyncRoot) {
		return fmt.Errorf("syncroot must be relative to the repository: %s", s.SyncRoot)
	}
	return nil
}

func validScopeName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t/\\.") {
		return fmt.Errorf("invalid scope name %q", name)
	}
	return nil
}

// ScopeNames returns the configured scope names, sorted
func (c *Config) ScopeNames() []string {
	names := make([]string, 0, len(c.Scopes))
	for name := range c.Scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve layers scope over the defaults, then applies overrides (usually
// command-line flags). Credentials embedded in the URL fill in a missing
// user or password; the password finally falls back to $GIT_FTP_PASSWD.
func (c *Config) Resolve(scope string, overrides Scope) (Settings, error) {
	s := c.Defaults
	if scope != "" {
		sc, ok := c.Scopes[scope]
		if !ok {
			return Settings{}, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
		}
		s = s.merge(sc)
	}
	s = s.merge(overrides)

	out := Settings{
		User:       s.User,
		Password:   s.Password,
		URL:        s.URL,
		SyncRoot:   s.SyncRoot,
		IgnoreFile: s.IgnoreFile,
		KeyFile:    s.KeyFile,
		RemoteLock: s.RemoteLock != nil && *s.RemoteLock,
		ActiveMode: s.ActiveMode != nil && *s.ActiveMode,
		Insecure:   s.Insecure != nil && *s.Insecure,
		Retries:    defaultRetries,
		Timeout:    defaultTimeout,
	}
	if s.Retries != nil {
		out.Retries = *s.Retries
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid timeout %q: %w", s.Timeout, err)
		}
		out.Timeout = d
	}
	if err := out.splitUserinfo(); err != nil {
		return Settings{}, err
	}
	if out.Password == "" {
		out.Password = os.Getenv(PasswordEnv)
	}
	if out.IgnoreFile == "" {
		out.IgnoreFile = defaultIgnoreFile
	}
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}

// merge returns s with every field set in o taking precedence
func (s Scope) merge(o Scope) Scope {
	if o.User != "" {
		s.User = o.User
	}
	if o.Password != "" {
		s.Password = o.Password
	}
	if o.URL != "" {
		s.URL = o.URL
	}
	if o.SyncRoot != "" {
		s.SyncRoot = o.SyncRoot
	}
	if o.IgnoreFile != "" {
		s.IgnoreFile = o.IgnoreFile
	}
	if o.RemoteLock != nil {
		s.RemoteLock = o.RemoteLock
	}
	if o.ActiveMode != nil {
		s.ActiveMode = o.ActiveMode
	}
	if o.Insecure != nil {
		s.Insecure = o.Insecure
	}
	if o.Retries != nil {
		s.Retries = o.Retries
	}
	if o.KeyFile != "" {
		s.KeyFile = o.KeyFile
	}
	if o.Timeout != "" {
		s.Timeout = o.Timeout
	}
	return s
}

// splitUserinfo moves user:password@ out of the URL
func (s *Settings) splitUserinfo() error {
	if s.URL == "" || !strings.Contains(s.URL, "@") {
		return nil
	}
	raw := s.URL
	if !strings.Contains(raw, "://") {
		raw = "ftp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.User == nil {
		return nil
	}
	if s.User == "" {
		s.User = u.User.Username()
	}
	if pw, ok := u.User.Password(); ok && s.Password == "" {
		s.Password = pw
	}
	u.User = nil
	s.URL = u.String()
	return nil
}

// Validate checks that the settings are usable for a deployment
func (s Settings) Validate() error {
	if s.URL == "" {
		return ErrMissingURL
	}
	if s.Retries < 0 {
		return fmt.Errorf("retries cannot be negative: %d", s.Retries)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %s", s.Timeout)
	}
	return nil
}

// AddScope adds or replaces the URL of a scope in the configuration file,
// creating the file when it does not exist. Other scope settings are kept.
func AddScope(path, name, targetURL string) error {
	if err := validScopeName(name); err != nil {
		return err
	}
	if targetURL == "" {
		return ErrMissingURL
	}
	doc, err := readNode(path)
	if errors.Is(err, os.ErrNotExist) {
		doc, err = &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mappingNode()}}, nil
	}
	if err != nil {
		return err
	}

	scopes := ensureMapping(doc.Content[0], "scopes")
	scope := ensureMapping(scopes, name)
	if v := mappingValue(scope, "url"); v != nil {
		v.Kind, v.Tag, v.Style, v.Value = yaml.ScalarNode, "!!str", 0, targetURL
	} else {
		scope.Content = append(scope.Content, scalarNode("url"), scalarNode(targetURL))
	}
	return write(path, doc)
}

// RemoveScope deletes a scope from the configuration file
func RemoveScope(path, name string) error {
	doc, err := readNode(path)
	if err != nil {
		return err
	}
	scopes := mappingValue(doc.Content[0], "scopes")
	if scopes == nil || scopes.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: %s", ErrUnknownScope, name)
	}
	for i := 0; i+1 < len(scopes.Content); i += 2 {
		if scopes.Content[i].Value == name {
			scopes.Content = append(scopes.Content[:i], scopes.Content[i+2:]...)
			return write(path, doc)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownScope, name)
}

// readNode parses the file as a node tree so edits keep comments and key order
func readNode(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if doc.Kind == 0 {
		// empty file
		return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mappingNode()}}, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse config file: top level must be a mapping")
	}
	var cfg Config
	if err := doc.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &doc, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// ensureMapping returns the mapping stored under key, creating it or
// replacing an empty value
func ensureMapping(m *yaml.Node, key string) *yaml.Node {
	v := mappingValue(m, key)
	if v == nil {
		v = mappingNode()
		m.Content = append(m.Content, scalarNode(key), v)
	}
	if v.Kind != yaml.MappingNode {
		*v = *mappingNode()
	}
	return v
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// write replaces the file atomically; environment references are written back unexpanded
func write(path string, doc *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".git-ftp-yml-*")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// may hold passwords
	if err := tmpFile.Chmod(0600); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
