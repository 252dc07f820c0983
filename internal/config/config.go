package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/docker-deploy/internal/domain/deploy"
)

// Config is the whole deployment configuration file.
type Config struct {
	// LogDir is where the append-only deployment log is written. Empty disables the log file.
	LogDir string `yaml:"log_dir,omitempty"`
	// DistDir is the local build output directory that gets shipped.
	DistDir string `yaml:"dist_dir,omitempty"`
	// Descriptor is the local container build descriptor (Dockerfile).
	Descriptor string `yaml:"descriptor,omitempty"`
	// WorkDir is where the local archive is created; defaults to the OS temp directory.
	WorkDir string `yaml:"work_dir,omitempty"`
	// Parallelism caps concurrently deployed servers; zero deploys all servers at once.
	Parallelism int `yaml:"parallelism,omitempty"`
	// CommandTimeout bounds every remote command, e.g. 15m. Defaults to DefaultCommandTimeout.
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`
	// Environments maps environment names to their definitions.
	Environments map[string]*Environment `yaml:"environments"`
}

// Environment describes one deployment target group.
type Environment struct {
	// Servers are deployed independently, in this order when parallelism is 1.
	Servers []*Server `yaml:"servers"`
	// ImageName is the tag given to the built image, e.g. myapp:latest.
	ImageName string `yaml:"image_name"`
	// ContainerName is the name of the running container.
	ContainerName string `yaml:"container_name"`
	// BuildArgs are appended to the image build command.
	BuildArgs []string `yaml:"build_args,omitempty"`
	// RunArgs are appended to the container run command.
	RunArgs []string `yaml:"run_args,omitempty"`
	// PublishPort is the host port the container is published on.
	PublishPort int `yaml:"publish_port,omitempty"`
	// ContainerPort is the port the application listens on inside the container.
	ContainerPort int `yaml:"container_port,omitempty"`
	// CleanupRemote removes the remote build directory after a successful deployment. Defaults to true.
	CleanupRemote *bool `yaml:"cleanup_remote,omitempty"`
}

// Server describes one SSH target.
type Server struct {
	// Host is an IP address or domain name.
	Host string `yaml:"host"`
	// Port is the SSH port.
	Port int `yaml:"port,omitempty"`
	// Username is the login user.
	Username string `yaml:"username,omitempty"`
	// Password authenticates with a password. Mutually exclusive with PrivateKey.
	Password string `yaml:"password,omitempty"`
	// PrivateKey is a path to a private key file. Mutually exclusive with Password.
	PrivateKey string `yaml:"private_key,omitempty"`
	// Passphrase decrypts PrivateKey when it is encrypted.
	Passphrase string `yaml:"passphrase,omitempty"`
	// KnownHosts is an optional known_hosts file used to verify the host key.
	KnownHosts string `yaml:"known_hosts,omitempty"`
	// RemoteDir is the deploy root on the server; each run gets a subdirectory.
	RemoteDir string `yaml:"remote_dir,omitempty"`
}

const (
	// DefaultConfigFilename is the default configuration file name.
	DefaultConfigFilename = "docker-deploy.yaml"

	// DefaultLogFilename is the name of the append-only log inside LogDir.
	DefaultLogFilename = "deploy.log"

	// DefaultDistDir is the default build output directory.
	DefaultDistDir = "dist"

	// DefaultDescriptor is the default container descriptor file.
	DefaultDescriptor = "Dockerfile"

	// DefaultSSHPort is used when a server has no port.
	DefaultSSHPort = 22

	// DefaultUsername is used when a server has no username.
	DefaultUsername = "root"

	// DefaultRemoteDir is used when a server has no remote directory.
	DefaultRemoteDir = "/root/deploy"

	// DefaultPublishPort is the default published host port.
	DefaultPublishPort = 9750

	// DefaultContainerPort is the default application port inside the container.
	DefaultContainerPort = 80

	// DefaultFilePermissions is the permission used for written config files.
	DefaultFilePermissions = 0o600

	// DefaultCommandTimeout bounds a single remote command, image builds included.
	DefaultCommandTimeout = 30 * time.Minute

	maxPort = 65535
)

var (
	errConfigIsNotSet     = errors.New("configuration is not set")
	errNoEnvironments     = errors.New("no environments configured")
	errUnknownEnvironment = errors.New("unknown environment")
	errNoServers          = errors.New("environment has no servers")
	errImageNameRequired  = errors.New("image_name must be provided")
	errContainerRequired  = errors.New("container_name must be provided")
	errHostRequired       = errors.New("host must be provided")
	errCredential         = errors.New("exactly one of password or private_key must be set")
	errBadPort            = errors.New("port out of range")
	errRemoteDirRelative  = errors.New("remote_dir must be an absolute path")
	errNegativeParallel   = errors.New("parallelism must not be negative")
	errNegativeTimeout    = errors.New("command_timeout must not be negative")
)

// Load reads configuration from the provided path.
// Environments are validated lazily by Resolve so one broken entry does not block the others.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks top-level settings and fills their defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: %w", deploy.ErrConfiguration, errConfigIsNotSet)
	}

	if len(cfg.Environments) == 0 {
		return fmt.Errorf("%w: %w", deploy.ErrConfiguration, errNoEnvironments)
	}

	if cfg.Parallelism < 0 {
		return fmt.Errorf("%w: %w", deploy.ErrConfiguration, errNegativeParallel)
	}

	if cfg.CommandTimeout < 0 {
		return fmt.Errorf("%w: %w", deploy.ErrConfiguration, errNegativeTimeout)
	}

	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	if cfg.DistDir == "" {
		cfg.DistDir = DefaultDistDir
	}

	if cfg.Descriptor == "" {
		cfg.Descriptor = DefaultDescriptor
	}

	return nil
}

// Names returns the configured environment names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Resolve returns a validated copy of the named environment with defaults applied.
// The input map is left untouched.
func Resolve(environments map[string]*Environment, name string) (*Environment, error) {
	source, ok := environments[name]
	if !ok || source == nil {
		return nil, fmt.Errorf("%w: %w %q", deploy.ErrConfiguration, errUnknownEnvironment, name)
	}

	env := source.Clone()

	if err := ValidateEnvironment(env); err != nil {
		return nil, fmt.Errorf("%w: environment %q: %w", deploy.ErrConfiguration, name, err)
	}

	return env, nil
}

// ValidateEnvironment checks one environment and fills its defaults.
func ValidateEnvironment(env *Environment) error {
	if len(env.Servers) == 0 {
		return errNoServers
	}

	if strings.TrimSpace(env.ImageName) == "" {
		return errImageNameRequired
	}

	if strings.TrimSpace(env.ContainerName) == "" {
		return errContainerRequired
	}

	if env.PublishPort == 0 {
		env.PublishPort = DefaultPublishPort
	}

	if env.ContainerPort == 0 {
		env.ContainerPort = DefaultContainerPort
	}

	if !validPort(env.PublishPort) || !validPort(env.ContainerPort) {
		return errBadPort
	}

	for i, server := range env.Servers {
		if server == nil {
			return fmt.Errorf("server #%d: %w", i+1, errHostRequired)
		}

		if err := ValidateServer(server); err != nil {
			return fmt.Errorf("server #%d (%s): %w", i+1, server.Host, err)
		}
	}

	return nil
}

// ValidateServer checks one server entry and fills its defaults.
func ValidateServer(server *Server) error {
	if strings.TrimSpace(server.Host) == "" {
		return errHostRequired
	}

	if (server.Password == "") == (server.PrivateKey == "") {
		return errCredential
	}

	if server.Port == 0 {
		server.Port = DefaultSSHPort
	}

	if !validPort(server.Port) {
		return errBadPort
	}

	if server.Username == "" {
		server.Username = DefaultUsername
	}

	if server.RemoteDir == "" {
		server.RemoteDir = DefaultRemoteDir
	}

	if !strings.HasPrefix(server.RemoteDir, "/") {
		return errRemoteDirRelative
	}

	return nil
}

// Clone returns a deep copy of the environment.
func (e *Environment) Clone() *Environment {
	cloned := *e
	cloned.BuildArgs = append([]string(nil), e.BuildArgs...)
	cloned.RunArgs = append([]string(nil), e.RunArgs...)

	if e.CleanupRemote != nil {
		cleanup := *e.CleanupRemote
		cloned.CleanupRemote = &cleanup
	}

	cloned.Servers = make([]*Server, len(e.Servers))
	for i, server := range e.Servers {
		cloned.Servers[i] = server.Clone()
	}

	return &cloned
}

// Clone returns a copy of the server, nil for nil.
func (s *Server) Clone() *Server {
	if s == nil {
		return nil
	}

	cloned := *s

	return &cloned
}

// ShouldCleanupRemote reports whether the remote build directory is removed after success.
func (e *Environment) ShouldCleanupRemote() bool {
	if e.CleanupRemote == nil {
		return true
	}

	return *e.CleanupRemote
}

// Address returns host:port for dialing.
func (s *Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the public address of the service deployed to this server.
func (e *Environment) URL(server *Server) string {
	return "http://" + net.JoinHostPort(server.Host, strconv.Itoa(e.PublishPort))
}

func validPort(port int) bool {
	return port > 0 && port <= maxPort
}
