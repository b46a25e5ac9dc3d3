package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/imgcast/internal/domain/transfer"
)

// Config holds every tunable of a broadcast session.
type Config struct {
	// Inventory is the inventory source the target group is resolved from.
	Inventory string `yaml:"inventory"`
	// Group is the inventory group holding the target hosts.
	Group string `yaml:"group"`
	// Interface is the network interface used by the sender and the receivers.
	Interface string `yaml:"interface"`
	// PortBase is the UDP port base of the first job.
	PortBase int `yaml:"port_base"`
	// Bandwidth is the sender bitrate ceiling in udpcast notation (e.g. 900m).
	Bandwidth string `yaml:"bandwidth"`
	// Compression selects the codec piped through sender and receivers.
	Compression string `yaml:"compression"`
	// DestinationDir is the remote directory images are written to.
	DestinationDir string `yaml:"destination_dir"`
	// LogDir is the local directory for logs and session reports. Empty disables file logs.
	LogDir string `yaml:"log_dir"`
	// RemoteLogDir is the directory on targets for receiver logs and output captures.
	RemoteLogDir string `yaml:"remote_log_dir"`
	// ReceiverBinary is the receiver executable on targets.
	ReceiverBinary string `yaml:"receiver_binary"`
	// SenderBinary is the local sender executable.
	SenderBinary string `yaml:"sender_binary"`
	// ConnectTimeout bounds every remote connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// CommandTimeout bounds every synchronous remote command after connecting.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// TransferTimeout bounds the sender run.
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
	// ReceiverSettleDelay is the pause between a detached start and the liveness probe.
	ReceiverSettleDelay time.Duration `yaml:"receiver_settle_delay"`
	// SenderSettleDelay is the pause between quorum confirmation and sender launch.
	SenderSettleDelay time.Duration `yaml:"sender_settle_delay"`
	// JobPause is the pause between consecutive jobs of a session.
	JobPause time.Duration `yaml:"job_pause"`
	// Quorum is the minimum number of running receivers required to send.
	Quorum int `yaml:"quorum"`
	// Parallelism caps concurrent per-host operations. Zero means unlimited.
	Parallelism int `yaml:"parallelism"`
	// SSH configures the remote execution transport.
	SSH SSHConfig `yaml:"ssh"`
	// StatusAddress is the optional listen address of the gRPC status endpoint.
	StatusAddress string `yaml:"status_addr"`
	// DryRun logs intended commands without running them. It is not persisted to YAML.
	DryRun bool `yaml:"-"`
}

// SSHConfig configures how remote commands are executed.
type SSHConfig struct {
	// Backend is either "openssh" (the ssh binary) or "native" (built-in client).
	Backend string `yaml:"backend"`
	// Binary is the ssh executable used by the openssh backend.
	Binary string `yaml:"binary"`
	// User is the remote login. Empty means the ssh default.
	User string `yaml:"user"`
	// Port is the remote ssh port. Zero means the ssh default.
	Port int `yaml:"port"`
	// IdentityFile is an optional private key.
	IdentityFile string `yaml:"identity_file"`
	// KnownHostsFile is used by the native backend to verify host keys.
	KnownHostsFile string `yaml:"known_hosts_file"`
	// Options are extra "-o" options passed to the openssh backend.
	Options []string `yaml:"options"`
}

const (
	// DefaultConfigFilename is the settings file looked up when no path is given.
	DefaultConfigFilename = "imgcast-settings.yaml"

	// DefaultInventory is the inventory used when none is configured.
	DefaultInventory = "/etc/ansible/hosts"
	// DefaultInterface is the broadcast network interface.
	DefaultInterface = "eth0"
	// DefaultPortBase is the UDP port base of the first job.
	DefaultPortBase = 9000
	// DefaultBandwidth leaves headroom on a gigabit link.
	DefaultBandwidth = "900m"
	// DefaultDestinationDir is where images land on targets.
	DefaultDestinationDir = "/var/lib/imgcast"
	// DefaultRemoteLogDir holds receiver logs and output captures on targets.
	DefaultRemoteLogDir = "/tmp"
	// DefaultReceiverBinary is the udpcast receiver.
	DefaultReceiverBinary = "udp-receiver"
	// DefaultSenderBinary is the udpcast sender.
	DefaultSenderBinary = "udp-sender"

	// DefaultConnectTimeout bounds remote connection attempts.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultCommandTimeout bounds synchronous remote commands.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultTransferTimeout bounds a single broadcast.
	DefaultTransferTimeout = 4 * time.Hour
	// DefaultReceiverSettleDelay lets a detached receiver reach a probeable state.
	DefaultReceiverSettleDelay = 2 * time.Second
	// DefaultSenderSettleDelay lets receivers finish initialising before the sender starts.
	DefaultSenderSettleDelay = 3 * time.Second
	// DefaultJobPause separates consecutive broadcasts.
	DefaultJobPause = 5 * time.Second
	// DefaultQuorum is the minimum number of running receivers.
	DefaultQuorum = 1

	// BackendOpenSSH runs remote commands through the ssh binary.
	BackendOpenSSH = "openssh"
	// BackendNative runs remote commands through the built-in ssh client.
	BackendNative = "native"
	// DefaultSSHBinary is the openssh client executable.
	DefaultSSHBinary = "ssh"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// maxPortBase keeps room for the port pair used by each job.
	maxPortBase = 65534
	// minPortBase keeps jobs away from privileged ports.
	minPortBase = 1024
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidPortBase is returned when the port base is out of range.
	errInvalidPortBase = errors.New("port base out of range")
	// errInvalidBandwidth is returned when the bandwidth does not match udpcast notation.
	errInvalidBandwidth = errors.New("invalid bandwidth")
	// errInvalidQuorum is returned for a quorum below one.
	errInvalidQuorum = errors.New("quorum must be at least 1")
	// errInvalidParallelism is returned for a negative parallelism.
	errInvalidParallelism = errors.New("parallelism must not be negative")
	// errUnknownBackend is returned for an unsupported ssh backend.
	errUnknownBackend = errors.New("unknown ssh backend")

	// bandwidthPattern matches udpcast bitrates such as 900m, 1g or 500000.
	bandwidthPattern = regexp.MustCompile(`^[1-9][0-9]*[kKmMgG]?$`)
)

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Defaults always validate.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
// An empty path looks up DefaultConfigFilename and falls back to defaults
// when that file does not exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
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

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills in defaults and checks the settings for consistency.
//
//nolint:cyclop,funlen // A flat list of defaults reads better than helpers.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	setDefault(&settings.Inventory, DefaultInventory)
	setDefault(&settings.Interface, DefaultInterface)
	setDefault(&settings.Bandwidth, DefaultBandwidth)
	setDefault(&settings.DestinationDir, DefaultDestinationDir)
	setDefault(&settings.RemoteLogDir, DefaultRemoteLogDir)
	setDefault(&settings.ReceiverBinary, DefaultReceiverBinary)
	setDefault(&settings.SenderBinary, DefaultSenderBinary)
	setDefault(&settings.SSH.Backend, BackendOpenSSH)
	setDefault(&settings.SSH.Binary, DefaultSSHBinary)

	setDefault(&settings.ConnectTimeout, DefaultConnectTimeout)
	setDefault(&settings.CommandTimeout, DefaultCommandTimeout)
	setDefault(&settings.TransferTimeout, DefaultTransferTimeout)
	setDefault(&settings.ReceiverSettleDelay, DefaultReceiverSettleDelay)
	setDefault(&settings.SenderSettleDelay, DefaultSenderSettleDelay)
	setDefault(&settings.JobPause, DefaultJobPause)

	if settings.PortBase == 0 {
		settings.PortBase = DefaultPortBase
	}

	if settings.Quorum == 0 {
		settings.Quorum = DefaultQuorum
	}

	if settings.PortBase < minPortBase || settings.PortBase > maxPortBase {
		return fmt.Errorf("%w: %d", errInvalidPortBase, settings.PortBase)
	}

	if !bandwidthPattern.MatchString(settings.Bandwidth) {
		return fmt.Errorf("%w: %q", errInvalidBandwidth, settings.Bandwidth)
	}

	if settings.Quorum < 1 {
		return errInvalidQuorum
	}

	if settings.Parallelism < 0 {
		return errInvalidParallelism
	}

	if _, err := transfer.ParseCompression(settings.Compression); err != nil {
		return err
	}

	switch settings.SSH.Backend {
	case BackendOpenSSH, BackendNative:
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, settings.SSH.Backend)
	}

	if settings.StatusAddress == "" {
		return nil
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.StatusAddress); err != nil {
		return fmt.Errorf("invalid status address: %w", err)
	}

	return nil
}

// CompressionCodec returns the parsed compression setting.
func (c *Config) CompressionCodec() transfer.Compression {
	codec, err := transfer.ParseCompression(c.Compression)
	if err != nil {
		return transfer.CompressionNone
	}

	return codec
}

// setDefault assigns fallback when the value is the zero value.
func setDefault[T comparable](value *T, fallback T) {
	var zero T
	if *value == zero {
		*value = fallback
	}
}
