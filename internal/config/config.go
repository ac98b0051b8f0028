// Package config loads the standctl project file: build sections for
// the image pipeline and an optional stand topology spec.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/standctl/internal/domain"
)

const (
	// DefaultFileName is the project configuration file name
	DefaultFileName = "standctl.yaml"
	// DefaultWorkDirName is the project subdirectory searched for the
	// configuration and used as the base for relative paths
	DefaultWorkDirName = "standctl"
	// DefaultOutputDirName receives built image artifacts
	DefaultOutputDirName = "output"

	// EnvDevKeys holds developer public keys when no key file is given
	EnvDevKeys = "STANDCTL_DEV_KEYS"
)

const (
	DefaultImageProfile = "ubuntu_24"
	DefaultImageFormat  = "raw"
)

// Config is the parsed project configuration. Builds holds every
// top-level section whose key starts with "build", keyed by section
// name; Stand is present when the project declares a topology.
type Config struct {
	Builds map[string]Build
	Stand  *StandSpec

	// WorkDir is the directory relative paths resolve against
	WorkDir string
}

// Build is one image build section
type Build struct {
	Deps     []Dependency `yaml:"deps"`
	Elements []Element    `yaml:"elements"`
}

// Element groups the images built together
type Element struct {
	Images    []Image  `yaml:"images"`
	Artifacts []string `yaml:"artifacts"`
}

// Image describes one image to build
type Image struct {
	Script   string         `yaml:"script"`
	Profile  string         `yaml:"profile"`
	Format   string         `yaml:"format"`
	Name     string         `yaml:"name"`
	Envs     []string       `yaml:"envs"`
	Override map[string]any `yaml:"override"`
}

// Dependency is one fetchable build input. Exactly one of the source
// fields must be set; Dst is the destination path inside the image.
type Dependency struct {
	Dst  string      `yaml:"dst"`
	Path *PathSource `yaml:"path"`
	HTTP *HTTPSource `yaml:"http"`
	Git  *GitSource  `yaml:"git"`
	Env  *EnvSource  `yaml:"env"`
}

// PathSource copies a local file or directory
type PathSource struct {
	Src string `yaml:"src"`
}

// HTTPSource downloads a file
type HTTPSource struct {
	URL string `yaml:"url"`
}

// GitSource clones a repository, optionally a specific branch
type GitSource struct {
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// EnvSource writes the contents of an environment variable to a file
type EnvSource struct {
	Name string `yaml:"name"`
}

// StandSpec is the YAML shape of a stand topology
type StandSpec struct {
	Name       string      `yaml:"name"`
	Network    NetworkSpec `yaml:"network"`
	Bootstraps []NodeSpec  `yaml:"bootstraps"`
	Baremetals []NodeSpec  `yaml:"baremetals"`
}

// NetworkSpec is the YAML shape of the stand network
type NetworkSpec struct {
	Name    string `yaml:"name"`
	CIDR    string `yaml:"cidr"`
	DHCP    bool   `yaml:"dhcp"`
	Managed bool   `yaml:"managed"`
}

// NodeSpec is the YAML shape of one node
type NodeSpec struct {
	Name   string `yaml:"name"`
	Cores  int    `yaml:"cores"`
	Memory int    `yaml:"memory"`
	Image  string `yaml:"image"`
	Disks  []int  `yaml:"disks"`
}

// Load finds and parses the project configuration. The file is looked
// up in projectDir first, then in projectDir/standctl.
func Load(projectDir, fileName string) (*Config, error) {
	if fileName == "" {
		fileName = DefaultFileName
	}

	alternatives := []string{
		filepath.Join(projectDir, fileName),
		filepath.Join(projectDir, DefaultWorkDirName, fileName),
	}

	for _, alt := range alternatives {
		data, err := os.ReadFile(alt)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read configuration %s: %w", alt, err)
		}

		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", alt, err)
		}
		workDir, err := filepath.Abs(filepath.Join(projectDir, DefaultWorkDirName))
		if err != nil {
			return nil, err
		}
		cfg.WorkDir = workDir
		return cfg, nil
	}

	return nil, fmt.Errorf("configuration file %s not found in %s", fileName, projectDir)
}

// Parse decodes the project configuration from raw YAML
func Parse(data []byte) (*Config, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Config{Builds: map[string]Build{}}

	for key, node := range raw {
		switch {
		case strings.HasPrefix(key, "build"):
			var b Build
			if err := node.Decode(&b); err != nil {
				return nil, fmt.Errorf("failed to decode section %s: %w", key, err)
			}
			if err := b.validate(key); err != nil {
				return nil, err
			}
			b.applyDefaults()
			cfg.Builds[key] = b

		case key == "stand":
			var s StandSpec
			if err := node.Decode(&s); err != nil {
				return nil, fmt.Errorf("failed to decode stand section: %w", err)
			}
			cfg.Stand = &s
		}
	}

	return cfg, nil
}

func (b *Build) validate(section string) error {
	if len(b.Elements) == 0 {
		return fmt.Errorf("section %s: no elements", section)
	}
	for i := range b.Deps {
		if err := b.Deps[i].Validate(); err != nil {
			return fmt.Errorf("section %s: %w", section, err)
		}
	}
	for _, e := range b.Elements {
		for _, img := range e.Images {
			if img.Script == "" {
				return fmt.Errorf("section %s: image without script", section)
			}
		}
	}
	return nil
}

func (b *Build) applyDefaults() {
	for i := range b.Elements {
		for j := range b.Elements[i].Images {
			img := &b.Elements[i].Images[j]
			if img.Profile == "" {
				img.Profile = DefaultImageProfile
			}
			if img.Format == "" {
				img.Format = DefaultImageFormat
			}
		}
	}
}

// Validate ensures exactly one source is configured
func (d *Dependency) Validate() error {
	if d.Dst == "" {
		return fmt.Errorf("dependency without dst")
	}
	sources := 0
	if d.Path != nil {
		sources++
	}
	if d.HTTP != nil {
		sources++
	}
	if d.Git != nil {
		sources++
	}
	if d.Env != nil {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("dependency %s: exactly one source required, got %d", d.Dst, sources)
	}
	return nil
}

// Stand converts the YAML spec into the topology model
func (s *StandSpec) Stand() (*domain.Stand, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("stand without a name")
	}

	net := domain.DummyNetwork()
	if s.Network.Name != "" && s.Network.Name != domain.DummyNetworkName {
		cidr, err := netip.ParsePrefix(s.Network.CIDR)
		if err != nil {
			return nil, fmt.Errorf("stand %s: bad network cidr %q: %w", s.Name, s.Network.CIDR, err)
		}
		net = domain.Network{
			Name:    s.Network.Name,
			CIDR:    cidr,
			DHCP:    s.Network.DHCP,
			Managed: s.Network.Managed,
		}
	}

	stand := &domain.Stand{
		Name:    s.Name,
		Network: net,
	}
	for _, n := range s.Bootstraps {
		stand.Bootstraps = append(stand.Bootstraps, domain.BootstrapFromNode(n.node()))
	}
	for _, n := range s.Baremetals {
		stand.Baremetals = append(stand.Baremetals, n.node())
	}
	return stand, nil
}

func (n NodeSpec) node() domain.Node {
	return domain.Node{
		Name:   n.Name,
		Cores:  n.Cores,
		Memory: n.Memory,
		Image:  n.Image,
		Disks:  n.Disks,
	}
}

// DevKeys resolves developer public keys: a key file path wins, the
// STANDCTL_DEV_KEYS environment variable is the fallback. Empty result
// means no keys are injected.
func DevKeys(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read developer keys %s: %w", path, err)
		}
		return string(data), nil
	}
	return os.Getenv(EnvDevKeys), nil
}
