package domain

import (
	"fmt"
	"net/netip"
)

// DummyNetworkName is the sentinel network name used while a stand is
// being reconstructed and no bootstrap domain has been seen yet.
const DummyNetworkName = "dummy"

// Network represents the single network of a stand
type Network struct {
	Name string       // Network or bridge name
	CIDR netip.Prefix // IPv4 network, e.g. 192.168.4.0/22
	DHCP bool         // DHCP enabled on the virtual network

	// Managed is true when this tool owns the network lifecycle.
	// Pre-existing user bridges are reused and never destroyed.
	Managed bool
}

// DummyNetwork returns the placeholder network assigned to a stand
// before its real network is known. A stand holding it is never valid.
func DummyNetwork() Network {
	return Network{
		Name:    DummyNetworkName,
		CIDR:    netip.MustParsePrefix("0.0.0.0/24"),
		Managed: false,
	}
}

// IsDummy reports whether the network is the placeholder sentinel
func (n Network) IsDummy() bool {
	return n.Name == DummyNetworkName
}

// Gateway returns the conventional gateway address: network address + 1
func (n Network) Gateway() netip.Addr {
	return addrPlus(n.CIDR.Masked().Addr(), 1)
}

// DHCPRange returns the conventional DHCP pool bounds: offsets +10 and
// +100 into the CIDR
func (n Network) DHCPRange() (start, end netip.Addr) {
	base := n.CIDR.Masked().Addr()
	return addrPlus(base, 10), addrPlus(base, 100)
}

// addrPlus returns an IPv4 address offset from base
func addrPlus(base netip.Addr, offset int) netip.Addr {
	a := base
	for i := 0; i < offset; i++ {
		a = a.Next()
	}
	return a
}

// Node represents a single virtual machine of a stand
type Node struct {
	Name   string // Domain name, unique across the hypervisor
	Memory int    // Memory in MiB
	Cores  int    // vCPU count
	Disks  []int  // Empty disk sizes in GiB, used when no image is set
	Image  string // Path to a base disk image (optional)
}

// Validate checks that the node can be realized: exactly one of image or
// disks must determine the provisioning mode.
func (n Node) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("node has no name")
	}
	if n.Cores < 1 {
		return fmt.Errorf("node %s: cores must be >= 1", n.Name)
	}
	if n.Image == "" && len(n.Disks) == 0 {
		return fmt.Errorf("node %s: either image or disks must be set", n.Name)
	}
	return nil
}

// Bootstrap is the stand's primary node: it boots from a base image,
// owns the network metadata and is reachable for post-boot automation.
type Bootstrap struct {
	Node
}

// BootstrapFromNode promotes a plain node to a bootstrap role
func BootstrapFromNode(n Node) Bootstrap {
	return Bootstrap{Node: n}
}

// Stand is one named test environment: a network, its bootstrap nodes
// and any number of network-booted baremetal-style nodes. Stands have no
// existence outside the hypervisor; they are reconstructed on demand
// from domain metadata.
type Stand struct {
	Name       string
	Network    Network
	Bootstraps []Bootstrap
	Baremetals []Node

	// Quarantined lists domain names that carry this stand's tag but
	// whose remaining metadata could not be decoded, e.g. leftovers of
	// a crashed creation. They are reported, never acted on.
	Quarantined []string
}

// EmptyStand returns a stand accumulator with the dummy network and no
// nodes, used while grouping domains during discovery.
func EmptyStand(name string) *Stand {
	return &Stand{
		Name:    name,
		Network: DummyNetwork(),
	}
}

// SingleBootstrapStand builds the common convenience stand: one
// image-booted bootstrap node on the given network.
func SingleBootstrapStand(name, bootstrapName, image string, cores, memory int, network Network) *Stand {
	return &Stand{
		Name:    name,
		Network: network,
		Bootstraps: []Bootstrap{
			{Node: Node{
				Name:   bootstrapName,
				Image:  image,
				Cores:  cores,
				Memory: memory,
			}},
		},
	}
}

// IsValid reports whether the stand can be realized: a concrete network,
// at least one bootstrap and at least one bootstrap with an image.
func (s *Stand) IsValid() bool {
	if s.Network.IsDummy() || len(s.Bootstraps) == 0 {
		return false
	}
	return s.HasBootstrapImage()
}

// HasBootstrapImage reports whether any bootstrap has a resolved image
func (s *Stand) HasBootstrapImage() bool {
	for _, b := range s.Bootstraps {
		if b.Image != "" {
			return true
		}
	}
	return false
}

// SetBootstrapImage assigns the image to every bootstrap node
func (s *Stand) SetBootstrapImage(image string) {
	for i := range s.Bootstraps {
		s.Bootstraps[i].Image = image
	}
}

// DomainNames returns the names of every domain belonging to the stand,
// bootstraps first.
func (s *Stand) DomainNames() []string {
	names := make([]string, 0, len(s.Bootstraps)+len(s.Baremetals))
	for _, b := range s.Bootstraps {
		names = append(names, b.Name)
	}
	for _, n := range s.Baremetals {
		names = append(names, n.Name)
	}
	return names
}
