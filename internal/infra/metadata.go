package infra

import (
	"encoding/xml"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/jbweber/homelab/standctl/internal/domain"
)

// domainDoc is the slice of a libvirt domain descriptor this tool cares
// about: the name and the vendor metadata block. Values are kept as
// strings so missing and malformed tags can be told apart.
type domainDoc struct {
	Name     string      `xml:"name"`
	Metadata metadataDoc `xml:"metadata"`
}

type metadataDoc struct {
	Block metaBlock `xml:"standctl"`
}

type metaBlock struct {
	Stand    string      `xml:"stand"`
	NodeType string      `xml:"node_type"`
	VCPU     string      `xml:"vcpu"`
	Mem      string      `xml:"mem"`
	Image    string      `xml:"image"`
	Network  *networkTag `xml:"network"`
}

type networkTag struct {
	Name    string `xml:",chardata"`
	CIDR    string `xml:"cidr,attr"`
	Managed string `xml:"managed_network,attr"`
	DHCP    string `xml:"dhcp,attr"`
}

// parseDomainDoc decodes a raw domain descriptor
func parseDomainDoc(raw string) (*domainDoc, error) {
	var doc domainDoc
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse domain descriptor: %w", err)
	}
	return &doc, nil
}

// node reconstructs a topology node from the metadata tags. It fails
// when the required tags are absent or malformed, which marks the
// domain as quarantined during discovery.
func (d *domainDoc) node() (domain.Node, error) {
	cores, err := strconv.Atoi(d.Metadata.Block.VCPU)
	if err != nil {
		return domain.Node{}, fmt.Errorf("domain %s: bad vcpu tag %q", d.Name, d.Metadata.Block.VCPU)
	}
	memory, err := strconv.Atoi(d.Metadata.Block.Mem)
	if err != nil {
		return domain.Node{}, fmt.Errorf("domain %s: bad mem tag %q", d.Name, d.Metadata.Block.Mem)
	}
	return domain.Node{
		Name:   d.Name,
		Cores:  cores,
		Memory: memory,
		Image:  d.Metadata.Block.Image,
	}, nil
}

// network reconstructs the stand network from the ownership tag carried
// by bootstrap domains.
func (d *domainDoc) network() (domain.Network, error) {
	tag := d.Metadata.Block.Network
	if tag == nil {
		return domain.Network{}, fmt.Errorf("domain %s: missing network tag", d.Name)
	}
	cidr, err := netip.ParsePrefix(tag.CIDR)
	if err != nil {
		return domain.Network{}, fmt.Errorf("domain %s: bad network cidr %q", d.Name, tag.CIDR)
	}
	managed, err := parseBoolAttr(tag.Managed)
	if err != nil {
		return domain.Network{}, fmt.Errorf("domain %s: bad managed_network attr %q", d.Name, tag.Managed)
	}
	dhcp, err := parseBoolAttr(tag.DHCP)
	if err != nil {
		return domain.Network{}, fmt.Errorf("domain %s: bad dhcp attr %q", d.Name, tag.DHCP)
	}
	return domain.Network{
		Name:    tag.Name,
		CIDR:    cidr,
		Managed: managed,
		DHCP:    dhcp,
	}, nil
}

func parseBoolAttr(v string) (bool, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// standName returns the owning stand, empty for unmanaged domains
func (d *domainDoc) standName() string {
	return d.Metadata.Block.Stand
}

// nodeType returns the role tag value
func (d *domainDoc) nodeType() string {
	return d.Metadata.Block.NodeType
}
