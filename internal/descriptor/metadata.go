package descriptor

import (
	"fmt"
	"strings"

	"github.com/jbweber/homelab/standctl/internal/domain"
)

// The metadata block embedded in every domain descriptor is the only
// persisted representation of stand membership. Tags are namespaced so
// they survive next to metadata written by other tooling.
const (
	// MetaNamespace is the vendor XML namespace prefix
	MetaNamespace = "standctl"
	// MetaNamespaceURI identifies the vendor metadata block
	MetaNamespaceURI = "https://github.com/jbweber/homelab/standctl"

	// MetaStandTag carries the owning stand name
	MetaStandTag = "stand"
	// MetaNodeTypeTag carries the node role: bootstrap or baremetal
	MetaNodeTypeTag = "node_type"
	// MetaCPUTag carries the vCPU count
	MetaCPUTag = "vcpu"
	// MetaMemTag carries the memory size in MiB
	MetaMemTag = "mem"
	// MetaImageTag carries the base image path
	MetaImageTag = "image"
	// MetaNetworkTag carries the network name; its attributes carry
	// cidr, managed_network and dhcp. Present only on the network owner.
	MetaNetworkTag = "network"
)

// Node type tag values
const (
	NodeTypeBootstrap = "bootstrap"
	NodeTypeBaremetal = "baremetal"
)

// attr is an ordered XML attribute; maps are avoided so rendering stays
// deterministic.
type attr struct {
	name  string
	value string
}

// metaTag renders one namespaced metadata element
func metaTag(tag, value string, attrs ...attr) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<%s:%s", MetaNamespace, tag)
	for _, a := range attrs {
		fmt.Fprintf(&b, " %s=%q", a.name, a.value)
	}
	if value == "" {
		b.WriteString(" />")
		return b.String()
	}
	fmt.Fprintf(&b, ">%s</%s:%s>", value, MetaNamespace, tag)
	return b.String()
}

// boolAttr encodes a flag the way the metadata schema expects: 0 or 1
func boolAttr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// nodeMetaTags renders the common tags present on every managed domain
func nodeMetaTags(standName, nodeType string, node domain.Node) []string {
	tags := []string{
		metaTag(MetaStandTag, standName),
		metaTag(MetaNodeTypeTag, nodeType),
		metaTag(MetaCPUTag, fmt.Sprintf("%d", node.Cores)),
		metaTag(MetaMemTag, fmt.Sprintf("%d", node.Memory)),
	}
	if node.Image != "" {
		tags = append(tags, metaTag(MetaImageTag, node.Image))
	}
	return tags
}

// networkMetaTag renders the network-ownership tag carried only by
// bootstrap domains.
func networkMetaTag(net domain.Network) string {
	return metaTag(MetaNetworkTag, net.Name,
		attr{"cidr", net.CIDR.String()},
		attr{"managed_network", boolAttr(net.Managed)},
		attr{"dhcp", boolAttr(net.DHCP)},
	)
}
