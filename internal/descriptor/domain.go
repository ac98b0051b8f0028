// Package descriptor renders libvirt-native domain and network XML from
// topology values. Rendering is pure: no hypervisor calls, no file
// access. Side effects implied by a descriptor (disk allocation, image
// copies) are returned as instructions for the caller.
package descriptor

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/standctl/internal/domain"
)

// DefaultPool is the libvirt storage pool directory used when no pool
// is configured.
const DefaultPool = "/var/lib/libvirt/images"

// BootMode selects the domain boot order
type BootMode string

const (
	// BootHD boots from the first disk only
	BootHD BootMode = "hd"
	// BootNetwork tries PXE first and falls back to the first disk
	BootNetwork BootMode = "network"
)

var domainTmpl = template.Must(template.New("domain").Parse(`<domain type="kvm">
  <name>{{.Name}}</name>
  <uuid>{{.UUID}}</uuid>
  <metadata>
    <{{.MetaNS}}:{{.MetaNS}} xmlns:{{.MetaNS}}="{{.MetaURI}}">
      {{- range .MetaTags}}
      {{.}}
      {{- end}}
    </{{.MetaNS}}:{{.MetaNS}}>
  </metadata>
  <memory>{{.MemoryKiB}}</memory>
  <currentMemory>{{.MemoryKiB}}</currentMemory>
  <vcpu>{{.Cores}}</vcpu>
  <os>
    <type arch="x86_64" machine="q35">hvm</type>
    {{.Boot}}
  </os>
  <features>
    <acpi/>
    <apic/>
    <vmport state="off"/>
  </features>
  <cpu mode="host-passthrough"/>
  <clock offset="utc">
    <timer name="rtc" tickpolicy="catchup"/>
    <timer name="pit" tickpolicy="delay"/>
    <timer name="hpet" present="no"/>
  </clock>
  <devices>
    <emulator>/usr/bin/qemu-system-x86_64</emulator>
{{- range .Disks}}
    <disk type="file" device="disk">
      <driver name="qemu" type="{{.Format}}"/>
      <source file="{{.Path}}"/>
      <target dev="{{.Device}}" bus="virtio"/>
    </disk>
{{- end}}
    <controller type="usb" model="qemu-xhci" ports="5"/>
    <controller type="pci" model="pcie-root"/>
    <controller type="pci" model="pcie-root-port"/>
    <interface type="{{.IfaceType}}">
      <source {{.IfaceSourceAttr}}="{{.IfaceSource}}"/>
      <model type="virtio"/>
    </interface>
    <console type="pty"/>
    <channel type="unix">
      <source mode="bind"/>
      <target type="virtio" name="org.qemu.guest_agent.0"/>
    </channel>
    <input type="tablet" bus="usb"/>
    <video>
      <model type="virtio"/>
    </video>
    <memballoon model="virtio"/>
    <rng model="virtio">
      <backend model="random">/dev/urandom</backend>
    </rng>
  </devices>
</domain>
`))

// DiskCreate instructs the caller to allocate an empty qcow2 disk
// before defining the domain.
type DiskCreate struct {
	Path    string
	SizeGiB int
}

// ImageCopy instructs the caller to place a copy of the base image into
// the storage pool before defining the domain.
type ImageCopy struct {
	Src string
	Dst string
}

// DomainInput describes one domain to synthesize
type DomainInput struct {
	Node    domain.Node
	Stand   string
	Network domain.Network
	Boot    BootMode

	// NodeType tags the domain role in metadata
	NodeType string
	// NetworkOwner emits the network tag; set only on bootstrap domains
	NetworkOwner bool
	// Pool overrides the storage pool directory
	Pool string
}

// Domain is a synthesized domain descriptor plus the side effects the
// caller must perform to realize it.
type Domain struct {
	Name      string
	UUID      string
	XML       string
	ImageCopy *ImageCopy
	NewDisks  []DiskCreate
}

type diskEntry struct {
	Format string
	Path   string
	Device string
}

// NewDomain renders the libvirt XML for a node. Provisioning mode is
// chosen by the node: an image yields a single pool-copied disk, a disk
// list yields freshly allocated qcow2 disks named from the domain UUID.
func NewDomain(in DomainInput) (*Domain, error) {
	if err := in.Node.Validate(); err != nil {
		return nil, err
	}

	pool := in.Pool
	if pool == "" {
		pool = DefaultPool
	}

	d := &Domain{
		Name: in.Node.Name,
		UUID: uuid.New().String(),
	}

	var disks []diskEntry
	if in.Node.Image != "" {
		imageName := filepath.Base(in.Node.Image)
		poolPath := filepath.Join(pool, imageName)
		d.ImageCopy = &ImageCopy{Src: in.Node.Image, Dst: poolPath}
		disks = append(disks, diskEntry{
			Format: ImageFormat(imageName),
			Path:   poolPath,
			Device: "vda",
		})
	} else {
		for i, size := range in.Node.Disks {
			path := filepath.Join(pool, fmt.Sprintf("%s-%d.qcow2", d.UUID, i))
			d.NewDisks = append(d.NewDisks, DiskCreate{Path: path, SizeGiB: size})
			disks = append(disks, diskEntry{
				Format: "qcow2",
				Path:   path,
				Device: fmt.Sprintf("vd%c", 'a'+i),
			})
		}
	}

	metaTags := nodeMetaTags(in.Stand, in.NodeType, in.Node)
	if in.NetworkOwner {
		metaTags = append(metaTags, networkMetaTag(in.Network))
	}

	boot := `<boot dev="hd"/>`
	if in.Boot == BootNetwork {
		boot = `<boot dev="network"/><boot dev="hd"/>`
	}

	ifaceType, ifaceAttr := "bridge", "bridge"
	if in.Network.Managed {
		ifaceType, ifaceAttr = "network", "network"
	}

	var b strings.Builder
	err := domainTmpl.Execute(&b, struct {
		Name            string
		UUID            string
		MetaNS          string
		MetaURI         string
		MetaTags        []string
		MemoryKiB       int
		Cores           int
		Boot            string
		Disks           []diskEntry
		IfaceType       string
		IfaceSourceAttr string
		IfaceSource     string
	}{
		Name:      d.Name,
		UUID:      d.UUID,
		MetaNS:    MetaNamespace,
		MetaURI:   MetaNamespaceURI,
		MetaTags:  metaTags,
		MemoryKiB: in.Node.Memory << 10, // libvirt wants KiB
		Cores:     in.Node.Cores,
		Boot:      boot,
		Disks:     disks,

		IfaceType:       ifaceType,
		IfaceSourceAttr: ifaceAttr,
		IfaceSource:     in.Network.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render domain descriptor: %w", err)
	}

	d.XML = b.String()
	return d, nil
}

// ImageFormat infers the libvirt driver type from the image filename
func ImageFormat(name string) string {
	if strings.HasSuffix(name, "qcow2") {
		return "qcow2"
	}
	return "raw"
}
