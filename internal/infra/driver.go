// Package infra orchestrates stand lifecycle against the hypervisor:
// discovery by metadata reconciliation, creation and teardown. The
// hypervisor itself is the only persistent store; stands are recomputed
// from live domain descriptors on every listing.
package infra

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/descriptor"
	"github.com/jbweber/homelab/standctl/internal/domain"
	"github.com/jbweber/homelab/standctl/internal/virsh"
)

// Hypervisor is the facade surface the driver consumes. *virsh.Virsh
// satisfies it; tests substitute a recording fake.
type Hypervisor interface {
	ListDomains(ctx context.Context, state virsh.DomainState) ([]string, error)
	DumpXML(ctx context.Context, name string) (string, error)
	HasDomain(ctx context.Context, name string) (bool, error)
	DefineDomain(ctx context.Context, name, xml string) error
	DestroyDomain(ctx context.Context, name string) error
	HasNetwork(ctx context.Context, name string) (bool, error)
	DefineNetwork(ctx context.Context, name, xml string) error
	DestroyNetwork(ctx context.Context, name string) error
	CreateDisk(ctx context.Context, path string, sizeGiB int) error
	CopyImage(ctx context.Context, src, dst string) error
	RemoveFile(ctx context.Context, path string) error
	DomainIP(ctx context.Context, name string) (string, error)
}

// Driver implements the stand lifecycle operations
type Driver struct {
	hv   Hypervisor
	pool string
	log  *zap.Logger
}

// New creates a driver. pool may be empty to use the default storage
// pool; log may be nil.
func New(hv Hypervisor, pool string, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{hv: hv, pool: pool, log: log}
}

// CreateStand realizes a stand on the hypervisor. All preconditions are
// checked before the first mutation; afterwards each step must succeed
// or the operation aborts. There is no automatic rollback beyond the
// per-domain disk cleanup; a retry relies on the idempotent teardown.
func (d *Driver) CreateStand(ctx context.Context, stand *domain.Stand) error {
	if len(stand.Bootstraps) > 1 {
		return fmt.Errorf("stand %s: %w", stand.Name, ErrTooManyBootstraps)
	}
	if !stand.IsValid() {
		return fmt.Errorf("stand %s: %w", stand.Name, ErrStandInvalid)
	}

	for _, name := range stand.DomainNames() {
		exists, err := d.hv.HasDomain(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("domain %s: %w", name, ErrDomainExists)
		}
	}

	if stand.Network.Managed {
		exists, err := d.hv.HasNetwork(ctx, stand.Network.Name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("network %s: %w", stand.Network.Name, ErrNetworkExists)
		}

		xml, err := descriptor.NewNetwork(stand.Network)
		if err != nil {
			return err
		}
		if err := d.hv.DefineNetwork(ctx, stand.Network.Name, xml); err != nil {
			return err
		}
		d.log.Info("created network",
			zap.String("network", stand.Network.Name),
			zap.String("cidr", stand.Network.CIDR.String()),
			zap.Bool("dhcp", stand.Network.DHCP))
	}

	// Bootstraps first: they carry the network ownership metadata that
	// discovery later decodes the stand network from.
	for _, b := range stand.Bootstraps {
		err := d.createDomain(ctx, descriptor.DomainInput{
			Node:         b.Node,
			Stand:        stand.Name,
			Network:      stand.Network,
			Boot:         descriptor.BootHD,
			NodeType:     descriptor.NodeTypeBootstrap,
			NetworkOwner: true,
			Pool:         d.pool,
		})
		if err != nil {
			return err
		}
	}

	for _, n := range stand.Baremetals {
		err := d.createDomain(ctx, descriptor.DomainInput{
			Node:     n,
			Stand:    stand.Name,
			Network:  stand.Network,
			Boot:     descriptor.BootNetwork,
			NodeType: descriptor.NodeTypeBaremetal,
			Pool:     d.pool,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// createDomain synthesizes one domain and realizes it: image copy or
// disk allocation first, then define+start. Disks allocated for a
// domain that fails to come up are removed best-effort.
func (d *Driver) createDomain(ctx context.Context, in descriptor.DomainInput) error {
	dom, err := descriptor.NewDomain(in)
	if err != nil {
		return err
	}

	if dom.ImageCopy != nil {
		if err := d.hv.CopyImage(ctx, dom.ImageCopy.Src, dom.ImageCopy.Dst); err != nil {
			return err
		}
	}

	var created []string
	for _, disk := range dom.NewDisks {
		if err := d.hv.CreateDisk(ctx, disk.Path, disk.SizeGiB); err != nil {
			d.removeDisks(ctx, created)
			return err
		}
		created = append(created, disk.Path)
	}

	if err := d.hv.DefineDomain(ctx, dom.Name, dom.XML); err != nil {
		d.removeDisks(ctx, created)
		return err
	}

	d.log.Info("created domain",
		zap.String("domain", dom.Name),
		zap.String("stand", in.Stand),
		zap.String("node_type", in.NodeType))
	return nil
}

func (d *Driver) removeDisks(ctx context.Context, paths []string) {
	for _, path := range paths {
		if err := d.hv.RemoveFile(ctx, path); err != nil {
			d.log.Warn("failed to clean up disk", zap.String("path", path), zap.Error(err))
		}
	}
}

// DeleteStand tears a stand down: domains first so nothing keeps
// running on a half-removed network, then the managed network. A
// network this tool does not own is never touched. The operation is
// idempotent.
func (d *Driver) DeleteStand(ctx context.Context, stand *domain.Stand) error {
	for _, name := range stand.DomainNames() {
		if err := d.hv.DestroyDomain(ctx, name); err != nil {
			return fmt.Errorf("failed to destroy domain %s: %w", name, err)
		}
		d.log.Info("destroyed domain", zap.String("domain", name))
	}

	if stand.Network.Managed {
		if err := d.hv.DestroyNetwork(ctx, stand.Network.Name); err != nil {
			return fmt.Errorf("failed to destroy network %s: %w", stand.Network.Name, err)
		}
		d.log.Info("destroyed network", zap.String("network", stand.Network.Name))
	}
	return nil
}

// BootstrapIP resolves the DHCP-leased address of the stand's first
// bootstrap, empty when no lease is present yet.
func (d *Driver) BootstrapIP(ctx context.Context, stand *domain.Stand) (string, error) {
	if len(stand.Bootstraps) == 0 {
		return "", nil
	}
	return d.hv.DomainIP(ctx, stand.Bootstraps[0].Name)
}
