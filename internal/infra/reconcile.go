package infra

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/descriptor"
	"github.com/jbweber/homelab/standctl/internal/domain"
	"github.com/jbweber/homelab/standctl/internal/virsh"
)

// ListStands reconstructs every stand on the host purely from live
// domain descriptors. Domains without the stand tag are unmanaged user
// VMs and are skipped. Grouping happens by stand name; the network is
// decoded from bootstrap domains, which are the only ones carrying the
// ownership tag. The listing never mutates hypervisor state.
func (d *Driver) ListStands(ctx context.Context) ([]*domain.Stand, error) {
	names, err := d.hv.ListDomains(ctx, virsh.StateAll)
	if err != nil {
		return nil, err
	}

	stands := map[string]*domain.Stand{}
	var order []string

	for _, name := range names {
		raw, err := d.hv.DumpXML(ctx, name)
		if err != nil {
			return nil, err
		}
		doc, err := parseDomainDoc(raw)
		if err != nil {
			return nil, err
		}

		standName := doc.standName()
		if standName == "" {
			// Not managed by this tool
			continue
		}

		stand, ok := stands[standName]
		if !ok {
			stand = domain.EmptyStand(standName)
			stands[standName] = stand
			order = append(order, standName)
		}

		switch doc.nodeType() {
		case descriptor.NodeTypeBootstrap:
			node, err := doc.node()
			if err != nil {
				d.quarantine(stand, doc.Name, err)
				continue
			}
			net, err := doc.network()
			if err != nil {
				d.quarantine(stand, doc.Name, err)
				continue
			}
			stand.Bootstraps = append(stand.Bootstraps, domain.BootstrapFromNode(node))
			stand.Network = net

		case descriptor.NodeTypeBaremetal:
			node, err := doc.node()
			if err != nil {
				d.quarantine(stand, doc.Name, err)
				continue
			}
			stand.Baremetals = append(stand.Baremetals, node)

		case "":
			// Stand tag without a role: leftovers of an interrupted
			// creation. Report, do not guess.
			d.quarantine(stand, doc.Name, fmt.Errorf("domain %s: missing node type tag", doc.Name))

		default:
			// Misclassifying topology silently is worse than stopping
			return nil, fmt.Errorf("domain %s: %w: %q", doc.Name, ErrUnknownNodeType, doc.nodeType())
		}
	}

	result := make([]*domain.Stand, 0, len(order))
	for _, name := range order {
		result = append(result, stands[name])
	}
	return result, nil
}

// GetStand returns a single reconstructed stand by name
func (d *Driver) GetStand(ctx context.Context, name string) (*domain.Stand, error) {
	stands, err := d.ListStands(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range stands {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

func (d *Driver) quarantine(stand *domain.Stand, domainName string, err error) {
	d.log.Warn("quarantined domain with undecodable metadata",
		zap.String("stand", stand.Name),
		zap.String("domain", domainName),
		zap.Error(err))
	stand.Quarantined = append(stand.Quarantined, domainName)
}
