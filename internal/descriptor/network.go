package descriptor

import (
	"fmt"
	"net"
	"strings"
	"text/template"

	"github.com/jbweber/homelab/standctl/internal/domain"
)

var networkTmpl = template.Must(template.New("network").Parse(`<network>
  <name>{{.Name}}</name>
  <forward mode="nat"/>
  <domain name="{{.Name}}"/>
  <ip address="{{.Gateway}}" netmask="{{.Netmask}}">
{{- if .DHCP}}
    <dhcp>
      <range start="{{.RangeStart}}" end="{{.RangeEnd}}"/>
    </dhcp>
{{- end}}
  </ip>
</network>
`))

// NewNetwork renders the libvirt XML for a managed NAT network. The
// gateway sits at the first usable address; the DHCP pool, when
// enabled, spans offsets 10 through 100 of the CIDR.
func NewNetwork(n domain.Network) (string, error) {
	if n.IsDummy() {
		return "", fmt.Errorf("cannot synthesize the dummy network")
	}
	if !n.CIDR.Addr().Is4() {
		return "", fmt.Errorf("network %s: only IPv4 CIDRs are supported", n.Name)
	}

	mask := net.CIDRMask(n.CIDR.Bits(), 32)
	start, end := n.DHCPRange()

	var b strings.Builder
	err := networkTmpl.Execute(&b, struct {
		Name       string
		Gateway    string
		Netmask    string
		DHCP       bool
		RangeStart string
		RangeEnd   string
	}{
		Name:       n.Name,
		Gateway:    n.Gateway().String(),
		Netmask:    net.IP(mask).String(),
		DHCP:       n.DHCP,
		RangeStart: start.String(),
		RangeEnd:   end.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render network descriptor: %w", err)
	}
	return b.String(), nil
}
