// Package virsh wraps the hypervisor's CLI surface. It is the only
// package that issues privileged commands to the host. It carries no
// topology knowledge: callers hand it names and descriptor strings.
package virsh

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DomainState filters domain listings
type DomainState string

const (
	// StateAll lists every defined domain
	StateAll DomainState = "all"
	// StateInactive lists shut-off domains
	StateInactive DomainState = "inactive"
	// StatePaused lists suspended domains
	StatePaused DomainState = "state-paused"
)

var (
	macRe        = regexp.MustCompile(`<mac address='(.*?)'`)
	sourceNetRe  = regexp.MustCompile(`<source network='(.*?)'`)
	sourceFileRe = regexp.MustCompile(`<source file='(.*?)'`)
	ipv4Re       = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+`)
)

// Virsh is the hypervisor command facade. All operations run with host
// administrator privilege and affect real host state. Failures surface
// as errors; there are no retries and no per-call timeouts beyond what
// the context imposes.
type Virsh struct {
	runner Runner
}

// New returns a facade backed by real host commands
func New() *Virsh {
	return &Virsh{runner: ExecRunner{}}
}

// NewWithRunner returns a facade backed by a custom runner, used in tests
func NewWithRunner(r Runner) *Virsh {
	return &Virsh{runner: r}
}

func (v *Virsh) run(ctx context.Context, args ...string) error {
	return v.runner.Run(ctx, "sudo", args...)
}

func (v *Virsh) output(ctx context.Context, args ...string) ([]byte, error) {
	return v.runner.Output(ctx, "sudo", args...)
}

// ListDomains returns the names of domains in the given state
func (v *Virsh) ListDomains(ctx context.Context, state DomainState) ([]string, error) {
	out, err := v.output(ctx, "virsh", "list", "--"+string(state), "--name")
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	return splitLines(out), nil
}

// DumpXML returns the full descriptor of a domain
func (v *Virsh) DumpXML(ctx context.Context, name string) (string, error) {
	out, err := v.output(ctx, "virsh", "dumpxml", name)
	if err != nil {
		return "", fmt.Errorf("failed to dump domain %s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// HasDomain reports whether a domain with the given name is defined
func (v *Virsh) HasDomain(ctx context.Context, name string) (bool, error) {
	domains, err := v.ListDomains(ctx, StateAll)
	if err != nil {
		return false, err
	}
	return contains(domains, name), nil
}

// IsActiveDomain reports whether the domain is currently running
func (v *Virsh) IsActiveDomain(ctx context.Context, name string) (bool, error) {
	inactive, err := v.ListDomains(ctx, StateInactive)
	if err != nil {
		return false, err
	}
	return !contains(inactive, name), nil
}

// DefineDomain defines a domain from its descriptor and starts it
func (v *Virsh) DefineDomain(ctx context.Context, name, xml string) error {
	path, cleanup, err := writeDescriptor(name, xml)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := v.run(ctx, "virsh", "define", path); err != nil {
		return fmt.Errorf("failed to define domain %s: %w", name, err)
	}
	if err := v.run(ctx, "virsh", "start", name); err != nil {
		return fmt.Errorf("failed to start domain %s: %w", name, err)
	}
	return nil
}

// DestroyDomain stops and undefines a domain and removes its disk
// files. Destroying an already-stopped or already-undefined domain is
// not an error.
func (v *Virsh) DestroyDomain(ctx context.Context, name string) error {
	disks, _ := v.DomainDisks(ctx, name)

	if active, err := v.IsActiveDomain(ctx, name); err == nil && active {
		// Already-destroyed domains are fine
		_ = v.run(ctx, "virsh", "destroy", name)
	}

	// Already-undefined domains are fine as well
	_ = v.run(ctx, "virsh", "undefine", name)

	for _, disk := range disks {
		if err := v.RemoveFile(ctx, disk); err != nil {
			return fmt.Errorf("failed to remove disk of domain %s: %w", name, err)
		}
	}
	return nil
}

// SuspendDomain pauses a running domain
func (v *Virsh) SuspendDomain(ctx context.Context, name string) error {
	return v.run(ctx, "virsh", "suspend", name)
}

// ResumeDomain resumes a paused domain
func (v *Virsh) ResumeDomain(ctx context.Context, name string) error {
	return v.run(ctx, "virsh", "resume", name)
}

// DomainDisks returns the file-backed disk paths of a domain
func (v *Virsh) DomainDisks(ctx context.Context, name string) ([]string, error) {
	xml, err := v.DumpXML(ctx, name)
	if err != nil {
		return nil, err
	}
	var disks []string
	for _, m := range sourceFileRe.FindAllStringSubmatch(xml, -1) {
		disks = append(disks, m[1])
	}
	return disks, nil
}

// DomainIP resolves the current IPv4 address of a domain through the
// DHCP leases of the networks its interfaces attach to. Returns an
// empty string when no lease is found.
func (v *Virsh) DomainIP(ctx context.Context, name string) (string, error) {
	xml, err := v.DumpXML(ctx, name)
	if err != nil {
		return "", err
	}

	macs := macRe.FindAllStringSubmatch(xml, -1)
	nets := sourceNetRe.FindAllStringSubmatch(xml, -1)
	if len(macs) == 0 || len(nets) == 0 {
		return "", nil
	}

	for i, mac := range macs {
		if i >= len(nets) {
			break
		}
		out, err := v.output(ctx, "virsh", "net-dhcp-leases", nets[i][1])
		if err != nil {
			return "", fmt.Errorf("failed to query leases of %s: %w", nets[i][1], err)
		}
		for _, line := range splitLines(out) {
			if strings.Contains(line, mac[1]) {
				if ip := ipv4Re.FindString(line); ip != "" {
					return ip, nil
				}
			}
		}
	}
	return "", nil
}

// ListNetworks returns the names of all defined networks
func (v *Virsh) ListNetworks(ctx context.Context) ([]string, error) {
	out, err := v.output(ctx, "virsh", "net-list", "--all", "--name")
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	return splitLines(out), nil
}

// HasNetwork reports whether a network with the given name is defined
func (v *Virsh) HasNetwork(ctx context.Context, name string) (bool, error) {
	nets, err := v.ListNetworks(ctx)
	if err != nil {
		return false, err
	}
	return contains(nets, name), nil
}

// DefineNetwork defines a network from its descriptor, starts it and
// marks it auto-starting.
func (v *Virsh) DefineNetwork(ctx context.Context, name, xml string) error {
	path, cleanup, err := writeDescriptor(name, xml)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := v.run(ctx, "virsh", "net-define", path); err != nil {
		return fmt.Errorf("failed to define network %s: %w", name, err)
	}
	if err := v.run(ctx, "virsh", "net-start", name); err != nil {
		return fmt.Errorf("failed to start network %s: %w", name, err)
	}
	if err := v.run(ctx, "virsh", "net-autostart", name); err != nil {
		return fmt.Errorf("failed to autostart network %s: %w", name, err)
	}
	return nil
}

// DestroyNetwork stops and undefines a network. A network that is
// already stopped or undefined is not an error.
func (v *Virsh) DestroyNetwork(ctx context.Context, name string) error {
	_ = v.run(ctx, "virsh", "net-destroy", name)
	_ = v.run(ctx, "virsh", "net-undefine", name)
	return nil
}

// CreateDisk allocates an empty qcow2 disk of the given size
func (v *Virsh) CreateDisk(ctx context.Context, path string, sizeGiB int) error {
	if err := v.run(ctx, "qemu-img", "create", "-f", "qcow2", path, fmt.Sprintf("%dG", sizeGiB)); err != nil {
		return fmt.Errorf("failed to create disk %s: %w", path, err)
	}
	return nil
}

// CopyImage places a copy of a base image at dst, replacing any
// previous copy.
func (v *Virsh) CopyImage(ctx context.Context, src, dst string) error {
	if err := v.run(ctx, "rm", "-f", dst); err != nil {
		return fmt.Errorf("failed to remove old image %s: %w", dst, err)
	}
	if err := v.run(ctx, "cp", src, dst); err != nil {
		return fmt.Errorf("failed to copy image to %s: %w", dst, err)
	}
	return nil
}

// CopyFile copies a file on the host, used for disk backups
func (v *Virsh) CopyFile(ctx context.Context, src, dst string) error {
	if err := v.run(ctx, "cp", src, dst); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

// RemoveFile deletes a host file if it exists
func (v *Virsh) RemoveFile(ctx context.Context, path string) error {
	return v.run(ctx, "rm", "-f", path)
}

// writeDescriptor stores a descriptor in a temp file for virsh to read
func writeDescriptor(name, xml string) (string, func(), error) {
	f, err := os.CreateTemp("", "standctl-"+name+"-*.xml")
	if err != nil {
		return "", nil, fmt.Errorf("failed to write descriptor for %s: %w", name, err)
	}
	if _, err := f.WriteString(xml); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to write descriptor for %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to write descriptor for %s: %w", name, err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

func splitLines(out []byte) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func contains(items []string, name string) bool {
	for _, item := range items {
		if item == name {
			return true
		}
	}
	return false
}
