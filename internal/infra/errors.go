package infra

import "errors"

// Driver errors that can be checked with errors.Is(). Validation and
// conflict errors are always reported before any hypervisor mutation.
var (
	// ErrStandInvalid is returned when a stand fails its validity check
	ErrStandInvalid = errors.New("stand is invalid")

	// ErrTooManyBootstraps is returned when a stand carries more than
	// one bootstrap node
	ErrTooManyBootstraps = errors.New("multiple bootstraps are not supported")

	// ErrDomainExists is returned when a stand's domain name is already
	// taken on the hypervisor
	ErrDomainExists = errors.New("domain already exists")

	// ErrNetworkExists is returned when a managed network is already
	// defined on the hypervisor
	ErrNetworkExists = errors.New("network already exists")

	// ErrUnknownNodeType is returned when discovery meets a node type
	// tag it cannot classify
	ErrUnknownNodeType = errors.New("unknown node type")
)
