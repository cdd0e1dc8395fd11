package shim

import (
	"errors"
	"fmt"

	"github.com/branchfs/branchfs/wire"
)

// errNoDescriptor means the daemon answered an open but the transport
// could not deliver the descriptor. The caller falls back natively.
var errNoDescriptor = errors.New("shim: no descriptor received")

func errUnexpectedResponse(resp wire.Response) error {
	return fmt.Errorf("shim: unexpected response %s", resp.Tag())
}
