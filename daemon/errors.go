package daemon

import (
	"errors"
	"fmt"

	"github.com/branchfs/branchfs/core"
	"github.com/branchfs/branchfs/wire"
)

// toErrorResp maps an engine error onto the wire envelope. Path and
// argument problems are category 2, unsupported operations category 3,
// anything else category 4.
func toErrorResp(tag wire.Tag, err error) *wire.ErrorResp {
	category := wire.CategoryInternal
	switch {
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrAlreadyExists),
		errors.Is(err, core.ErrInvalidArgument),
		errors.Is(err, core.ErrAccessDenied),
		errors.Is(err, core.ErrNoSpace),
		errors.Is(err, core.ErrBusy):
		category = wire.CategoryPath
	case errors.Is(err, core.ErrUnsupported):
		category = wire.CategoryProtocol
	}
	return &wire.ErrorResp{
		Category: category,
		Message:  fmt.Sprintf("%s: %s", tag, err),
	}
}
