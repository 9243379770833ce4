package errorx

import (
	"fmt"

	"github.com/dogmatiq/storekit/engine"
)

// Wrap adds additional context to an error.
//
// The errors defined by the engine package are left as-is so that callers see
// exactly the error the engine contract describes.
func Wrap(err *error, format string, args ...any) {
	if err == nil {
		panic("err must not be nil")
	}

	if *err == nil {
		return
	}

	if engine.IsVersionError(*err) {
		return
	}

	if engine.IsCollectionNotFound(*err) {
		return
	}

	if engine.IsCollectionExists(*err) {
		return
	}

	*err = fmt.Errorf(format+": %w", append(args, *err)...)
}
