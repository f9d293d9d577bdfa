package linker

import (
	"fmt"

	"github.com/starford/wigen/internal/apperr"
)

// ScanExhaustedError reports a scan that hit its bound before finding both items.
type ScanExhaustedError struct {
	TaskTag     string
	Start       int
	Last        int
	FoundParent bool
	FoundChild  bool
	Reason      string
}

func (e *ScanExhaustedError) Error() string {
	return fmt.Sprintf("linker: task %s not resolved in ids %d..%d (parent found: %t, child found: %t): %s",
		e.TaskTag, e.Start, e.Last, e.FoundParent, e.FoundChild, e.Reason)
}

func (e *ScanExhaustedError) Unwrap() error { return apperr.ErrScanExhausted }
