package service

import (
	"fmt"

	"mlsrelay/internal/domain"
)

// Named conditions layered on the base taxonomy so callers can tell the two
// commit failure modes apart.
var (
	ErrCommitEpochRequired = domainErrf(domain.ErrValidation, "commit requires an epoch")
	ErrCommitConflict      = domainErrf(domain.ErrConflict, "a commit for this epoch is already pending")
)

func domainErrf(base error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
