package photostore

import (
	"fmt"
	"strings"
)

// photoExt is appended to references to form object and file names.
const photoExt = ".jpg"

// validateReference rejects references that could escape the store's
// namespace.
func validateReference(ref string) error {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return fmt.Errorf("invalid photo reference: %q", ref)
	}
	return nil
}
