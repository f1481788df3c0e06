package history

import (
	"context"
	"fmt"

	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/internal/resolver"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// GetTag resolves a UID prefix and returns the latest cached result for it.
// Resolution errors come back unwrapped so callers can use the resolver
// predicates; an entry that expires between resolve and read is a TagNotFoundError.
func GetTag(ctx context.Context, store Store, prefix string) (*spooltag.ScanResult, error) {
	uid, err := resolver.ResolveTagUID(ctx, store, prefix)
	if err != nil {
		return nil, err
	}

	res, err := store.Latest(ctx, uid)
	if err != nil {
		if publish.IsNotFound(err) {
			return nil, &TagNotFoundError{UID: uid}
		}
		return nil, fmt.Errorf("failed to fetch tag result: %w", err)
	}
	return res, nil
}

// TagNotFoundError represents a specific "tag not cached" error.
type TagNotFoundError struct {
	UID string
}

func (e *TagNotFoundError) Error() string {
	return fmt.Sprintf("no cached result for tag '%s'", e.UID)
}

// IsNotFound returns true if err means no cached result exists, whether the
// prefix matched nothing or the entry expired.
func IsNotFound(err error) bool {
	_, ok := err.(*TagNotFoundError)
	return ok || resolver.IsNotFoundError(err)
}
