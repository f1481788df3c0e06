// Package auth drives sector authentication against a tag: every candidate
// key is tried against every sector in a fixed order, hardware errors on an
// attempt count as a rejected key, and a sector that rejects every key is
// simply left unauthenticated.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dyluth/spoolscan/internal/mifare"
)

// ErrAuthenticationExhausted is returned by Check when a required sector
// rejected every candidate key.
var ErrAuthenticationExhausted = errors.New("authentication exhausted for required sectors")

// KeyTarget is anything keys can be tried against. hardware.Session implements it.
type KeyTarget interface {
	Authenticate(ctx context.Context, sector int, key mifare.Key) (bool, error)
}

// Outcome is the per-sector result of one authentication pass.
type Outcome struct {
	Sectors  []mifare.SectorAuth
	Attempts int

	// LastAuthenticated is the sector the tag is authenticated to after the
	// pass, or -1 if the final attempt failed.
	LastAuthenticated int
}

// Sector returns the result for sector, if it was attempted.
func (o Outcome) Sector(sector int) (mifare.SectorAuth, bool) {
	for _, s := range o.Sectors {
		if s.Sector == sector {
			return s, true
		}
	}
	return mifare.SectorAuth{}, false
}

// Authenticated reports whether sector authenticated with any key.
func (o Outcome) Authenticated(sector int) bool {
	s, ok := o.Sector(sector)
	return ok && s.Authenticated
}

// AuthenticatedWith reports whether every listed sector authenticated with a
// key from source.
func (o Outcome) AuthenticatedWith(source mifare.KeySource, sectors ...int) bool {
	for _, sector := range sectors {
		s, ok := o.Sector(sector)
		if !ok || !s.Authenticated || s.KeySource != source {
			return false
		}
	}
	return true
}

// AuthenticatedCount returns how many sectors authenticated.
func (o Outcome) AuthenticatedCount() int {
	n := 0
	for _, s := range o.Sectors {
		if s.Authenticated {
			n++
		}
	}
	return n
}

// Authenticator runs authentication passes under a Policy.
type Authenticator struct {
	policy Policy
	logger *slog.Logger
}

// New creates an authenticator. A nil logger uses slog.Default().
func New(policy Policy, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		policy: policy.withDefaults(),
		logger: logger.With("component", "authenticator"),
	}
}

// Policy returns the effective policy.
func (a *Authenticator) Policy() Policy {
	return a.policy
}

// candidate is one key to try, with where it came from.
type candidate struct {
	key    mifare.Key
	index  int
	source mifare.KeySource
}

func (a *Authenticator) candidates(derived mifare.KeySet) []candidate {
	out := make([]candidate, 0, len(derived)+len(a.policy.FallbackKeys))
	for i, k := range derived {
		out = append(out, candidate{key: k, index: i, source: mifare.KeySourceDerived})
	}
	for i, k := range a.policy.FallbackKeys {
		out = append(out, candidate{key: k, index: i, source: mifare.KeySourceFallback})
	}
	return out
}

// Run tries the derived keys, then the policy's fallback keys, against each
// policy sector in order and stops at the first key a sector accepts. The
// pass performs at most len(candidates) attempts per sector. The only error
// returned is the context's; every hardware error is absorbed as a failed
// attempt.
func (a *Authenticator) Run(ctx context.Context, target KeyTarget, derived mifare.KeySet) (Outcome, error) {
	cands := a.candidates(derived)
	outcome := Outcome{
		Sectors:           make([]mifare.SectorAuth, 0, len(a.policy.Sectors)),
		LastAuthenticated: -1,
	}

	for _, sector := range a.policy.Sectors {
		result := mifare.SectorAuth{Sector: sector, KeyIndex: -1}

		for _, c := range cands {
			if err := ctx.Err(); err != nil {
				return outcome, err
			}

			result.Attempts++
			outcome.Attempts++
			ok, err := target.Authenticate(ctx, sector, c.key)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return outcome, ctxErr
				}
				a.logger.Debug("authentication attempt failed",
					"sector", sector, "key_index", c.index, "key_source", string(c.source), "error", err)
				outcome.LastAuthenticated = -1
				continue
			}
			if !ok {
				outcome.LastAuthenticated = -1
				continue
			}

			result.Authenticated = true
			result.KeyIndex = c.index
			result.KeySource = c.source
			result.Key = c.key
			outcome.LastAuthenticated = sector
			break
		}

		if !result.Authenticated {
			a.logger.Debug("sector rejected every key", "sector", sector, "attempts", result.Attempts)
		}
		outcome.Sectors = append(outcome.Sectors, result)
	}

	return outcome, nil
}

// Check applies the policy's required-sector rule to an outcome.
func (a *Authenticator) Check(o Outcome) error {
	var missing []int
	for _, sector := range a.policy.RequiredSectors {
		if !o.Authenticated(sector) {
			missing = append(missing, sector)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: sectors %v", ErrAuthenticationExhausted, missing)
	}
	return nil
}
