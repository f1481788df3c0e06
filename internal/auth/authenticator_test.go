package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/spoolscan/internal/keyderiv"
	"github.com/dyluth/spoolscan/internal/mifare"
)

// scriptedTarget answers each sector's attempts from a script. Once a
// script runs out the sector rejects every further key.
type scriptedTarget struct {
	script   map[int][]answer
	calls    map[int]int
	cancel   func() // invoked on attempt number cancelAt
	cancelAt int
	total    int
}

type answer struct {
	ok  bool
	err error
}

func newScriptedTarget(script map[int][]answer) *scriptedTarget {
	return &scriptedTarget{script: script, calls: make(map[int]int), cancelAt: -1}
}

func (s *scriptedTarget) Authenticate(ctx context.Context, sector int, key mifare.Key) (bool, error) {
	if s.total == s.cancelAt && s.cancel != nil {
		s.cancel()
	}
	s.total++
	n := s.calls[sector]
	s.calls[sector]++
	answers := s.script[sector]
	if n < len(answers) {
		return answers[n].ok, answers[n].err
	}
	return false, nil
}

var (
	fail    = answer{}
	succeed = answer{ok: true}
	hwError = answer{err: errors.New("tag lost")}
)

func TestRun_StopsAtFirstSuccess(t *testing.T) {
	a := New(Policy{Sectors: []int{1}, RequiredSectors: []int{1}}, nil)
	target := newScriptedTarget(map[int][]answer{1: {fail, fail, succeed}})

	outcome, err := a.Run(context.Background(), target, keyderiv.DeriveKeys([]byte{1, 2, 3, 4}))
	require.NoError(t, err)

	assert.Equal(t, 3, target.calls[1])
	assert.Equal(t, 3, outcome.Attempts)

	s, ok := outcome.Sector(1)
	require.True(t, ok)
	assert.True(t, s.Authenticated)
	assert.Equal(t, 2, s.KeyIndex)
	assert.Equal(t, mifare.KeySourceDerived, s.KeySource)
	assert.Equal(t, 1, outcome.LastAuthenticated)
	assert.NoError(t, a.Check(outcome))
}

func TestRun_HardwareErrorIsAFailedAttempt(t *testing.T) {
	a := New(Policy{Sectors: []int{0}}, nil)
	target := newScriptedTarget(map[int][]answer{0: {hwError, hwError, fail, succeed}})

	outcome, err := a.Run(context.Background(), target, keyderiv.DeriveKeys([]byte{1, 2, 3, 4}))
	require.NoError(t, err)

	s, _ := outcome.Sector(0)
	assert.True(t, s.Authenticated)
	assert.Equal(t, 3, s.KeyIndex)
	assert.Equal(t, 4, s.Attempts)
}

func TestRun_ExhaustedSectorDoesNotAbort(t *testing.T) {
	a := New(Policy{
		Sectors:         []int{0, 1, 2},
		RequiredSectors: []int{0, 2},
		FallbackKeys:    []mifare.Key{},
	}, nil)
	target := newScriptedTarget(map[int][]answer{
		0: {succeed},
		// sector 1 rejects everything
		2: {fail, succeed},
	})

	outcome, err := a.Run(context.Background(), target, keyderiv.DeriveKeys([]byte{1, 2, 3, 4}))
	require.NoError(t, err)

	require.Len(t, outcome.Sectors, 3)
	assert.True(t, outcome.Authenticated(0))
	assert.False(t, outcome.Authenticated(1))
	assert.True(t, outcome.Authenticated(2))

	s1, _ := outcome.Sector(1)
	assert.Equal(t, -1, s1.KeyIndex)
	assert.Equal(t, 16, s1.Attempts, "every derived key tried exactly once, no retry")
	assert.Equal(t, 16, target.calls[1])

	assert.Equal(t, 2, outcome.AuthenticatedCount())
	assert.NoError(t, a.Check(outcome), "sector 1 is not required")
}

func TestRun_FallbackKeys(t *testing.T) {
	a := New(Policy{Sectors: []int{1}}, nil)

	// 16 derived keys fail, then the second fallback key (NDEF) is accepted.
	script := make([]answer, 0, 18)
	for i := 0; i < 16; i++ {
		script = append(script, fail)
	}
	script = append(script, fail, succeed)
	target := newScriptedTarget(map[int][]answer{1: script})

	outcome, err := a.Run(context.Background(), target, keyderiv.DeriveKeys([]byte{1, 2, 3, 4}))
	require.NoError(t, err)

	s, _ := outcome.Sector(1)
	assert.True(t, s.Authenticated)
	assert.Equal(t, mifare.KeySourceFallback, s.KeySource)
	assert.Equal(t, 1, s.KeyIndex)
	assert.Equal(t, mifare.KeyNDEF, s.Key)
	assert.False(t, outcome.AuthenticatedWith(mifare.KeySourceDerived, 1))
	assert.True(t, outcome.AuthenticatedWith(mifare.KeySourceFallback, 1))
}

func TestRun_EmptyKeySetUsesFallbackOnly(t *testing.T) {
	a := New(Policy{Sectors: []int{0}}, nil)
	target := newScriptedTarget(map[int][]answer{0: {succeed}})

	outcome, err := a.Run(context.Background(), target, keyderiv.DeriveKeys([]byte{1, 2, 3}))
	require.NoError(t, err)

	s, _ := outcome.Sector(0)
	assert.Equal(t, mifare.KeySourceFallback, s.KeySource)
	assert.Equal(t, mifare.KeyTransport, s.Key)
}

func TestRun_BoundedAttempts(t *testing.T) {
	a := New(Policy{}, nil)
	target := newScriptedTarget(nil)

	outcome, err := a.Run(context.Background(), target, keyderiv.DeriveKeys([]byte{1, 2, 3, 4}))
	require.NoError(t, err)

	perSector := 16 + len(DefaultFallbackKeys)
	assert.Equal(t, perSector*mifare.SectorCount, outcome.Attempts)
	assert.Equal(t, -1, outcome.LastAuthenticated)

	err = a.Check(outcome)
	assert.ErrorIs(t, err, ErrAuthenticationExhausted)
	assert.Contains(t, err.Error(), "[0 1]")
}

func TestRun_LastAuthenticatedResetByLaterFailure(t *testing.T) {
	a := New(Policy{Sectors: []int{0, 1}, FallbackKeys: []mifare.Key{}}, nil)
	target := newScriptedTarget(map[int][]answer{0: {succeed}})

	outcome, err := a.Run(context.Background(), target, keyderiv.DeriveKeys([]byte{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.True(t, outcome.Authenticated(0))
	assert.Equal(t, -1, outcome.LastAuthenticated)
}

func TestRun_CancellationStopsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(Policy{}, nil)
	target := newScriptedTarget(nil)
	target.cancel = cancel
	target.cancelAt = 4

	_, err := a.Run(ctx, target, keyderiv.DeriveKeys([]byte{1, 2, 3, 4}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, target.total)
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr string
	}{
		{name: "defaults are valid", policy: Policy{}},
		{name: "sector out of range", policy: Policy{Sectors: []int{16}}, wantErr: "out of range"},
		{name: "required not attempted", policy: Policy{Sectors: []int{1}, RequiredSectors: []int{0}}, wantErr: "not in the attempted sectors"},
		{name: "bambu sector out of range", policy: Policy{BambuSectors: []int{-1}}, wantErr: "bambu sector"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Len(t, p.Sectors, mifare.SectorCount)
	assert.Equal(t, DefaultRequiredSectors, p.RequiredSectors)
	assert.Equal(t, DefaultFallbackKeys, p.FallbackKeys)
}
