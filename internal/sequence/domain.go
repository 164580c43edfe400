// Package sequence issues gap-free, zero-padded numbers per scope (typically a year).
//
// Each (sequence, scope) pair owns one counter row. Next increments it with a single
// upsert so concurrent callers queue on the row lock instead of aborting; a number past
// the width's maximum rolls the increment back.
package sequence

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrScopeInvalid indicates an empty or malformed scope key.
var ErrScopeInvalid = errors.New("sequence: invalid scope")

// Counter is the persisted state of one (sequence, scope) pair.
type Counter struct {
	Sequence          string
	ScopeKey          string
	LastNumber        int64
	IssuedTotal       int64
	LastIssuedAt      *time.Time
	NearLimitWarnedAt *time.Time
}

// Stats summarises a counter against its capacity.
type Stats struct {
	Sequence     string     `json:"sequence"`
	ScopeKey     string     `json:"scopeKey"`
	LastNumber   int64      `json:"lastNumber"`
	LastIssued   string     `json:"lastIssued,omitempty"`
	Max          int64      `json:"max"`
	Remaining    int64      `json:"remaining"`
	UsedPercent  float64    `json:"usedPercent"`
	IssuedTotal  int64      `json:"issuedTotal"`
	LastIssuedAt *time.Time `json:"lastIssuedAt,omitempty"`
	NearLimit    bool       `json:"nearLimit"`
}

// MaxFor returns the largest number a width can hold.
func MaxFor(width int) int64 {
	return int64(math.Pow10(width)) - 1
}

// Format renders scope followed by n zero-padded to width.
func Format(scope string, n int64, width int) string {
	return fmt.Sprintf("%s%0*d", scope, width, n)
}

func validScope(scope string) error {
	if scope == "" || len(scope) > 32 || strings.ContainsAny(scope, " \t\r\n/") {
		return fmt.Errorf("%w: %q", ErrScopeInvalid, scope)
	}
	return nil
}
