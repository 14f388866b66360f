package nse

import (
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindNetwork covers connection failures and timeouts.
	KindNetwork Kind = iota
	// KindStatus is a non-2xx response that survived every retry.
	KindStatus
	// KindMalformed is a body that could not be decoded.
	KindMalformed
	// KindEmpty is a well formed response without any records.
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindStatus:
		return "status"
	case KindMalformed:
		return "malformed"
	case KindEmpty:
		return "empty"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type FetchError struct {
	Kind   Kind
	Source string
	// Status is the last HTTP status seen, 0 when no response arrived.
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == KindStatus:
		return fmt.Sprintf("fetch %s: status %d", e.Source, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %s", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Source, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AuthLike reports whether the site refused the session itself, which
// usually means the cookies expired or were flagged.
func (e *FetchError) AuthLike() bool {
	return e.Kind == KindStatus &&
		(e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}
