package oidc

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscovery wraps any failure to fetch or parse provider metadata.
	ErrDiscovery = errors.New("oidc discovery failed")
	// ErrMissingIDToken means the token response carried no id_token.
	ErrMissingIDToken = errors.New("no id_token in token response")
)

// ErrorKind classifies exchange failures for server-side logging.
type ErrorKind int

const (
	// KindNetwork covers transport failures and token endpoint rejections.
	KindNetwork ErrorKind = iota + 1
	// KindDecode covers responses that cannot be turned into an ID token.
	KindDecode
	// KindValidation covers signature and standard claim failures.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ExchangeError is returned by Provider.Exchange.
type ExchangeError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or 0 if err is not an ExchangeError.
func KindOf(err error) ErrorKind {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Kind
	}
	return 0
}
