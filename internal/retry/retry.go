// Package retry opakuje operace s exponenciálním čekáním.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy určuje počet opakování a rozsah čekání mezi pokusy.
type Policy struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultPolicy: 3 opakování, čekání 1 s až 30 s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		InitialWait: 1 * time.Second,
		MaxWait:     30 * time.Second,
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent označí chybu, kterou nemá smysl opakovat (např. HTTP 4xx).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do spouští op, dokud neuspěje, nevrátí trvalou chybu nebo nedojdou pokusy.
// Vrací poslední chybu operace nebo chybu kontextu.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var lastErr error
	wait := p.InitialWait

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == p.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > p.MaxWait {
			wait = p.MaxWait
		}
	}
	return lastErr
}
