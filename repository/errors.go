package repository

import "errors"

// ErrStorage matches every error produced by a failed read or write against the store.
var ErrStorage = errors.New("storage unavailable")

// StorageError wraps a driver error together with the repository operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports ErrStorage so callers can classify without unwrapping.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
