package ngstore

import (
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrCreateFailed = errors.New("create failed")
	ErrInsertFailed = errors.New("insert failed")
	ErrCanceled     = errors.New("canceled")
	ErrUnsupported  = errors.New("unsupported")
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid")
	ErrReadOnly     = errors.New("store is read only")
)

// CodeOf maps an error returned by this package to its status code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	switch errors.Cause(err) {
	case ErrCreateFailed:
		return CodeCreateFailed
	case ErrInsertFailed:
		return CodeInsertFailed
	case ErrCanceled:
		return CodeCanceled
	case ErrUnsupported:
		return CodeUnsupported
	case ErrNotFound:
		return CodeGetFailed
	case ErrInvalid:
		return CodeInvalid
	}
	return CodeUnexpectedError
}

// isBusy reports whether err is a sqlite lock contention error.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
