package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/mvkv/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory creates the engine a store writes to. It is passed to the store
// constructors explicitly, there is no global engine registry.
type DBFactory func() (db.KVEngine, error)

// Kind names a store variant
type Kind string

const (
	KindLocal        Kind = "local" // single version, no history
	KindMultiVersion Kind = "mv"    // versioned, commit DAG, mergeable
)

// Entry is one key-value pair returned by Entries
type Entry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// IStore is the surface shared by all store variants.
// Every method returns a *Error (nil on success) as its error value.
type IStore interface {
	// Put inserts or updates a key-value pair.
	Put(key string, value []byte) (err error)
	// Delete removes a key. Deleting a key that does not exist returns a
	// RetCNotFound error.
	Delete(key string) (err error)
	// Clear removes every key.
	Clear() (err error)
	// Get returns the value for a key. loaded is false if the key does not exist.
	Get(key string) (value []byte, loaded bool, err error)
	// Has reports whether a key exists.
	Has(key string) (loaded bool, err error)
	// Entries returns all pairs whose key starts with prefix, ordered by key.
	Entries(prefix string) (entries []Entry, err error)
	// GetDBInfo returns metadata about the store and its engine.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close releases the store and its engine.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code and a message
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Is makes errors.Is(err, &Error{Code: c}) match any *Error with code c
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of err. nil is RetCSuccess, errors that are not
// a *Error are RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

func IsNotFound(err error) bool       { return err != nil && CodeOf(err) == RetCNotFound }
func IsInvalidArgs(err error) bool    { return err != nil && CodeOf(err) == RetCInvalidArgs }
func IsUnexpectedData(err error) bool { return err != nil && CodeOf(err) == RetCUnexpectedData }
func IsBusy(err error) bool           { return err != nil && CodeOf(err) == RetCBusy }
func IsCorrupted(err error) bool      { return err != nil && CodeOf(err) == RetCCorrupted }
func IsIOFailure(err error) bool      { return err != nil && CodeOf(err) == RetCIOFailure }

// FromEngine converts an engine error into a store error
func FromEngine(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return NewError(RetCNotFound, err.Error())
	case errors.Is(err, db.ErrCorrupted):
		return NewError(RetCCorrupted, err.Error())
	case errors.Is(err, db.ErrTooBig):
		return NewError(RetCOutOfMemory, err.Error())
	case errors.Is(err, db.ErrReadOnly), errors.Is(err, db.ErrTxnDone):
		return NewError(RetCInternalError, err.Error())
	default:
		var e *Error
		if errors.As(err, &e) {
			return err
		}
		return NewError(RetCIOFailure, err.Error())
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the store variant.
	RetCInvalidArgs                         // 3: Malformed id, key or size bound violation.
	RetCNotFound                            // 4: Key, commit or version does not exist.
	RetCUnexpectedData                      // 5: DAG invariant violation or malformed record.
	RetCBusy                                // 6: A write transaction is already active.
	RetCOutOfMemory                         // 7: Allocation or engine size limit exceeded.
	RetCCorrupted                           // 8: The engine reported an irrecoverable error.
	RetCIOFailure                           // 9: The engine failed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidArgs:
		return "InvalidArgs"
	case RetCNotFound:
		return "NotFound"
	case RetCUnexpectedData:
		return "UnexpectedData"
	case RetCBusy:
		return "Busy"
	case RetCOutOfMemory:
		return "OutOfMemory"
	case RetCCorrupted:
		return "Corrupted"
	case RetCIOFailure:
		return "IOFailure"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
