// Copyright 2024 The Safe FIRM Installer authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode is the kind of a failure.
type ErrorCode int

const (
	ErrorCodeNone ErrorCode = iota
	// FormatInvalid is a bad magic or section layout.
	FormatInvalid
	// DigestMismatch is a per-section or whole image digest mismatch.
	DigestMismatch
	// EntryPointUnresolved means an entry point lies outside every section.
	EntryPointUnresolved
	// FingerprintNotRecognized covers signature, trailer and secret sector
	// fingerprints.
	FingerprintNotRecognized
	// StorageUnavailable covers medium and flash access failures.
	StorageUnavailable
	// WriteVerifyFailed means read-back data differed from what was written.
	WriteVerifyFailed
	UserCancelled
	RollbackFailed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeNone:
		return "NONE"
	case FormatInvalid:
		return "FORMAT_INVALID"
	case DigestMismatch:
		return "DIGEST_MISMATCH"
	case EntryPointUnresolved:
		return "ENTRY_POINT_UNRESOLVED"
	case FingerprintNotRecognized:
		return "FINGERPRINT_NOT_RECOGNIZED"
	case StorageUnavailable:
		return "STORAGE_UNAVAILABLE"
	case WriteVerifyFailed:
		return "WRITE_VERIFY_FAILED"
	case UserCancelled:
		return "USER_CANCELLED"
	case RollbackFailed:
		return "ROLLBACK_FAILED"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Sentinels for use with errors.Is; any *Error with the same code matches.
var (
	ErrFormatInvalid            = &Error{Code: FormatInvalid}
	ErrDigestMismatch           = &Error{Code: DigestMismatch}
	ErrEntryPointUnresolved     = &Error{Code: EntryPointUnresolved}
	ErrFingerprintNotRecognized = &Error{Code: FingerprintNotRecognized}
	ErrStorageUnavailable       = &Error{Code: StorageUnavailable}
	ErrWriteVerifyFailed        = &Error{Code: WriteVerifyFailed}
	ErrUserCancelled            = &Error{Code: UserCancelled}
	ErrRollbackFailed           = &Error{Code: RollbackFailed}
)

// Error is a failure of a known kind with a short human readable reason.
type Error struct {
	Code   ErrorCode
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

// Errorf returns an *Error with the given code and formatted reason.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error with the given code and reason caused by err.
func Wrap(code ErrorCode, err error, reason string) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorCodeNone.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorCodeNone
}

// ReasonOf returns the reason of the first *Error in err's chain, falling
// back to err's message.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
