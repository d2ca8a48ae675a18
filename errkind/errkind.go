// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package errkind defines the closed taxonomy of storage/compaction
// failures and the retry policy attached to each kind.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the seven failure kinds a compaction attempt can surface.
type Kind int

const (
	Transient Kind = iota
	RateLimited
	NotFound
	InvariantViolation
	Validation
	Cancelled
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case InvariantViolation:
		return "invariant_violation"
	case Validation:
		return "validation"
	case Cancelled:
		return "cancelled"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Retryable reports whether the generic retry layer should ever retry a
// failure of this kind. NotFound, InvariantViolation, Validation and
// Cancelled are never retried; Transient and RateLimited always are;
// Timeout is surfaced to the scheduler's failure counter instead of being
// retried in place.
func (k Kind) Retryable() bool {
	switch k {
	case Transient, RateLimited:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with the kind that determines how the
// caller's retry layer and the scheduler should react to it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs an *Error around an existing cause. The new Error always
// takes the kind passed in, even when cause is itself an *Error of a
// different Kind.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Cause: cause}
}

// Is reports whether err (or any error it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// JobFailure is the structured, user-visible result of a failed
// compaction attempt (spec.md §7 "User-visible failure").
type JobFailure struct {
	JobID   string `json:"job_id"`
	Kind    Kind   `json:"error_kind"`
	Message string `json:"message"`
}

func FailureFromError(jobID string, err error) JobFailure {
	kind := Transient
	var e *Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	return JobFailure{JobID: jobID, Kind: kind, Message: err.Error()}
}
