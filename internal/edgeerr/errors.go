// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package edgeerr defines the typed error taxonomy the dispatcher uses to
// translate adapter failures into HTTP responses and metrics buckets.
package edgeerr

import (
	"fmt"
	"net/http"
)

// Kind distinguishes the error classes the core must propagate distinctly.
type Kind int

const (
	// KindConfigInvalid is fatal at config load time.
	KindConfigInvalid Kind = iota
	KindNoVHost
	KindAccessDenied
	KindNotAuthorized
	KindRateLimited
	KindRequestTooLarge
	KindHeadersTooLarge
	KindBreakerOpen
	KindUpstreamUnavailable
	KindUpstreamTimeout
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindNoVHost:
		return "NoVHost"
	case KindAccessDenied:
		return "AccessDenied"
	case KindNotAuthorized:
		return "NotAuthorized"
	case KindRateLimited:
		return "RateLimited"
	case KindRequestTooLarge:
		return "RequestTooLarge"
	case KindHeadersTooLarge:
		return "HeadersTooLarge"
	case KindBreakerOpen:
		return "BreakerOpen"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindUpstreamTimeout:
		return "UpstreamTimeout"
	case KindNotFound:
		return "NotFound"
	default:
		return "Internal"
	}
}

// Status returns the HTTP status this error kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindConfigInvalid:
		return http.StatusInternalServerError
	case KindNoVHost:
		return http.StatusNotFound
	case KindAccessDenied:
		return http.StatusForbidden
	case KindNotAuthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindHeadersTooLarge:
		return http.StatusRequestHeaderFieldsTooLarge
	case KindBreakerOpen:
		return http.StatusServiceUnavailable
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error the core raises; it always carries a Kind and
// may wrap an underlying cause. RetryAfter is only meaningful for
// KindRateLimited. CorrelationID is filled in for KindInternal.
type Error struct {
	Kind          Kind
	Message       string
	Cause         error
	RetryAfter    int // seconds, RateLimited only
	CorrelationID string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a typed error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// RateLimited builds a KindRateLimited error carrying a Retry-After value.
func RateLimited(retryAfterSeconds int) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfterSeconds}
}

// Internal builds a KindInternal error stamped with a correlation id, for
// panics caught at the dispatcher boundary and other invariant violations.
func Internal(correlationID string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Cause: cause, CorrelationID: correlationID}
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	if ok {
		return e, true
	}
	var target *Error
	if ok := errorsAs(err, &target); ok {
		return target, true
	}
	return nil, false
}

// errorsAs is a tiny indirection over errors.As kept local so this file has
// a single stdlib import line for error unwrapping.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
