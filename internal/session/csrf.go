// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"crypto/subtle"
	"net/http"
)

// CSRFHeaderName is the primary header a client must echo the
// session's CSRF token back in, for mutating requests.
const CSRFHeaderName = "X-CSRF-Token"

// csrfHeaderNameAlt is accepted as a synonym, matching frameworks that
// name their CSRF cookie/header "XSRF" instead of "CSRF".
const csrfHeaderNameAlt = "X-XSRF-Token"

// mutatingMethods mirrors session.rs's validate_csrf_token: GET/HEAD/
// OPTIONS/TRACE never need a CSRF check.
var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// ValidateCSRF reports whether r's CSRF token matches sess's, required
// only for mutating HTTP methods. Non-mutating methods always pass.
func ValidateCSRF(r *http.Request, sess *Session) bool {
	if !mutatingMethods[r.Method] {
		return true
	}
	token := extractCSRFToken(r)
	if token == "" || sess.CSRFToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(sess.CSRFToken)) == 1
}

func extractCSRFToken(r *http.Request) string {
	if t := r.Header.Get(CSRFHeaderName); t != "" {
		return t
	}
	if t := r.Header.Get(csrfHeaderNameAlt); t != "" {
		return t
	}
	return r.FormValue("csrf_token")
}
