// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateCSRFSkipsSafeMethods(t *testing.T) {
	sess := New(time.Minute)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.True(t, ValidateCSRF(r, sess))
}

func TestValidateCSRFRequiresMatchingTokenOnMutatingMethods(t *testing.T) {
	sess := New(time.Minute)
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	require.False(t, ValidateCSRF(r, sess))

	r.Header.Set(CSRFHeaderName, sess.CSRFToken)
	require.True(t, ValidateCSRF(r, sess))
}

func TestValidateCSRFRejectsWrongToken(t *testing.T) {
	sess := New(time.Minute)
	r := httptest.NewRequest(http.MethodDelete, "/", nil)
	r.Header.Set(CSRFHeaderName, "wrong-token")
	require.False(t, ValidateCSRF(r, sess))
}

func TestValidateCSRFAcceptsXSRFHeaderSynonym(t *testing.T) {
	sess := New(time.Minute)
	r := httptest.NewRequest(http.MethodPut, "/", nil)
	r.Header.Set(csrfHeaderNameAlt, sess.CSRFToken)
	require.True(t, ValidateCSRF(r, sess))
}
