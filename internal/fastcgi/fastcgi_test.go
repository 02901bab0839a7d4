// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package fastcgi

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := header{version: version1, recType: typeStdout, requestID: 1, contentLength: 42, paddingLength: 6}
	got := decodeHeader(h.encode())
	require.Equal(t, h, got)
}

func TestWriteRecordPadsToMultipleOfEight(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRecord(&buf, typeStdin, 1, []byte("hello")))

	h := decodeHeader(buf.Bytes()[:8])
	require.EqualValues(t, 5, h.contentLength)
	require.EqualValues(t, 3, h.paddingLength) // pads 5 -> 8
	require.Len(t, buf.Bytes(), 8+5+3)
}

func TestWriteRecordRejectsOversizedContent(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, maxContentLen+1)
	require.Error(t, writeRecord(&buf, typeStdin, 1, big))
}

func TestWriteStreamTerminatesWithEmptyRecord(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStream(&buf, typeStdin, 1, []byte("ab")))

	first := decodeHeader(buf.Bytes()[:8])
	require.EqualValues(t, 2, first.contentLength)

	rest := buf.Bytes()[8+int(first.contentLength)+int(first.paddingLength):]
	second := decodeHeader(rest[:8])
	require.EqualValues(t, 0, second.contentLength)
}

func TestEncodeNameValuePairsShortLengthForm(t *testing.T) {
	encoded := encodeNameValuePairs(map[string]string{"FOO": "bar"})
	require.Equal(t, byte(3), encoded[0]) // len("FOO")
	require.Equal(t, byte(3), encoded[1]) // len("bar")
	require.Equal(t, "FOObar", string(encoded[2:]))
}

func TestEncodeNameValuePairsLongLengthForm(t *testing.T) {
	longValue := string(make([]byte, 200))
	encoded := encodeNameValuePairs(map[string]string{"K": longValue})
	require.Equal(t, byte(1), encoded[0]) // len("K") fits in 1 byte
	// value length (200) needs the 4-byte form with the high bit set.
	require.NotZero(t, encoded[1]&0x80)
}

func TestBuildEnvSetsRequiredKeys(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/index.php?x=1", bytes.NewBufferString("body"))
	req.RemoteAddr = "10.0.0.5:4444"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", "4")
	req.Header.Set("X-Custom-Header", "value")

	env := buildEnv(req, "/var/www/index.php", "/var/www", "edged/1.0")

	require.Equal(t, "POST", env["REQUEST_METHOD"])
	require.Equal(t, "/var/www/index.php", env["SCRIPT_FILENAME"])
	require.Equal(t, "/index.php", env["SCRIPT_NAME"])
	require.Equal(t, "/var/www", env["DOCUMENT_ROOT"])
	require.Equal(t, "CGI/1.1", env["GATEWAY_INTERFACE"])
	require.Equal(t, "edged/1.0", env["SERVER_SOFTWARE"])
	require.Equal(t, "x=1", env["QUERY_STRING"])
	require.Equal(t, "10.0.0.5", env["REMOTE_ADDR"])
	require.Equal(t, "4444", env["REMOTE_PORT"])
	require.Equal(t, "application/x-www-form-urlencoded", env["CONTENT_TYPE"])
	require.Equal(t, "4", env["CONTENT_LENGTH"])
	require.Equal(t, "value", env["HTTP_X_CUSTOM_HEADER"])
}

func TestResolveScriptAppendsPhpExtension(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.php"), []byte("<?php"), 0o644))

	got, err := resolveScript(root, "/app", []string{"index.php"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "app.php"), got)
}

func TestResolveScriptUsesIndexFileForDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "index.php"), []byte("<?php"), 0o644))

	got, err := resolveScript(root, "/sub", []string{"index.php"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "sub", "index.php"), got)
}

func TestResolveScriptNotFoundSignals404(t *testing.T) {
	root := t.TempDir()
	_, err := resolveScript(root, "/missing", []string{"index.php"})
	require.ErrorIs(t, err, ErrScriptNotFound)
}

func TestParseStdoutExtractsStatusAndHeaders(t *testing.T) {
	raw := []byte("Status: 404 Not Found\r\nContent-Type: text/html\r\n\r\n<h1>nope</h1>")
	status, header, body, err := parseStdout(raw)
	require.NoError(t, err)
	require.Equal(t, 404, status)
	require.Equal(t, "text/html", header.Get("Content-Type"))
	require.Equal(t, "<h1>nope</h1>", string(body))
}

func TestParseStdoutDefaultsStatusTo200(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\n\r\nhi")
	status, _, body, err := parseStdout(raw)
	require.NoError(t, err)
	require.Equal(t, 200, status)
	require.Equal(t, "hi", string(body))
}

// fakePHPFPM answers exactly one FastCGI request on a pipe, returning a
// canned Status/body response, for RoundTrip end-to-end coverage without
// a real php-fpm process.
func fakePHPFPM(t *testing.T, serverConn net.Conn, status int, body string) {
	t.Helper()
	go func() {
		for {
			buf := make([]byte, 8)
			if _, err := readFull(serverConn, buf); err != nil {
				return
			}
			h := decodeHeader(buf)
			content := make([]byte, h.contentLength)
			if h.contentLength > 0 {
				_, _ = readFull(serverConn, content)
			}
			if h.paddingLength > 0 {
				_, _ = readFull(serverConn, make([]byte, h.paddingLength))
			}

			if h.recType == typeStdin && h.contentLength == 0 {
				respBody := []byte("Status: " + itoa(status) + "\r\nContent-Type: text/plain\r\n\r\n" + body)
				_ = writeRecord(serverConn, typeStdout, h.requestID, respBody)
				_ = writeRecord(serverConn, typeEndRequest, h.requestID, make([]byte, 8))
				return
			}
		}
	}()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func TestRoundTripEndToEndOverPipe(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.php"), []byte("<?php"), 0o644))

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	fakePHPFPM(t, serverConn, http.StatusOK, "hello from fpm")

	req := httptest.NewRequest(http.MethodGet, "http://example.com/index.php", nil)
	req.RemoteAddr = "127.0.0.1:1234"

	resultCh := make(chan *Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := RoundTrip(clientConn, req, Config{DocumentRoot: root})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- resp
	}()

	select {
	case resp := <-resultCh:
		require.Equal(t, http.StatusOK, resp.Status)
		require.Equal(t, "hello from fpm", string(resp.Body))
	case err := <-errCh:
		t.Fatalf("RoundTrip failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("RoundTrip timed out")
	}
}
