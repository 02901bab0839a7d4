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

package fastcgi

import (
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/edgehttp/edge/internal/edgelog"
)

const requestID = 1

// Config controls one FastCGI handoff.
type Config struct {
	DocumentRoot   string
	IndexFiles     []string // default index.php
	ServerSoftware string   // default "edged/1.0"
	ExtraParams    map[string]string
}

func (c Config) withDefaults() Config {
	if len(c.IndexFiles) == 0 {
		c.IndexFiles = []string{"index.php"}
	}
	if c.ServerSoftware == "" {
		c.ServerSoftware = "edged/1.0"
	}
	return c
}

// RoundTrip runs the full FastCGI client flow over conn: script
// resolution, BEGIN_REQUEST, PARAMS, STDIN, then reads until
// END_REQUEST and parses the STDOUT block as an HTTP response.
func RoundTrip(conn net.Conn, r *http.Request, cfg Config) (*Response, error) {
	cfg = cfg.withDefaults()

	script, err := resolveScript(cfg.DocumentRoot, r.URL.Path, cfg.IndexFiles)
	if err != nil {
		return nil, err
	}

	env := buildEnv(r, script, cfg.DocumentRoot, cfg.ServerSoftware)
	for k, v := range cfg.ExtraParams {
		env[k] = v
	}

	if err := writeRecord(conn, typeBeginRequest, requestID, beginRequestBody(roleResponder, false)); err != nil {
		return nil, fmt.Errorf("fastcgi: begin request: %w", err)
	}

	if err := writeStream(conn, typeParams, requestID, encodeNameValuePairs(env)); err != nil {
		return nil, fmt.Errorf("fastcgi: params: %w", err)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("fastcgi: reading request body: %w", err)
		}
	}
	if err := writeStream(conn, typeStdin, requestID, body); err != nil {
		return nil, fmt.Errorf("fastcgi: stdin: %w", err)
	}

	stdout, stderr, err := readUntilEnd(conn)
	if err != nil {
		return nil, fmt.Errorf("fastcgi: reading response: %w", err)
	}
	if len(stderr) > 0 {
		edgelog.With(map[string]interface{}{"script": script}).Warn(string(stderr))
	}

	status, header, respBody, err := parseStdout(stdout)
	if err != nil {
		return nil, fmt.Errorf("fastcgi: parsing response: %w", err)
	}

	return &Response{Status: status, Header: header, Body: respBody, Stderr: stderr}, nil
}

// readUntilEnd reads records until FCGI_END_REQUEST, concatenating
// FCGI_STDOUT and FCGI_STDERR content.
func readUntilEnd(r io.Reader) (stdout, stderr []byte, err error) {
	for {
		headerBuf := make([]byte, 8)
		if _, err := io.ReadFull(r, headerBuf); err != nil {
			return nil, nil, err
		}
		h := decodeHeader(headerBuf)

		content := make([]byte, h.contentLength)
		if h.contentLength > 0 {
			if _, err := io.ReadFull(r, content); err != nil {
				return nil, nil, err
			}
		}
		if h.paddingLength > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(h.paddingLength)); err != nil {
				return nil, nil, err
			}
		}

		switch h.recType {
		case typeStdout:
			stdout = append(stdout, content...)
		case typeStderr:
			stderr = append(stderr, content...)
		case typeEndRequest:
			end := decodeEndRequest(content)
			if end.protocolStatus != 0 {
				return stdout, stderr, fmt.Errorf("fastcgi: protocol status %d", end.protocolStatus)
			}
			return stdout, stderr, nil
		}
	}
}
