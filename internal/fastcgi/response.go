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
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// Response is the parsed result of one FastCGI round trip.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Stderr []byte
}

// parseStdout parses the STDOUT concatenation, which is
// an HTTP-like header block, a blank line, then the body. Status: sets
// the HTTP status (default 200); every other header is forwarded as-is.
func parseStdout(stdout []byte) (int, http.Header, []byte, error) {
	reader := bufio.NewReader(bytes.NewReader(stdout))
	tp := textproto.NewReader(reader)

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && len(mimeHeader) == 0 {
		// No header block at all (e.g. empty or malformed output): treat
		// the whole thing as a 200 body, matching a permissive CGI client.
		return http.StatusOK, http.Header{}, stdout, nil
	}

	status := http.StatusOK
	header := make(http.Header, len(mimeHeader))
	for k, values := range mimeHeader {
		if strings.EqualFold(k, "Status") && len(values) > 0 {
			status = parseStatusLine(values[0])
			continue
		}
		for _, v := range values {
			header.Add(k, v)
		}
	}

	body, _ := io.ReadAll(reader)
	return status, header, body, nil
}

// parseStatusLine reads "200 OK" or "404 Not Found" or a bare "404".
func parseStatusLine(line string) int {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return http.StatusOK
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return http.StatusOK
	}
	return code
}
