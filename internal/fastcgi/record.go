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

// Package fastcgi implements a FastCGI 1.0 Responder client over a TCP
// (or any net.Conn) stream, built from the wire protocol directly rather
// than wrapping a library: available FastCGI users (caddyserver's
// transport, a PHP-FPM exporter) both delegate record framing to code
// that is not itself present here, so this package owns the framing
// layer directly while borrowing caddy's environment-building shape.
package fastcgi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

type recordType uint8

const (
	typeBeginRequest recordType = 1
	typeAbortRequest recordType = 2
	typeEndRequest   recordType = 3
	typeParams       recordType = 4
	typeStdin        recordType = 5
	typeStdout       recordType = 6
	typeStderr       recordType = 7
	typeData         recordType = 8
)

const (
	version1 = 1

	roleResponder uint16 = 1

	maxContentLen = 65535
)

// header is the fixed 8-byte FastCGI record header.
type header struct {
	version       uint8
	recType       recordType
	requestID     uint16
	contentLength uint16
	paddingLength uint8
}

func (h header) encode() []byte {
	b := make([]byte, 8)
	b[0] = h.version
	b[1] = uint8(h.recType)
	binary.BigEndian.PutUint16(b[2:4], h.requestID)
	binary.BigEndian.PutUint16(b[4:6], h.contentLength)
	b[6] = h.paddingLength
	b[7] = 0
	return b
}

func decodeHeader(b []byte) header {
	return header{
		version:       b[0],
		recType:       recordType(b[1]),
		requestID:     binary.BigEndian.Uint16(b[2:4]),
		contentLength: binary.BigEndian.Uint16(b[4:6]),
		paddingLength: b[6],
	}
}

// writeRecord frames content (≤ maxContentLen) as one record, padding it
// to the next multiple of 8 bytes per the FastCGI spec.
func writeRecord(w io.Writer, t recordType, requestID uint16, content []byte) error {
	if len(content) > maxContentLen {
		return errors.New("fastcgi: record content exceeds 65535 bytes")
	}
	padding := (8 - (len(content) % 8)) % 8
	h := header{
		version:       version1,
		recType:       t,
		requestID:     requestID,
		contentLength: uint16(len(content)),
		paddingLength: uint8(padding),
	}
	buf := make([]byte, 0, 8+len(content)+padding)
	buf = append(buf, h.encode()...)
	buf = append(buf, content...)
	buf = append(buf, make([]byte, padding)...)
	_, err := w.Write(buf)
	return err
}

// writeStream splits data into maxContentLen-sized records of type t,
// followed by a single empty record of the same type to signal EOF, per
//  steps 2-3 (FCGI_PARAMS / FCGI_STDIN termination).
func writeStream(w io.Writer, t recordType, requestID uint16, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxContentLen {
			n = maxContentLen
		}
		if err := writeRecord(w, t, requestID, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return writeRecord(w, t, requestID, nil)
}

// beginRequestBody is the fixed 8-byte FCGI_BEGIN_REQUEST payload.
func beginRequestBody(role uint16, keepConn bool) []byte {
	flags := uint8(0)
	if keepConn {
		flags = 1
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], role)
	b[2] = flags
	return b
}

// encodeNameValuePairs implements the FCGI_PARAMS length encoding: 1 byte
// if the length fits in 7 bits, else a 4-byte big-endian length with the
// top bit set step 2.
func encodeNameValuePairs(pairs map[string]string) []byte {
	var buf bytes.Buffer
	for k, v := range pairs {
		writeLength(&buf, len(k))
		writeLength(&buf, len(v))
		buf.WriteString(k)
		buf.WriteString(v)
	}
	return buf.Bytes()
}

func writeLength(buf *bytes.Buffer, n int) {
	if n < 128 {
		buf.WriteByte(byte(n))
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n)|(1<<31))
	buf.Write(b[:])
}

// endRequestBody is the fixed 8-byte FCGI_END_REQUEST payload.
type endRequestBody struct {
	appStatus      uint32
	protocolStatus uint8
}

func decodeEndRequest(b []byte) endRequestBody {
	return endRequestBody{
		appStatus:      binary.BigEndian.Uint32(b[0:4]),
		protocolStatus: b[4],
	}
}
