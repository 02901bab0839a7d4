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

package forwardproxy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// PeerAddrs is the source/destination pair a PROXY protocol header
// carries, used to populate the request context's real client address
// when this listener sits behind another proxy or load balancer.
type PeerAddrs struct {
	SourceIP   net.IP
	SourcePort int
	DestIP     net.IP
	DestPort   int
}

var v2Signature = [12]byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

var errNoProxyHeader = errors.New("forwardproxy: no PROXY protocol header present")

// ReadHeader detects and parses a PROXY protocol v1 or v2 header at the
// start of r If the first bytes don't match either
// signature, it returns errNoProxyHeader and r is left with the peeked
// bytes replayed so the caller can read the connection normally.
func ReadHeader(r *bufio.Reader) (PeerAddrs, error) {
	peek, err := r.Peek(12)
	if err == nil && [12]byte(peek) == v2Signature {
		return readV2(r)
	}

	peek6, err := r.Peek(6)
	if err == nil && string(peek6) == "PROXY " {
		return readV1(r)
	}

	return PeerAddrs{}, errNoProxyHeader
}

// readV1 parses the human-readable v1 header:
// "PROXY TCP4 src dst srcport dstport\r\n"
func readV1(r *bufio.Reader) (PeerAddrs, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return PeerAddrs{}, fmt.Errorf("forwardproxy: reading PROXY v1 header: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "PROXY" {
		return PeerAddrs{}, errors.New("forwardproxy: malformed PROXY v1 header")
	}
	if fields[1] == "UNKNOWN" {
		return PeerAddrs{}, nil
	}
	if len(fields) != 6 {
		return PeerAddrs{}, errors.New("forwardproxy: malformed PROXY v1 header fields")
	}

	srcIP := net.ParseIP(fields[2])
	dstIP := net.ParseIP(fields[3])
	if srcIP == nil || dstIP == nil {
		return PeerAddrs{}, errors.New("forwardproxy: invalid PROXY v1 address")
	}
	srcPort, err := strconv.Atoi(fields[4])
	if err != nil {
		return PeerAddrs{}, fmt.Errorf("forwardproxy: invalid PROXY v1 source port: %w", err)
	}
	dstPort, err := strconv.Atoi(fields[5])
	if err != nil {
		return PeerAddrs{}, fmt.Errorf("forwardproxy: invalid PROXY v1 dest port: %w", err)
	}

	return PeerAddrs{SourceIP: srcIP, SourcePort: srcPort, DestIP: dstIP, DestPort: dstPort}, nil
}

const (
	v2CmdLocal = 0x0
	v2CmdProxy = 0x1

	v2FamTCP4 = 0x11
	v2FamTCP6 = 0x21
)

// readV2 parses the binary v2 header: 12-byte signature, 1 byte
// ver/cmd, 1 byte fam/proto, 2-byte big-endian length, then the address
// block.
func readV2(r *bufio.Reader) (PeerAddrs, error) {
	fixed := make([]byte, 16)
	if _, err := readFull(r, fixed); err != nil {
		return PeerAddrs{}, fmt.Errorf("forwardproxy: reading PROXY v2 fixed header: %w", err)
	}

	verCmd := fixed[12]
	version := verCmd >> 4
	cmd := verCmd & 0x0F
	if version != 2 {
		return PeerAddrs{}, fmt.Errorf("forwardproxy: unsupported PROXY protocol version %d", version)
	}

	famProto := fixed[13]
	length := binary.BigEndian.Uint16(fixed[14:16])

	body := make([]byte, length)
	if length > 0 {
		if _, err := readFull(r, body); err != nil {
			return PeerAddrs{}, fmt.Errorf("forwardproxy: reading PROXY v2 address block: %w", err)
		}
	}

	if cmd == v2CmdLocal {
		// LOCAL: health check or other non-proxied connection; no
		// address to extract.
		return PeerAddrs{}, nil
	}
	if cmd != v2CmdProxy {
		return PeerAddrs{}, fmt.Errorf("forwardproxy: unsupported PROXY v2 command %d", cmd)
	}

	switch famProto {
	case v2FamTCP4:
		if len(body) < 12 {
			return PeerAddrs{}, errors.New("forwardproxy: truncated PROXY v2 TCP4 address block")
		}
		return PeerAddrs{
			SourceIP:   net.IP(body[0:4]),
			DestIP:     net.IP(body[4:8]),
			SourcePort: int(binary.BigEndian.Uint16(body[8:10])),
			DestPort:   int(binary.BigEndian.Uint16(body[10:12])),
		}, nil
	case v2FamTCP6:
		if len(body) < 36 {
			return PeerAddrs{}, errors.New("forwardproxy: truncated PROXY v2 TCP6 address block")
		}
		return PeerAddrs{
			SourceIP:   net.IP(body[0:16]),
			DestIP:     net.IP(body[16:32]),
			SourcePort: int(binary.BigEndian.Uint16(body[32:34])),
			DestPort:   int(binary.BigEndian.Uint16(body[34:36])),
		}, nil
	default:
		// Unspecified or unsupported family (UNIX sockets, UNSPEC):
		// no routable address to extract, but the header was valid.
		return PeerAddrs{}, nil
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
