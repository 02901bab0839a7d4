// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package forwardproxy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadHeaderV1TCP4(t *testing.T) {
	raw := "PROXY TCP4 192.168.1.1 192.168.1.2 56324 443\r\nGET / HTTP/1.1\r\n"
	r := bufio.NewReader(bytes.NewBufferString(raw))

	addrs, err := ReadHeader(r)
	require.NoError(t, err)
	require.Equal(t, net.ParseIP("192.168.1.1").String(), addrs.SourceIP.String())
	require.Equal(t, net.ParseIP("192.168.1.2").String(), addrs.DestIP.String())
	require.Equal(t, 56324, addrs.SourcePort)
	require.Equal(t, 443, addrs.DestPort)

	rest, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "GET / HTTP/1.1\r\n", rest)
}

func TestReadHeaderV1Unknown(t *testing.T) {
	raw := "PROXY UNKNOWN\r\n"
	r := bufio.NewReader(bytes.NewBufferString(raw))

	addrs, err := ReadHeader(r)
	require.NoError(t, err)
	require.Nil(t, addrs.SourceIP)
}

func TestReadHeaderV2TCP4(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(v2Signature[:])
	buf.WriteByte(0x21) // version 2, cmd PROXY
	buf.WriteByte(v2FamTCP4)

	addrBlock := make([]byte, 12)
	copy(addrBlock[0:4], net.ParseIP("10.1.1.1").To4())
	copy(addrBlock[4:8], net.ParseIP("10.1.1.2").To4())
	binary.BigEndian.PutUint16(addrBlock[8:10], 11000)
	binary.BigEndian.PutUint16(addrBlock[10:12], 443)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(addrBlock)))
	buf.Write(lenBuf[:])
	buf.Write(addrBlock)

	r := bufio.NewReader(&buf)
	addrs, err := ReadHeader(r)
	require.NoError(t, err)
	require.Equal(t, "10.1.1.1", addrs.SourceIP.String())
	require.Equal(t, "10.1.1.2", addrs.DestIP.String())
	require.Equal(t, 11000, addrs.SourcePort)
	require.Equal(t, 443, addrs.DestPort)
}

func TestReadHeaderV2Local(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(v2Signature[:])
	buf.WriteByte(0x20) // version 2, cmd LOCAL
	buf.WriteByte(0x00)
	buf.Write([]byte{0, 0}) // zero-length address block

	r := bufio.NewReader(&buf)
	addrs, err := ReadHeader(r)
	require.NoError(t, err)
	require.Nil(t, addrs.SourceIP)
}

func TestReadHeaderNoSignatureReturnsSentinel(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("GET / HTTP/1.1\r\n"))
	_, err := ReadHeader(r)
	require.ErrorIs(t, err, errNoProxyHeader)
}
