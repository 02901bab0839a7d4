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
	"net"
	"net/http"
	"strings"
)

var headerNameReplacer = strings.NewReplacer(" ", "_", "-", "_")

// buildEnv constructs the CGI environment for one request. Grounded on
// caddyserver fastcgi.go's buildEnv shape (REMOTE_ADDR/PORT splitting,
// HTTP_<UPPER_SNAKE> header mapping).
func buildEnv(r *http.Request, scriptFilename, documentRoot, serverSoftware string) map[string]string {
	ip, port := splitRemoteAddr(r.RemoteAddr)

	env := map[string]string{
		"REQUEST_METHOD":    r.Method,
		"SCRIPT_FILENAME":   scriptFilename,
		"SCRIPT_NAME":       r.URL.Path,
		"REQUEST_URI":       r.URL.RequestURI(),
		"DOCUMENT_URI":      r.URL.Path,
		"DOCUMENT_ROOT":     documentRoot,
		"SERVER_PROTOCOL":   r.Proto,
		"GATEWAY_INTERFACE": "CGI/1.1",
		"SERVER_SOFTWARE":   serverSoftware,
		"QUERY_STRING":      r.URL.RawQuery,
		"SERVER_NAME":       requestHost(r),
		"SERVER_PORT":       serverPort(r),
		"REMOTE_ADDR":       ip,
		"REMOTE_PORT":       port,
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		env["CONTENT_TYPE"] = ct
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		env["CONTENT_LENGTH"] = cl
	}

	for name, values := range r.Header {
		key := "HTTP_" + headerNameReplacer.Replace(strings.ToUpper(name))
		env[key] = strings.Join(values, ", ")
	}

	return env
}

func splitRemoteAddr(remoteAddr string) (ip, port string) {
	ip, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr, ""
	}
	return ip, port
}

func requestHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		return r.Host
	}
	return host
}

func serverPort(r *http.Request) string {
	_, port, err := net.SplitHostPort(r.Host)
	if err == nil && port != "" {
		return port
	}
	if r.TLS != nil {
		return "443"
	}
	return "80"
}
