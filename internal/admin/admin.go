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

// Package admin serves the data-plane's health/metrics/status surface:
// liveness, Prometheus exposition, server status, the configured
// backend list, and supervised-process control. Routes are registered
// on a plain http.ServeMux — the path set is small and fixed, and no
// repo in the retrieval pack wires a third-party router with actual
// reachable code, only bare go.mod listings, so there's nothing to
// ground a router dependency on.
package admin

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/edgehttp/edge/internal/metrics"
	"github.com/edgehttp/edge/internal/supervisor"
	"github.com/edgehttp/edge/internal/vhost"
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// ServerInfo answers /api/status's config sub-object.
type ServerInfo struct {
	HTTPAddr    string
	HTTPSAddr   string
	TLSCertFile string
	TLSKeyFile  string
}

// Handler serves the admin endpoints. It holds no state of its own:
// every response is computed fresh from the live Registry/Collector/
// Manager it was built with.
type Handler struct {
	mux *http.ServeMux

	registry   *vhost.Holder
	collector  *metrics.Collector
	processes  *supervisor.Manager
	serverInfo ServerInfo
}

// New builds a Handler and registers its routes. processes may be nil
// when no vhost declares a Process backend, in which case /api/processes
// reports an empty map and restart always answers 500.
func New(registry *vhost.Holder, collector *metrics.Collector, processes *supervisor.Manager, info ServerInfo) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		registry:   registry,
		collector:  collector,
		processes:  processes,
		serverInfo: info,
	}
	h.mux.HandleFunc("/health", h.handleHealth)
	h.mux.Handle("/metrics", collector.Handler())
	h.mux.HandleFunc("/api/status", h.handleStatus)
	h.mux.HandleFunc("/api/backends", h.handleBackends)
	h.mux.HandleFunc("/api/processes", h.handleProcesses)
	h.mux.HandleFunc("/api/processes/", h.handleProcessRestart)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusConfig struct {
	HTTPPort           int  `json:"http_port"`
	HTTPSPort          int  `json:"https_port"`
	SSLEnabled         bool `json:"ssl_enabled"`
	BackendsConfigured int  `json:"backends_configured"`
}

type statusResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Server  string       `json:"server"`
	Config  statusConfig `json:"config"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Version: Version,
		Server:  "edged",
		Config: statusConfig{
			HTTPPort:           portOf(h.serverInfo.HTTPAddr),
			HTTPSPort:          portOf(h.serverInfo.HTTPSAddr),
			SSLEnabled:         h.serverInfo.TLSCertFile != "" && h.serverInfo.TLSKeyFile != "",
			BackendsConfigured: len(h.registry.Load().All()),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

type backendInfo struct {
	Hosts   []string `json:"hosts"`
	Kind    string   `json:"kind"`
	Default bool     `json:"default"`
}

func (h *Handler) handleBackends(w http.ResponseWriter, r *http.Request) {
	vhosts := h.registry.Load().All()
	out := make([]backendInfo, 0, len(vhosts))
	for _, v := range vhosts {
		out = append(out, backendInfo{Hosts: v.Hosts, Kind: v.Backend.Kind.String(), Default: v.Default})
	}
	writeJSON(w, http.StatusOK, out)
}

type processInfo struct {
	Status       string `json:"status"`
	PID          int    `json:"pid"`
	RestartCount int    `json:"restart_count"`
}

func (h *Handler) handleProcesses(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]processInfo)
	if h.processes != nil {
		for _, info := range h.processes.All() {
			out[info.Name] = processInfo{Status: info.Status.String(), PID: info.PID, RestartCount: info.RestartCount}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleProcessRestart serves POST /api/processes/:name/restart.
func (h *Handler) handleProcessRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/api/processes/"), "/restart")
	if !ok || name == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if h.processes == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := h.processes.Restart(name); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
