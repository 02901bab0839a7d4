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

// Command edged is the edge HTTP server: it loads a TOML configuration
// file, builds the vhost registry and every ambient component (session
// store, connection pool, circuit breakers, cache, metrics, access log),
// starts any supervised backend processes, and serves the configured
// listeners until an interrupt or TERM signal asks it to drain.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/edgehttp/edge/internal/accesslog"
	"github.com/edgehttp/edge/internal/admin"
	"github.com/edgehttp/edge/internal/breaker"
	"github.com/edgehttp/edge/internal/cache"
	"github.com/edgehttp/edge/internal/config"
	"github.com/edgehttp/edge/internal/dispatcher"
	"github.com/edgehttp/edge/internal/edgelog"
	"github.com/edgehttp/edge/internal/metrics"
	"github.com/edgehttp/edge/internal/pool"
	"github.com/edgehttp/edge/internal/session"
	"github.com/edgehttp/edge/internal/sinks"
	"github.com/edgehttp/edge/internal/supervisor"
	"github.com/edgehttp/edge/internal/vhost"
)

var version = "dev"

func main() {
	app := kingpin.New("edged", "Edge HTTP server: static files, reverse proxy, FastCGI, and managed application processes behind one vhost-aware front door.")
	configPath := app.Flag("config", "Path to the TOML configuration file.").Default("edge.toml").Short('c').String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := run(*configPath); err != nil {
		edgelog.Log().WithError(err).Fatal("edged: fatal")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	edgelog.Configure(cfg.Log.Level, cfg.Log.Format)
	log := edgelog.Log().WithField("version", version)

	vhosts, err := config.BuildVHosts(cfg.VHosts)
	if err != nil {
		return fmt.Errorf("build vhosts: %w", err)
	}
	registry, err := vhost.Build(vhosts)
	if err != nil {
		return fmt.Errorf("compile vhost registry: %w", err)
	}
	holder := vhost.NewHolder(registry)

	processes, err := startProcesses(cfg.VHosts)
	if err != nil {
		return fmt.Errorf("start supervised processes: %w", err)
	}
	defer processes.Shutdown(context.Background())

	sessions := buildSessionManager(cfg.Session)
	defer sessions.Close()

	connPool := pool.New(pool.Config{})
	defer connPool.Close()

	breakers := breaker.NewRegistry(breaker.Config{})
	collector := metrics.New()

	accessRecorder, closeAccess, err := buildAccessRecorder(cfg.AccessLog)
	if err != nil {
		return fmt.Errorf("open access log: %w", err)
	}
	defer closeAccess()

	pageCache := cache.New(cache.Config{
		L1Capacity: cfg.Cache.L1Capacity,
		L2Addr:     cfg.Cache.L2Addr,
		L3Root:     cfg.Cache.L3Root,
	})

	data := dispatcher.New(dispatcher.Config{
		MaxHeaderBytes:   cfg.Limits.MaxHeaderBytes,
		MaxBodyBytes:     cfg.Limits.MaxBodyBytes,
		ViaToken:         cfg.Headers.ViaToken,
		HSTSMaxAge:       cfg.Headers.HSTSMaxAge,
		ContentSecPolicy: cfg.Headers.CSP,
	}, holder, sessions, connPool, breakers, collector, accessRecorder, pageCache)
	defer data.Close()

	adminHandler := admin.New(holder, collector, processes, admin.ServerInfo{
		HTTPAddr:    cfg.HTTPAddr,
		HTTPSAddr:   cfg.HTTPSAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	})
	admin.Version = version

	root := mountAdmin(data, adminHandler, cfg.AdminAddr == cfg.HTTPAddr)

	servers, err := buildServers(cfg, root, adminHandler)
	if err != nil {
		return err
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			log.WithField("addr", srv.httpServer.Addr).Info("edged: listening")
			errCh <- srv.serve()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("edged: shutting down")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("edged: listener failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("edged: listener shutdown did not complete cleanly")
		}
	}
	return nil
}

// mountAdmin wires the admin/telemetry routes onto the data-plane
// listener when they share an address (the common case: AdminAddr
// defaults to HTTPAddr), so /health and /metrics answer on the same
// port clients already reach the vhosts on.
func mountAdmin(data *dispatcher.Dispatcher, adm *admin.Handler, shareListener bool) http.Handler {
	if !shareListener {
		return data
	}
	return &rootHandler{admin: adm, data: data}
}

type rootHandler struct {
	admin *admin.Handler
	data  *dispatcher.Dispatcher
}

func (h *rootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" || r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/api/") {
		h.admin.ServeHTTP(w, r)
		return
	}
	h.data.ServeHTTP(w, r)
}

type managedServer struct {
	httpServer *http.Server
	tls        bool
	certFile   string
	keyFile    string
}

func (s *managedServer) serve() error {
	var err error
	if s.tls {
		err = s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// buildServers assembles one managedServer per configured listener: the
// cleartext HTTP/2 (h2c) data-plane listener, the TLS listener when a
// cert/key pair is configured, and, only when the admin surface was not
// mounted onto the data-plane handler, its own plain listener.
func buildServers(cfg *config.Config, root http.Handler, adm *admin.Handler) ([]*managedServer, error) {
	var servers []*managedServer

	h2s := &http2.Server{}
	servers = append(servers, &managedServer{
		httpServer: &http.Server{Addr: cfg.HTTPAddr, Handler: h2c.NewHandler(root, h2s)},
	})

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		tlsServer := &http.Server{Addr: cfg.HTTPSAddr, Handler: root}
		if err := http2.ConfigureServer(tlsServer, &http2.Server{}); err != nil {
			return nil, fmt.Errorf("configure http2 for tls listener: %w", err)
		}
		servers = append(servers, &managedServer{
			httpServer: tlsServer,
			tls:        true,
			certFile:   cfg.TLSCertFile,
			keyFile:    cfg.TLSKeyFile,
		})
	}

	if cfg.AdminAddr != cfg.HTTPAddr {
		servers = append(servers, &managedServer{
			httpServer: &http.Server{Addr: cfg.AdminAddr, Handler: adm},
		})
	}

	return servers, nil
}

func buildSessionManager(cfg config.SessionConfig) *session.Manager {
	var store session.Store
	switch cfg.Store {
	case "redis":
		store = session.NewRedisStore(cfg.RedisAddr)
	case "file":
		store = session.NewFileStore(cfg.FileRoot)
	default:
		store = session.NewMemoryStore()
	}
	return session.NewManager(store, session.Config{
		CookieName:      cfg.CookieName,
		Domain:          cfg.Domain,
		Path:            cfg.Path,
		SameSite:        session.SameSite(cfg.SameSite),
		Secure:          cfg.Secure,
		HTTPOnly:        cfg.HTTPOnly,
		TTL:             cfg.TTL,
		MaxPerUser:      cfg.MaxPerUser,
		BindIPAddress:   cfg.BindIPAddress,
		BindUserAgent:   cfg.BindUserAgent,
		CleanupInterval: cfg.CleanupInterval,
	})
}

func buildAccessRecorder(cfg config.AccessLogConfig) (*accesslog.Recorder, func(), error) {
	entrySink, err := accesslog.NewEntryFileSink(cfg.EntryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open entry log %s: %w", cfg.EntryPath, err)
	}
	batchSink, err := sinks.NewSBatchFileSink(cfg.BatchPath)
	if err != nil {
		_ = entrySink.Close()
		return nil, nil, fmt.Errorf("open batch log %s: %w", cfg.BatchPath, err)
	}
	recorder := accesslog.NewRecorder(accesslog.Config{}, entrySink, batchSink)
	closeFn := func() {
		recorder.Close()
		_ = entrySink.Close()
		_ = batchSink.Close()
	}
	return recorder, closeFn, nil
}

// startProcesses launches one supervised process per "process"-kind
// vhost and begins the periodic restart/health tick. The returned
// Manager is empty (but non-nil, so the admin surface never needs a
// nil check) when no vhost declares a Process backend.
func startProcesses(cfgs []config.VHostConfig) (*supervisor.Manager, error) {
	recipes, err := config.BuildRecipes(cfgs)
	if err != nil {
		return nil, err
	}
	mgr := supervisor.New()
	for _, r := range recipes {
		if err := mgr.Start(r); err != nil {
			return nil, fmt.Errorf("start process %s: %w", r.Name, err)
		}
	}
	mgr.StartMonitor()
	return mgr, nil
}
