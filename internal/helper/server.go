/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package helper implements the NAT-traversal helper: a long-lived,
// publicly reachable coordinator that accepts peer connections and
// drives each as a session through the state machine in fsm.go.
//
// The accept-loop/worker-goroutine shape is grounded on
// ptp4u/server/server.go's Start(): an accept loop with one worker
// goroutine per accepted connection, tracked by a sync.WaitGroup. Start
// returns once Accept fails, after every running worker has finished.
package helper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/chongyc/natblaster/internal/registry"
	"github.com/chongyc/natblaster/internal/syncflag"
	"github.com/chongyc/natblaster/internal/wire"
)

// Server is the helper daemon.
type Server struct {
	Config  Config
	Reg     *registry.Registry
	Metrics *Metrics

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer constructs a Server ready to Start.
func NewServer(cfg Config) *Server {
	return &Server{
		Config:  cfg,
		Reg:     registry.New(),
		Metrics: NewMetrics(),
	}
}

// Start binds the listen address and runs the accept loop until the
// listener is closed. It blocks.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("helper: listening on %s: %w", s.Config.ListenAddr, err)
	}
	s.listener = ln
	log.Infof("Helper listening on %s, protocol v%s (minimum compatible client v%s)",
		s.Config.ListenAddr, wire.ProtocolVersion, wire.MinClientVersion)

	if s.Config.MonitoringAddr != "" {
		go s.Metrics.Serve(s.Config.MonitoringAddr)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Errorf("Accept failed, stopping: %v", err)
			s.wg.Wait()
			return err
		}
		s.metricsAccepted()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Stop closes the listener, causing Start's accept loop to return.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) metricsAccepted() {
	if s.Metrics != nil {
		s.Metrics.Accepted.Inc()
		s.Metrics.ActiveSessions.Set(float64(s.Reg.Count()))
	}
}

// handle spawns and runs one session's worker to completion.
func (s *Server) handle(conn net.Conn) {
	observed, err := observedEndpoint(conn)
	if err != nil {
		log.Errorf("Rejecting connection with unparseable remote address: %v", err)
		_ = conn.Close()
		return
	}

	sess := registry.NewSession(observed, conn)
	s.Reg.Insert(sess)
	defer s.Reg.Release(sess)

	w := &worker{cfg: s.Config, reg: s.Reg, metrics: s.Metrics, conn: conn, sess: sess}
	if err := w.run(context.Background()); err != nil {
		log.Errorf("session %s terminated: %v", observed, err)
		if s.Metrics != nil && (errors.Is(err, registry.ErrNotFound) || errors.Is(err, syncflag.ErrTimeout)) {
			s.Metrics.TimedOut.Inc()
		}
	}

	if s.Metrics != nil {
		s.Metrics.ActiveSessions.Set(float64(s.Reg.Count()))
	}
}

// observedEndpoint extracts the (ip, port) a TCP connection's remote
// address exhibits, used as the session's registry key (spec §3:
// "observed endpoint... used as the session key").
func observedEndpoint(conn net.Conn) (natproto.Endpoint, error) {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return natproto.Endpoint{}, fmt.Errorf("helper: unexpected remote address type %T", conn.RemoteAddr())
	}
	return natproto.Endpoint{IP: addr.IP, Port: uint16(addr.Port)}, nil
}
