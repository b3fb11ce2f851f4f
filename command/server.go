/*
 * This file is part of the ems-collector distribution (https://github.com/geowiwi/ems-collector).
 * Copyright (c) 2023 geowiwi.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful, but
 * WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 */

// Package command implements the line-based TCP interface through which
// clients query and change controller parameters. Each request telegram
// is correlated with the matching bus reply under a bounded deadline.
package command

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/geowiwi/ems-collector/ems"
	log "github.com/sirupsen/logrus"
)

// DefaultReplyTimeout bounds the wait for a bus reply to a query.
const DefaultReplyTimeout = 2 * time.Second

// Server accepts command clients and tracks the live connection set.
type Server struct {
	bus          *ems.Bus
	replyTimeout time.Duration
	listener     net.Listener

	mu          sync.Mutex
	connections map[*Connection]struct{}
}

// NewServer binds the TCP endpoint and prepares the accept loop. A
// replyTimeout of zero selects DefaultReplyTimeout.
func NewServer(bus *ems.Bus, addr string, replyTimeout time.Duration) (*Server, error) {
	if replyTimeout <= 0 {
		replyTimeout = DefaultReplyTimeout
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		bus:          bus,
		replyTimeout: replyTimeout,
		listener:     listener,
		connections:  make(map[*Connection]struct{}),
	}, nil
}

// Addr returns the bound endpoint.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts clients until the listener is closed. An acceptor
// failure is fatal and surfaces to the caller.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c := newConnection(s, conn)
		s.mu.Lock()
		s.connections[c] = struct{}{}
		s.mu.Unlock()
		log.Debugf("command client connected from %s", conn.RemoteAddr())
		go c.serve()
	}
}

func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	delete(s.connections, c)
	s.mu.Unlock()
}

// Close stops accepting and closes every live connection.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	return err
}
