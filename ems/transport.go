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

package ems

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Transport is the physical bus link. Receive blocks until one complete,
// CRC-validated telegram is available; Send writes one outbound telegram.
// Send must be safe for concurrent use.
type Transport interface {
	Receive() ([]byte, error)
	Send(frame []byte) error
	Close() error
}

// frameDelimiter separates telegrams on the stream from the serial
// bridge. The bus break after each telegram is conveyed as a zero byte.
const frameDelimiter byte = 0x00

// TCPTransport speaks to a serial bridge that forwards the raw bus
// stream over TCP.
type TCPTransport struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

func DialTCP(addr string) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to serial bridge: %w", err)
	}
	return NewTCPTransport(conn), nil
}

func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Receive reads until the next frame delimiter, validates the trailing
// CRC and returns the telegram without it. Frames failing the CRC check
// and fragments too short to carry one are dropped.
func (t *TCPTransport) Receive() ([]byte, error) {
	for {
		raw, err := t.reader.ReadBytes(frameDelimiter)
		if err != nil {
			return nil, fmt.Errorf("reading from serial bridge: %w", err)
		}
		raw = raw[:len(raw)-1]
		if len(raw) < 2 {
			// echo of a poll or line noise between breaks
			continue
		}
		frame, crc := raw[:len(raw)-1], raw[len(raw)-1]
		if Checksum(frame) != crc {
			log.Debugf("dropping frame with bad checksum (got 0x%02x, want 0x%02x)", crc, Checksum(frame))
			continue
		}
		return frame, nil
	}
}

// Send appends the CRC and frame delimiter and writes the telegram to
// the bridge.
func (t *TCPTransport) Send(frame []byte) error {
	buf := make([]byte, 0, len(frame)+2)
	buf = append(buf, frame...)
	buf = append(buf, Checksum(frame), frameDelimiter)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.conn.Write(buf); err != nil {
		return fmt.Errorf("writing to serial bridge: %w", err)
	}
	return nil
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}
