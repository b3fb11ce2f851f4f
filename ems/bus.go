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
	"sync"

	log "github.com/sirupsen/logrus"
)

// PCMessageHandler receives telegrams addressed to the PC. Handlers run
// on the bus read goroutine and must not block.
type PCMessageHandler func(*Message)

// Bus ties the transport to the decoder and routes PC-directed telegrams
// to registered handlers (the command connections). Handlers are kept in
// an integer-keyed table so a handler removed mid-delivery simply stops
// receiving; there is no shared ownership of connection objects here.
type Bus struct {
	transport Transport
	decoder   *Decoder

	mu       sync.Mutex
	handlers map[int]PCMessageHandler
	nextID   int

	sendMu sync.Mutex
}

func NewBus(transport Transport, handler ValueHandler) *Bus {
	return &Bus{
		transport: transport,
		decoder:   NewDecoder(handler),
		handlers:  make(map[int]PCMessageHandler),
	}
}

// AddPCHandler registers a handler for PC-directed telegrams and returns
// a handle for removal.
func (b *Bus) AddPCHandler(fn PCMessageHandler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[b.nextID] = fn
	return b.nextID
}

func (b *Bus) RemovePCHandler(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Send writes one outbound telegram. Writes are serialised so telegrams
// from different connections never interleave on the half-duplex bus.
func (b *Bus) Send(m *Message) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return b.transport.Send(m.SendData())
}

// Run drives the read loop until the transport fails. Telegrams
// addressed to the PC go to the registered handlers; everything else is
// decoded into the value stream. Runs on a single goroutine, so values
// and PC replies are delivered in receive order.
func (b *Bus) Run() error {
	for {
		frame, err := b.transport.Receive()
		if err != nil {
			return err
		}
		m, err := DecodeMessage(frame)
		if err != nil {
			log.Debugf("discarding malformed frame (%d bytes)", len(frame))
			continue
		}
		if m.Dest&^ResponseFlag == AddressPC {
			b.dispatchPCMessage(m)
			continue
		}
		b.decoder.Handle(m)
	}
}

func (b *Bus) dispatchPCMessage(m *Message) {
	b.mu.Lock()
	handlers := make([]PCMessageHandler, 0, len(b.handlers))
	for _, fn := range b.handlers {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(m)
	}
}

func (b *Bus) Close() error {
	return b.transport.Close()
}
