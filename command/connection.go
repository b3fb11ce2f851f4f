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

package command

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geowiwi/ems-collector/ems"
	log "github.com/sirupsen/logrus"
)

// Reply markers. Data queries append space-separated formatted values
// after the OK marker.
const (
	replyOK          = "OK"
	replyInvalidCmd  = "ERR:CMD"
	replyInvalidArgs = "ERR:ARGS"
	replyTimeout     = "ERR:TIMEOUT"
	replyBusError    = "ERR:BUS"
)

// Parameter telegram types and offsets used by the command grammar.
const (
	errorLogType byte = 0x10

	hk1ParamType byte = 0x3d
	hk2ParamType byte = 0x47

	hkOffsetNightTemp    byte = 1
	hkOffsetDayTemp      byte = 2
	hkOffsetVacationTemp byte = 3

	wwParamType byte = 0x33

	wwOffsetTemp            byte = 2
	wwOffsetDesinfectEnable byte = 4
	wwOffsetZirkPumpEnable  byte = 6
	wwOffsetZirkPumpCount   byte = 7
	wwOffsetDesinfectTemp   byte = 8
)

// replyMatch is the pattern a bus reply must satisfy to complete the
// pending query: it must come from the addressed module, carry the
// requested telegram type and cover the requested byte window.
type replyMatch struct {
	source byte
	typ    byte
	offset byte
	length int
}

func (r replyMatch) matches(m *ems.Message) bool {
	if m.Source != r.source || m.Type != r.typ {
		return false
	}
	return m.CanAccess(int(r.offset), r.length)
}

// Connection serves one command client. Requests are handled strictly in
// sequence: the next line is not read before the current one has been
// answered, so at most one command per connection is ever in flight on
// the bus.
type Connection struct {
	server    *Server
	conn      net.Conn
	handlerID int

	mu      sync.Mutex
	waiting bool
	pending replyMatch
	replies chan *ems.Message

	// bus replies consumed by the current command; multi-window queries
	// such as geterrors take several
	responseCounter uint32

	closeOnce sync.Once
}

func newConnection(s *Server, conn net.Conn) *Connection {
	c := &Connection{
		server:  s,
		conn:    conn,
		replies: make(chan *ems.Message, 1),
	}
	c.handlerID = s.bus.AddPCHandler(c.handlePCMessage)
	return c
}

// handlePCMessage runs on the bus read goroutine for every PC-directed
// telegram. Only a telegram matching the pending query is forwarded.
func (c *Connection) handlePCMessage(m *ems.Message) {
	c.mu.Lock()
	wanted := c.waiting && c.pending.matches(m)
	c.mu.Unlock()
	if !wanted {
		return
	}
	select {
	case c.replies <- m:
	default:
	}
}

func (c *Connection) serve() {
	defer c.close()

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.responseCounter = 0
		reply := c.handleCommand(strings.Fields(line))
		if _, err := fmt.Fprintf(c.conn, "%s\n", reply); err != nil {
			log.Debugf("command client %s write failed: %v", c.conn.RemoteAddr(), err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debugf("command client %s read failed: %v", c.conn.RemoteAddr(), err)
	}
}

// close removes the connection from the live set and drops its pending
// reply; a late reply is never delivered to a successor connection.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.server.bus.RemovePCHandler(c.handlerID)
		c.server.removeConnection(c)
		c.conn.Close()
		log.Debugf("command client %s disconnected", c.conn.RemoteAddr())
	})
}

func (c *Connection) handleCommand(tokens []string) string {
	verb, args := tokens[0], tokens[1:]
	switch verb {
	case "geterrors":
		return c.handleGetErrors(args)
	case "hk1":
		return c.handleHK(args, hk1ParamType)
	case "hk2":
		return c.handleHK(args, hk2ParamType)
	case "ww":
		return c.handleWW(args)
	case "thermdesinfect":
		return c.handleThermDesinfect(args)
	case "zirkpump":
		return c.handleZirkPump(args)
	}
	return replyInvalidCmd
}

// write sends a parameter change. Writes do not request a response; the
// reply is issued as soon as the bus accepts the telegram.
func (c *Connection) write(dest, typ, offset byte, data []byte) string {
	cmd := ems.NewCommand(dest, typ, offset, data, false)
	if err := c.server.bus.Send(cmd); err != nil {
		log.Errorf("bus send failed: %v", err)
		return replyBusError
	}
	return replyOK
}

// query sends a read request for length bytes at the given offset and
// waits for the correlated reply. On failure the second return value is
// the error reply to the client.
func (c *Connection) query(dest, typ, offset byte, length int) (*ems.Message, string) {
	c.mu.Lock()
	c.waiting = true
	c.pending = replyMatch{source: dest, typ: typ, offset: offset, length: length}
	// drop a stale reply from an earlier command
	select {
	case <-c.replies:
	default:
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.waiting = false
		c.mu.Unlock()
	}()

	cmd := ems.NewCommand(dest, typ, offset, []byte{byte(length)}, true)
	if err := c.server.bus.Send(cmd); err != nil {
		log.Errorf("bus send failed: %v", err)
		return nil, replyBusError
	}

	select {
	case m := <-c.replies:
		c.responseCounter++
		return m, ""
	case <-time.After(c.server.replyTimeout):
		return nil, replyTimeout
	}
}

// queryNumeric reads one parameter byte window and formats it as a
// scaled number.
func (c *Connection) queryNumeric(dest, typ, offset byte, length, divider int) string {
	m, errReply := c.query(dest, typ, offset, length)
	if errReply != "" {
		return errReply
	}
	value := ems.NewNumericValue(ems.SollTemp, ems.None, m.Slice(int(offset), length), divider)
	return replyOK + " " + value.Format()
}

// handleGetErrors assembles the error log starting at a record index.
// The controller answers one record window per request, so successive
// offsets are requested until a window yields no further record.
func (c *Connection) handleGetErrors(args []string) string {
	if len(args) != 1 {
		return replyInvalidArgs
	}
	index, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return replyInvalidArgs
	}

	var entries []string
	for int(index)*ems.ErrorRecordSize <= 0xff {
		m, errReply := c.query(ems.AddressUBA, errorLogType, byte(index)*ems.ErrorRecordSize, ems.ErrorRecordSize)
		if errReply != "" {
			return errReply
		}

		found := 0
		last := int(index)
		dec := ems.NewDecoder(func(v ems.Value) {
			if v.Reading != ems.Error {
				return
			}
			entry := v.ErrorEntry()
			if entry.Record.Code == 0 {
				// blank tail of the log
				return
			}
			entries = append(entries, ems.FormatErrorEntry(entry))
			last = entry.Index
			found++
		})
		dec.Handle(m)

		if found == 0 {
			break
		}
		index = uint64(last) + 1
	}

	log.Debugf("error log assembled from %d replies, %d entries", c.responseCounter, len(entries))
	if len(entries) == 0 {
		return replyOK
	}
	return replyOK + " " + strings.Join(entries, " ")
}

func (c *Connection) handleHK(args []string, paramType byte) string {
	if len(args) == 0 {
		return replyInvalidCmd
	}
	switch args[0] {
	case "daytemp":
		return c.writeHKTemperature(args[1:], paramType, hkOffsetDayTemp)
	case "nighttemp":
		return c.writeHKTemperature(args[1:], paramType, hkOffsetNightTemp)
	case "vacationtemp":
		return c.writeHKTemperature(args[1:], paramType, hkOffsetVacationTemp)
	case "getdaytemp":
		return c.queryNumeric(ems.AddressRC, paramType, hkOffsetDayTemp, 1, 2)
	case "getnighttemp":
		return c.queryNumeric(ems.AddressRC, paramType, hkOffsetNightTemp, 1, 2)
	case "getvacationtemp":
		return c.queryNumeric(ems.AddressRC, paramType, hkOffsetVacationTemp, 1, 2)
	}
	return replyInvalidCmd
}

// writeHKTemperature encodes a setpoint in half-degree steps.
func (c *Connection) writeHKTemperature(args []string, paramType byte, offset byte) string {
	if len(args) != 1 {
		return replyInvalidArgs
	}
	temp, err := strconv.ParseFloat(args[0], 64)
	if err != nil || temp < 10 || temp > 30 {
		return replyInvalidArgs
	}
	return c.write(ems.AddressRC, paramType, offset, []byte{byte(temp*2 + 0.5)})
}

func (c *Connection) handleWW(args []string) string {
	if len(args) == 0 {
		return replyInvalidCmd
	}
	switch args[0] {
	case "temp":
		if len(args) != 2 {
			return replyInvalidArgs
		}
		temp, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil || temp < 30 || temp > 80 {
			return replyInvalidArgs
		}
		return c.write(ems.AddressUBA, wwParamType, wwOffsetTemp, []byte{byte(temp)})
	case "gettemp":
		return c.queryNumeric(ems.AddressUBA, wwParamType, wwOffsetTemp, 1, 1)
	}
	return replyInvalidCmd
}

func (c *Connection) handleThermDesinfect(args []string) string {
	if len(args) == 0 {
		return replyInvalidCmd
	}
	switch args[0] {
	case "on":
		return c.write(ems.AddressUBA, wwParamType, wwOffsetDesinfectEnable, []byte{0xff})
	case "off":
		return c.write(ems.AddressUBA, wwParamType, wwOffsetDesinfectEnable, []byte{0x00})
	case "temp":
		if len(args) != 2 {
			return replyInvalidArgs
		}
		temp, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil || temp < 60 || temp > 80 {
			return replyInvalidArgs
		}
		return c.write(ems.AddressUBA, wwParamType, wwOffsetDesinfectTemp, []byte{byte(temp)})
	}
	return replyInvalidCmd
}

func (c *Connection) handleZirkPump(args []string) string {
	if len(args) == 0 {
		return replyInvalidCmd
	}
	switch args[0] {
	case "on":
		return c.write(ems.AddressUBA, wwParamType, wwOffsetZirkPumpEnable, []byte{0xff})
	case "off":
		return c.write(ems.AddressUBA, wwParamType, wwOffsetZirkPumpEnable, []byte{0x00})
	case "count":
		if len(args) != 2 {
			return replyInvalidArgs
		}
		count, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil || count < 1 || count > 7 {
			return replyInvalidArgs
		}
		return c.write(ems.AddressUBA, wwParamType, wwOffsetZirkPumpCount, []byte{byte(count)})
	}
	return replyInvalidCmd
}
