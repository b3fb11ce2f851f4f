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
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Message is one telegram after the link layer has stripped framing and
// CRC. The offset field shifts the logical payload window: payload byte k
// carries the logical index Offset+k of a larger record.
type Message struct {
	Source byte
	Dest   byte
	Type   byte
	Offset byte
	Data   []byte
}

// ErrShortFrame is returned for frames shorter than the four header bytes.
var ErrShortFrame = fmt.Errorf("frame shorter than telegram header")

// DecodeMessage splits a raw inbound frame into header and payload.
func DecodeMessage(frame []byte) (*Message, error) {
	if len(frame) < 4 {
		return nil, ErrShortFrame
	}
	return &Message{
		Source: frame[0],
		Dest:   frame[1],
		Type:   frame[2],
		Offset: frame[3],
		Data:   frame[4:],
	}, nil
}

// NewCommand builds an outbound telegram originating from the PC address.
// If expectResponse is set, the destination is asked to answer.
func NewCommand(dest, typ, offset byte, data []byte, expectResponse bool) *Message {
	if expectResponse {
		dest |= ResponseFlag
	}
	return &Message{
		Source: AddressPC,
		Dest:   dest,
		Type:   typ,
		Offset: offset,
		Data:   data,
	}
}

// SendData returns the on-wire layout of an outbound telegram. The source
// address is omitted; the link layer inserts it.
func (m *Message) SendData() []byte {
	data := make([]byte, 0, 3+len(m.Data))
	data = append(data, m.Dest, m.Type, m.Offset)
	data = append(data, m.Data...)
	return data
}

// CanAccess reports whether the logical bytes [offset, offset+size) lie
// fully inside the payload window of this telegram.
func (m *Message) CanAccess(offset, size int) bool {
	return offset >= int(m.Offset) && offset+size <= int(m.Offset)+len(m.Data)
}

// At returns the payload byte at a logical offset. Callers must check
// CanAccess first.
func (m *Message) At(offset int) byte {
	return m.Data[offset-int(m.Offset)]
}

func (m *Message) Slice(offset, size int) []byte {
	start := offset - int(m.Offset)
	return m.Data[start : start+size]
}

// ValueHandler receives every decoded value, on the bus read goroutine.
// It must not block.
type ValueHandler func(Value)

type numericDesc struct {
	offset  int
	size    int
	divider int
	typ     Type
	sub     SubType
}

type boolDesc struct {
	offset int
	bit    uint
	typ    Type
	sub    SubType
}

// parser describes how one (source, type) combination is decoded. A
// descriptor only fires when its bytes are fully inside the payload
// window, so partial telegrams emit just the fields actually present.
type parser struct {
	numerics []numericDesc
	bools    []boolDesc
	extra    func(d *Decoder, m *Message)
}

type dispatchKey struct {
	source byte
	typ    byte
}

var parsers = map[dispatchKey]*parser{
	{AddressUBA, 0x10}: {extra: (*Decoder).parseUBAErrors},
	{AddressUBA, 0x11}: {extra: (*Decoder).parseUBAErrors},
	{AddressUBA, 0x16}: {
		numerics: []numericDesc{
			{1, 1, 1, SetTemp, Kessel},
			{4, 1, 1, EinschaltHysterese, Kessel},
			{5, 1, 1, AusschaltHysterese, Kessel},
			{6, 1, 1, AntipendelZeit, None},
			{8, 1, 1, PumpenNachlaufZeit, Kessel},
			{9, 1, 1, MaxModulation, Kessel},
			{10, 1, 1, MinModulation, Kessel},
		},
	},
	{AddressUBA, 0x18}: {
		numerics: []numericDesc{
			{0, 1, 1, SollTemp, Kessel},
			{1, 2, 10, IstTemp, Kessel},
			{3, 1, 1, MaxLeistung, None},
			{4, 1, 1, MomLeistung, None},
			{11, 2, 10, IstTemp, WW},
			{13, 2, 10, IstTemp, Ruecklauf},
			{15, 2, 10, Flammenstrom, None},
			{17, 1, 10, Systemdruck, None},
		},
		bools: []boolDesc{
			{7, 0, FlammeAktiv, None},
			{7, 2, BrennerAktiv, None},
			{7, 3, ZuendungAktiv, None},
			{7, 5, PumpeAktiv, Kessel},
			{7, 6, DreiWegeVentilAufWW, None},
			{7, 7, ZirkulationAktiv, None},
		},
		extra: (*Decoder).parseUBAMonitorFastCodes,
	},
	{AddressUBA, 0x19}: {
		numerics: []numericDesc{
			{0, 2, 10, IstTemp, Aussen},
			{2, 2, 10, IstTemp, Kessel},
			{4, 2, 10, IstTemp, Abgas},
			{9, 1, 1, PumpenModulation, None},
			{10, 3, 1, Brennerstarts, None},
			{13, 3, 1, BetriebsZeit, None},
			{19, 3, 1, HeizZeit, None},
		},
	},
	{AddressUBA, 0x33}: {
		extra: func(d *Decoder, m *Message) {
			if m.CanAccess(7, 1) {
				d.handler(NewEnumValue(Schaltpunkte, Zirkulation, m.At(7)))
			}
		},
	},
	{AddressUBA, 0x34}: {
		numerics: []numericDesc{
			{0, 1, 1, SollTemp, WW},
			{1, 2, 10, IstTemp, WW},
			{10, 3, 1, WarmwasserbereitungsZeit, None},
			{13, 3, 1, WarmwasserBereitungen, None},
		},
		bools: []boolDesc{
			{5, 0, Tagbetrieb, WW},
			{5, 1, EinmalLadungAktiv, WW},
			{5, 2, DesinfektionAktiv, WW},
			{5, 3, WarmwasserBereitung, None},
			{5, 4, NachladungAktiv, WW},
			{5, 5, WarmwasserTempOK, None},
			{7, 0, Tagbetrieb, Zirkulation},
			{7, 2, ZirkulationAktiv, None},
		},
		extra: func(d *Decoder, m *Message) {
			if m.CanAccess(8, 1) {
				d.handler(NewEnumValue(WWSystemType, None, m.At(8)))
			}
		},
	},
	{AddressRC, 0x06}: {extra: (*Decoder).parseRCTime},
	{AddressRC, 0x3E}: hkMonitorParser(HK1),
	{AddressRC, 0x48}: hkMonitorParser(HK2),
	{AddressRC, 0xA3}: {
		numerics: []numericDesc{
			{0, 1, 1, GedaempfteTemp, Aussen},
		},
	},
	{AddressWM10, 0x9C}: {
		numerics: []numericDesc{
			{0, 2, 10, IstTemp, HK1},
		},
		// byte 2 is 0x64 with the pump running, 0 otherwise
		bools: []boolDesc{
			{2, 2, PumpeAktiv, HK1},
		},
	},
	{AddressWM10, 0x1E}: {
		numerics: []numericDesc{
			{0, 2, 10, IstTemp, HK1},
		},
	},
	{AddressMM10, 0xAB}: {
		numerics: []numericDesc{
			{0, 1, 1, SollTemp, HK2},
			{1, 2, 10, IstTemp, HK2},
			{3, 1, 1, Mischersteuerung, None},
		},
		// byte 3 is 0x64 with the pump running, 0 otherwise
		bools: []boolDesc{
			{3, 2, PumpeAktiv, HK2},
		},
	},
}

// Telegrams that are known but carry nothing to decode.
var acknowledged = map[dispatchKey]bool{
	{AddressUBA, 0x07}:  true,
	{AddressUBA, 0x1c}:  true,
	{AddressBC10, 0x29}: true,
	{AddressRC, 0x1A}:   true,
	{AddressRC, 0x35}:   true,
	{AddressRC, 0x9D}:   true,
	{AddressRC, 0xA2}:   true,
	{AddressRC, 0xAC}:   true,
}

func hkMonitorParser(sub SubType) *parser {
	return &parser{
		numerics: []numericDesc{
			{2, 1, 2, SollTemp, Raum},
			{3, 2, 10, IstTemp, Raum},
			{5, 1, 1, EinschaltoptimierungsZeit, sub},
			{6, 1, 1, AusschaltoptimierungsZeit, sub},
			{14, 1, 1, SollTemp, sub},
		},
		bools: []boolDesc{
			{0, 0, Ausschaltoptimierung, sub},
			{0, 1, Einschaltoptimierung, sub},
			{0, 2, Automatikbetrieb, sub},
			{0, 3, WWVorrang, sub},
			{0, 4, Estrichtrocknung, sub},
			{0, 5, Ferien, sub},
			{0, 6, Frostschutz, sub},
			{1, 0, Sommerbetrieb, sub},
			{1, 1, Tagbetrieb, sub},
			{1, 7, Party, sub},
			{13, 4, SchaltuhrEin, sub},
		},
		extra: func(d *Decoder, m *Message) {
			d.parseHKMonitorExtras(m, sub)
		},
	}
}

// Decoder turns inbound telegrams into values. The handler must be set
// before the first telegram arrives and not change afterwards.
type Decoder struct {
	handler ValueHandler
}

func NewDecoder(handler ValueHandler) *Decoder {
	return &Decoder{handler: handler}
}

// Handle decodes one inbound telegram, emitting zero or more values.
func (d *Decoder) Handle(m *Message) {
	if m.Source == 0 && m.Dest == 0 && m.Type == 0 {
		// invalid packet
		return
	}
	if m.Dest&ResponseFlag != 0 {
		// polling request, nothing to decode
		return
	}
	if d.handler == nil {
		// pointless to parse in that case
		return
	}

	key := dispatchKey{m.Source, m.Type}
	p, ok := parsers[key]
	if !ok {
		if !acknowledged[key] {
			log.Debugf("unhandled telegram: source 0x%02x, type 0x%02x", m.Source, m.Type)
		}
		return
	}

	for _, desc := range p.numerics {
		if m.CanAccess(desc.offset, desc.size) {
			d.handler(NewNumericValue(desc.typ, desc.sub, m.Slice(desc.offset, desc.size), desc.divider))
		}
	}
	for _, desc := range p.bools {
		if m.CanAccess(desc.offset, 1) {
			d.handler(NewBoolValue(desc.typ, desc.sub, m.At(desc.offset), desc.bit))
		}
	}
	if p.extra != nil {
		p.extra(d, m)
	}
}

func (d *Decoder) parseUBAMonitorFastCodes(m *Message) {
	if m.CanAccess(18, 2) {
		d.handler(NewFormattedValue(ServiceCode, None, string([]byte{m.At(18), m.At(19)})))
	}
	if m.CanAccess(20, 2) {
		code := int(m.At(20))<<8 | int(m.At(21))
		d.handler(NewFormattedValue(FehlerCode, None, fmt.Sprintf("%d", code)))
	}
}

// parseUBAErrors walks the payload in ErrorRecordSize steps, starting at
// the first record boundary at or above the telegram offset. The record
// index is the logical offset divided by the record width.
func (d *Decoder) parseUBAErrors(m *Message) {
	start := int(m.Offset)
	if start%ErrorRecordSize != 0 {
		start = (start/ErrorRecordSize + 1) * ErrorRecordSize
	}
	for m.CanAccess(start, ErrorRecordSize) {
		entry := ErrorEntry{
			SourceType: m.Type,
			Index:      start / ErrorRecordSize,
			Record:     parseErrorRecord(m.Slice(start, ErrorRecordSize)),
		}
		d.handler(NewErrorValue(Fehler, None, entry))
		start += ErrorRecordSize
	}
}

func (d *Decoder) parseRCTime(m *Message) {
	if m.CanAccess(0, SystemTimeRecordSize) {
		d.handler(NewSystemTimeValue(SystemZeit, None, parseSystemTimeRecord(m.Slice(0, SystemTimeRecordSize))))
	}
}

func (d *Decoder) parseHKMonitorExtras(m *Message, sub SubType) {
	if m.CanAccess(7, 3) {
		d.handler(NewKennlinieValue(HKKennlinie, sub, m.At(7), m.At(8), m.At(9)))
	}
	// the temperature change rate is only valid while bit 0 of byte 15
	// is clear
	if m.CanAccess(15, 1) && m.At(15)&1 == 0 {
		if m.CanAccess(10, 2) {
			d.handler(NewNumericValue(TemperaturAenderung, Raum, m.Slice(10, 2), 100))
		}
	}
}
