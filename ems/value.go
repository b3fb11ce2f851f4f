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
	"strconv"
)

// Type names the measured quantity of a value.
type Type int

const (
	IstTemp Type = iota
	SollTemp
	SetTemp
	GedaempfteTemp
	TemperaturAenderung
	MaxLeistung
	MomLeistung
	Flammenstrom
	Systemdruck
	BetriebsZeit
	HeizZeit
	Brennerstarts
	WarmwasserbereitungsZeit
	WarmwasserBereitungen
	PumpenModulation
	Mischersteuerung
	EinschaltHysterese
	AusschaltHysterese
	MinModulation
	MaxModulation
	AntipendelZeit
	PumpenNachlaufZeit
	EinschaltoptimierungsZeit
	AusschaltoptimierungsZeit
	FlammeAktiv
	BrennerAktiv
	ZuendungAktiv
	PumpeAktiv
	DreiWegeVentilAufWW
	ZirkulationAktiv
	Tagbetrieb
	Sommerbetrieb
	Automatikbetrieb
	Einschaltoptimierung
	Ausschaltoptimierung
	WWVorrang
	Estrichtrocknung
	Ferien
	Frostschutz
	Party
	SchaltuhrEin
	EinmalLadungAktiv
	DesinfektionAktiv
	NachladungAktiv
	WarmwasserBereitung
	WarmwasserTempOK
	HKKennlinie
	WWSystemType
	Schaltpunkte
	SystemZeit
	ServiceCode
	FehlerCode
	Fehler
)

var typeNames = map[Type]string{
	IstTemp:                   "isttemp",
	SollTemp:                  "solltemp",
	SetTemp:                   "settemp",
	GedaempfteTemp:            "gedaempftetemp",
	TemperaturAenderung:       "temperaturaenderung",
	MaxLeistung:               "maxleistung",
	MomLeistung:               "momleistung",
	Flammenstrom:              "flammenstrom",
	Systemdruck:               "systemdruck",
	BetriebsZeit:              "betriebszeit",
	HeizZeit:                  "heizzeit",
	Brennerstarts:             "brennerstarts",
	WarmwasserbereitungsZeit:  "warmwasserbereitungszeit",
	WarmwasserBereitungen:     "warmwasserbereitungen",
	PumpenModulation:          "pumpenmodulation",
	Mischersteuerung:          "mischersteuerung",
	EinschaltHysterese:        "einschalthysterese",
	AusschaltHysterese:        "ausschalthysterese",
	MinModulation:             "minmodulation",
	MaxModulation:             "maxmodulation",
	AntipendelZeit:            "antipendelzeit",
	PumpenNachlaufZeit:        "pumpennachlaufzeit",
	EinschaltoptimierungsZeit: "einschaltoptimierungszeit",
	AusschaltoptimierungsZeit: "ausschaltoptimierungszeit",
	FlammeAktiv:               "flammeaktiv",
	BrennerAktiv:              "brenneraktiv",
	ZuendungAktiv:             "zuendungaktiv",
	PumpeAktiv:                "pumpeaktiv",
	DreiWegeVentilAufWW:       "dreiwegeventilaufww",
	ZirkulationAktiv:          "zirkulationaktiv",
	Tagbetrieb:                "tagbetrieb",
	Sommerbetrieb:             "sommerbetrieb",
	Automatikbetrieb:          "automatikbetrieb",
	Einschaltoptimierung:      "einschaltoptimierung",
	Ausschaltoptimierung:      "ausschaltoptimierung",
	WWVorrang:                 "wwvorrang",
	Estrichtrocknung:          "estrichtrocknung",
	Ferien:                    "ferien",
	Frostschutz:               "frostschutz",
	Party:                     "party",
	SchaltuhrEin:              "schaltuhrein",
	EinmalLadungAktiv:         "einmalladungaktiv",
	DesinfektionAktiv:         "desinfektionaktiv",
	NachladungAktiv:           "nachladungaktiv",
	WarmwasserBereitung:       "warmwasserbereitung",
	WarmwasserTempOK:          "warmwassertempok",
	HKKennlinie:               "kennlinie",
	WWSystemType:              "wwsystemtype",
	Schaltpunkte:              "schaltpunkte",
	SystemZeit:                "systemzeit",
	ServiceCode:               "servicecode",
	FehlerCode:                "fehlercode",
	Fehler:                    "fehler",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type%d", int(t))
}

// SubType names the logical subject the quantity refers to.
type SubType int

const (
	None SubType = iota
	Kessel
	WW
	HK1
	HK2
	Raum
	Aussen
	Ruecklauf
	Abgas
	Zirkulation
)

var subTypeNames = map[SubType]string{
	None:        "",
	Kessel:      "kessel",
	WW:          "ww",
	HK1:         "hk1",
	HK2:         "hk2",
	Raum:        "raum",
	Aussen:      "aussen",
	Ruecklauf:   "ruecklauf",
	Abgas:       "abgas",
	Zirkulation: "zirkulation",
}

func (s SubType) String() string {
	if name, ok := subTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("subtype%d", int(s))
}

// ReadingType discriminates the payload variant carried by a Value.
type ReadingType int

const (
	Numeric ReadingType = iota
	Boolean
	Enumeration
	Kennlinie
	SystemTime
	Error
	Formatted
)

// ErrorEntry is one decoded UBA error log entry. SourceType is the
// telegram type it came from (0x10 active vs 0x11 stored errors).
type ErrorEntry struct {
	SourceType byte
	Index      int
	Record     ErrorRecord
}

// Value is a single decoded reading. It is constructed once by the
// decoder and never mutated afterwards.
type Value struct {
	Type    Type
	SubType SubType
	Reading ReadingType

	number float64
	flag   bool
	enum   byte
	curve  [3]byte
	clock  SystemTimeRecord
	entry  ErrorEntry
	text   string
}

// NewNumericValue decodes a big-endian signed integer of len(data) bytes
// and scales it by divider. Values with the highest bit set are negative,
// e.g. two bytes 0xff 0xfe decode to -2.
func NewNumericValue(t Type, s SubType, data []byte, divider int) Value {
	value := 0
	for _, b := range data {
		value = value<<8 | int(b)
	}
	if data[0]&0x80 != 0 {
		value -= 1 << (len(data) * 8)
	}
	return Value{Type: t, SubType: s, Reading: Numeric, number: float64(value) / float64(divider)}
}

// NewBoolValue extracts the given bit of a status byte.
func NewBoolValue(t Type, s SubType, value byte, bit uint) Value {
	return Value{Type: t, SubType: s, Reading: Boolean, flag: value&(1<<bit) != 0}
}

func NewEnumValue(t Type, s SubType, value byte) Value {
	return Value{Type: t, SubType: s, Reading: Enumeration, enum: value}
}

func NewKennlinieValue(t Type, s SubType, low, medium, high byte) Value {
	return Value{Type: t, SubType: s, Reading: Kennlinie, curve: [3]byte{low, medium, high}}
}

func NewSystemTimeValue(t Type, s SubType, record SystemTimeRecord) Value {
	return Value{Type: t, SubType: s, Reading: SystemTime, clock: record}
}

func NewErrorValue(t Type, s SubType, entry ErrorEntry) Value {
	return Value{Type: t, SubType: s, Reading: Error, entry: entry}
}

func NewFormattedValue(t Type, s SubType, text string) Value {
	return Value{Type: t, SubType: s, Reading: Formatted, text: text}
}

func (v Value) Number() float64 { return v.number }

func (v Value) Flag() bool { return v.flag }

func (v Value) Enum() byte { return v.enum }

func (v Value) Curve() (low, med, high byte) { return v.curve[0], v.curve[1], v.curve[2] }

func (v Value) Clock() SystemTimeRecord { return v.clock }

func (v Value) ErrorEntry() ErrorEntry { return v.entry }

func (v Value) Text() string { return v.text }

// Format renders the value as published on MQTT and in command replies.
func (v Value) Format() string {
	switch v.Reading {
	case Numeric:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case Boolean:
		if v.flag {
			return "ON"
		}
		return "OFF"
	case Enumeration:
		return strconv.Itoa(int(v.enum))
	case Kennlinie:
		return fmt.Sprintf("%d/%d/%d", v.curve[0], v.curve[1], v.curve[2])
	case SystemTime:
		c := v.clock
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
			2000+int(c.Year), c.Month, c.Day, c.Hour, c.Minute, c.Second)
	case Error:
		return FormatErrorEntry(v.entry)
	case Formatted:
		return v.text
	}
	return ""
}

// FormatErrorEntry renders one error log entry as a single token:
// index;display(code);timestamp;duration;source.
func FormatErrorEntry(e ErrorEntry) string {
	r := e.Record
	return fmt.Sprintf("%d;%s(%d);%04d-%02d-%02d=%02d:%02d;%d;0x%02x",
		e.Index, string(r.Display[:]), r.Code,
		2000+int(r.Year), r.Month, r.Day, r.Hour, r.Minute,
		r.Duration, r.Source)
}
