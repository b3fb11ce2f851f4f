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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func decodeAll(t *testing.T, frame []byte) []Value {
	t.Helper()
	var values []Value
	dec := NewDecoder(func(v Value) {
		values = append(values, v)
	})
	m, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	dec.Handle(m)
	return values
}

func findValue(values []Value, typ Type, sub SubType) (Value, bool) {
	for _, v := range values {
		if v.Type == typ && v.SubType == sub {
			return v, true
		}
	}
	return Value{}, false
}

func TestUBAMonitorFast(t *testing.T) {
	frame := []byte{
		0x08, 0x10, 0x18, 0x00,
		0x00, 0x01, 0x9a, 0x00, 0x00, 0x00, 0xd6, 0x00, 0x00, 0x00,
		0xa8, 0x00, 0x00, 0x00, 0x15, 0x32, 0x38, 0x00, 0x00,
	}
	values := decodeAll(t, frame)

	soll, ok := findValue(values, SollTemp, Kessel)
	if !ok || soll.Number() != 0 {
		t.Errorf("expected (SollTemp, Kessel) = 0, got %+v (found %v)", soll, ok)
	}
	ist, ok := findValue(values, IstTemp, Kessel)
	if !ok || ist.Number() != 41.0 {
		t.Errorf("expected (IstTemp, Kessel) = 41.0, got %+v (found %v)", ist, ok)
	}
	flamme, ok := findValue(values, FlammeAktiv, None)
	if !ok || flamme.Flag() {
		t.Errorf("expected FlammeAktiv = false, got %+v (found %v)", flamme, ok)
	}
	brenner, ok := findValue(values, BrennerAktiv, None)
	if !ok || brenner.Flag() {
		t.Errorf("expected BrennerAktiv = false, got %+v (found %v)", brenner, ok)
	}
}

func TestUBAMonitorFastServiceCode(t *testing.T) {
	// payload long enough to reach logical bytes 18..21
	data := make([]byte, 22)
	data[18] = '0'
	data[19] = 'A'
	data[20] = 0x02
	data[21] = 0x05
	frame := append([]byte{0x08, 0x00, 0x18, 0x00}, data...)
	values := decodeAll(t, frame)

	service, ok := findValue(values, ServiceCode, None)
	if !ok || service.Text() != "0A" {
		t.Errorf("expected service code \"0A\", got %+v (found %v)", service, ok)
	}
	code, ok := findValue(values, FehlerCode, None)
	if !ok || code.Text() != "517" {
		t.Errorf("expected error code \"517\", got %+v (found %v)", code, ok)
	}
}

func TestUBAMonitorFastServiceCodeTruncated(t *testing.T) {
	// only one of the two service code bytes present: neither formatted
	// value may be emitted
	frame := append([]byte{0x08, 0x00, 0x18, 0x00}, make([]byte, 19)...)
	values := decodeAll(t, frame)

	if _, ok := findValue(values, ServiceCode, None); ok {
		t.Error("service code emitted from truncated payload")
	}
	if _, ok := findValue(values, FehlerCode, None); ok {
		t.Error("error code emitted from truncated payload")
	}
}

func TestPollingRequestDiscarded(t *testing.T) {
	values := decodeAll(t, []byte{0x08, 0x88, 0x18, 0x00})
	if len(values) != 0 {
		t.Errorf("expected no values from polling request, got %d", len(values))
	}
}

func TestInvalidHeaderDiscarded(t *testing.T) {
	values := decodeAll(t, []byte{0x00, 0x00, 0x00, 0x05, 0xab, 0xcd})
	if len(values) != 0 {
		t.Errorf("expected no values from all-zero header, got %d", len(values))
	}
}

func TestShortFrameRejected(t *testing.T) {
	if _, err := DecodeMessage([]byte{0x08, 0x00, 0x18}); err == nil {
		t.Error("expected an error for a three byte frame")
	}
}

func TestUnhandledCombinationEmitsNothing(t *testing.T) {
	values := decodeAll(t, []byte{0x42, 0x00, 0x99, 0x00, 0x01, 0x02})
	if len(values) != 0 {
		t.Errorf("expected no values for unknown (source, type), got %d", len(values))
	}
}

func TestNilHandlerSkipsParsing(t *testing.T) {
	dec := NewDecoder(nil)
	m, _ := DecodeMessage([]byte{0x08, 0x00, 0x18, 0x00, 0x00, 0x01, 0x9a})
	// must not panic and must not parse
	dec.Handle(m)
}

func TestOffsetWindowAddressing(t *testing.T) {
	// UBA monitor fast with offset 11: payload byte 0 is logical byte 11
	// (the WW temperature), everything below 11 is absent
	frame := []byte{0x08, 0x00, 0x18, 0x0b, 0x01, 0x9a}
	values := decodeAll(t, frame)

	ww, ok := findValue(values, IstTemp, WW)
	if !ok || ww.Number() != 41.0 {
		t.Errorf("expected (IstTemp, WW) = 41.0, got %+v (found %v)", ww, ok)
	}
	if _, ok := findValue(values, SollTemp, Kessel); ok {
		t.Error("descriptor below the offset window fired")
	}
	if _, ok := findValue(values, IstTemp, Ruecklauf); ok {
		t.Error("descriptor beyond the payload fired")
	}
}

func TestCanAccessBoundary(t *testing.T) {
	m := &Message{Offset: 4, Data: []byte{1, 2, 3, 4}}

	if !m.CanAccess(4, 4) {
		t.Error("full window access rejected")
	}
	if !m.CanAccess(7, 1) {
		t.Error("last byte access rejected")
	}
	if m.CanAccess(7, 2) {
		t.Error("access past the payload end allowed")
	}
	if m.CanAccess(3, 1) {
		t.Error("access below the offset allowed")
	}
}

func TestErrorRecordIteration(t *testing.T) {
	tests := []struct {
		name    string
		offset  byte
		length  int
		indices []int
	}{
		{"three aligned records from offset one record", ErrorRecordSize, 3 * ErrorRecordSize, []int{1, 2, 3}},
		{"from start", 0, 2 * ErrorRecordSize, []int{0, 1}},
		{"unaligned offset rounds up", ErrorRecordSize + 1, 2 * ErrorRecordSize, []int{2}},
		{"partial record emits nothing", 0, ErrorRecordSize - 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := append([]byte{0x08, 0x00, 0x10, tt.offset}, make([]byte, tt.length)...)
			values := decodeAll(t, frame)

			var indices []int
			for _, v := range values {
				if v.Reading != Error {
					t.Fatalf("unexpected non-error value %+v", v)
				}
				if v.ErrorEntry().SourceType != 0x10 {
					t.Errorf("error entry carries wrong source type 0x%02x", v.ErrorEntry().SourceType)
				}
				indices = append(indices, v.ErrorEntry().Index)
			}
			if diff := cmp.Diff(tt.indices, indices); diff != "" {
				t.Errorf("emitted indices mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHKMonitorKennlinie(t *testing.T) {
	data := make([]byte, 16)
	data[7], data[8], data[9] = 20, 30, 40
	frame := append([]byte{0x10, 0x00, 0x3e, 0x00}, data...)
	values := decodeAll(t, frame)

	curve, ok := findValue(values, HKKennlinie, HK1)
	if !ok {
		t.Fatal("expected a kennlinie value")
	}
	low, med, high := curve.Curve()
	if low != 20 || med != 30 || high != 40 {
		t.Errorf("kennlinie triple wrong: %d/%d/%d", low, med, high)
	}
}

func TestHKMonitorConditionalTemperatureChange(t *testing.T) {
	build := func(statusBit15 byte) []byte {
		data := make([]byte, 16)
		data[10], data[11] = 0x00, 0x96 // 1.5 at divider 100
		data[15] = statusBit15
		return append([]byte{0x10, 0x00, 0x48, 0x00}, data...)
	}

	values := decodeAll(t, build(0x00))
	change, ok := findValue(values, TemperaturAenderung, Raum)
	if !ok || change.Number() != 1.5 {
		t.Errorf("expected temperature change 1.5 with bit 0 clear, got %+v (found %v)", change, ok)
	}

	values = decodeAll(t, build(0x01))
	if _, ok := findValue(values, TemperaturAenderung, Raum); ok {
		t.Error("temperature change emitted with bit 0 set")
	}

	// byte 15 absent: field must not be emitted either
	short := build(0x00)[:4+10+2]
	values = decodeAll(t, short)
	if _, ok := findValue(values, TemperaturAenderung, Raum); ok {
		t.Error("temperature change emitted without the status byte")
	}
}

func TestRCTimeMessage(t *testing.T) {
	frame := []byte{0x10, 0x00, 0x06, 0x00, 23, 8, 14, 24, 30, 5, 3, 1}
	values := decodeAll(t, frame)

	if len(values) != 1 {
		t.Fatalf("expected exactly one value, got %d", len(values))
	}
	clock := values[0].Clock()
	expected := SystemTimeRecord{Year: 23, Month: 8, Hour: 14, Day: 24, Minute: 30, Second: 5, DayOfWeek: 3, Flags: 1}
	if diff := cmp.Diff(expected, clock); diff != "" {
		t.Errorf("system time mismatch (-want +got):\n%s", diff)
	}
}

func TestRCBucketDoesNotFallThroughToWM(t *testing.T) {
	// an RC telegram with a WM10 type must stay unhandled
	frame := []byte{0x10, 0x00, 0x9c, 0x00, 0x01, 0x9a, 0x64}
	values := decodeAll(t, frame)
	if len(values) != 0 {
		t.Errorf("RC frame was parsed with a WM10 parser, got %d values", len(values))
	}
}

func TestCommandEncoding(t *testing.T) {
	tests := []struct {
		name           string
		dest           byte
		typ            byte
		offset         byte
		data           []byte
		expectResponse bool
		expected       []byte
	}{
		{"write without response", AddressUBA, 0x33, 2, []byte{0x3c}, false, []byte{0x08, 0x33, 0x02, 0x3c}},
		{"query with response bit", AddressRC, 0x3d, 2, []byte{0x01}, true, []byte{0x90, 0x3d, 0x02, 0x01}},
		{"empty payload", AddressMM10, 0xab, 0, nil, false, []byte{0x21, 0xab, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCommand(tt.dest, tt.typ, tt.offset, tt.data, tt.expectResponse)
			if cmd.Source != AddressPC {
				t.Errorf("expected source 0x%02x, got 0x%02x", AddressPC, cmd.Source)
			}
			if diff := cmp.Diff(tt.expected, cmd.SendData()); diff != "" {
				t.Errorf("wire layout mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// a well-formed single-descriptor frame survives decode + re-encode
	original := []byte{0x90, 0x3d, 0x02, 0x2b}
	m, err := DecodeMessage(append([]byte{AddressPC}, original...))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(original, m.SendData()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
