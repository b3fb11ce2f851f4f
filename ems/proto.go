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

// Bus addresses of the controller modules. The collector itself appears
// on the bus as AddressPC.
const (
	AddressUBA  byte = 0x08
	AddressBC10 byte = 0x09
	AddressRC   byte = 0x10
	AddressWM10 byte = 0x11
	AddressMM10 byte = 0x21
	AddressPC   byte = 0x0b
)

// The high bit of the destination byte marks a polling request on inbound
// telegrams. On outbound telegrams it asks the destination for a response.
const ResponseFlag byte = 0x80

// SystemTimeRecord is the clock record broadcast by the RC controller,
// in controller byte order.
type SystemTimeRecord struct {
	Year      uint8 // since 2000
	Month     uint8
	Hour      uint8
	Day       uint8
	Minute    uint8
	Second    uint8
	DayOfWeek uint8 // 0 = Monday
	Flags     uint8 // bit 0: DST active
}

const SystemTimeRecordSize = 8

func parseSystemTimeRecord(data []byte) SystemTimeRecord {
	return SystemTimeRecord{
		Year:      data[0],
		Month:     data[1],
		Hour:      data[2],
		Day:       data[3],
		Minute:    data[4],
		Second:    data[5],
		DayOfWeek: data[6],
		Flags:     data[7],
	}
}

// ErrorRecord is one entry of the UBA error log.
type ErrorRecord struct {
	Display  [2]byte // service display code, ASCII
	Code     uint16
	Year     uint8 // since 2000
	Month    uint8
	Hour     uint8
	Day      uint8
	Minute   uint8
	Duration uint16 // minutes
	Source   uint8  // bus address of the module that raised the error
}

const ErrorRecordSize = 12

func parseErrorRecord(data []byte) ErrorRecord {
	return ErrorRecord{
		Display:  [2]byte{data[0], data[1]},
		Code:     uint16(data[2])<<8 | uint16(data[3]),
		Year:     data[4],
		Month:    data[5],
		Hour:     data[6],
		Day:      data[7],
		Minute:   data[8],
		Duration: uint16(data[9])<<8 | uint16(data[10]),
		Source:   data[11],
	}
}

// Checksum computes the EMS link-layer CRC (polynomial 0x0c) over a
// telegram, excluding the CRC byte itself.
func Checksum(data []byte) byte {
	var crc byte
	for _, b := range data {
		var carry byte
		if crc&0x80 != 0 {
			crc ^= 0x0c
			carry = 1
		}
		crc = crc<<1 | carry
		crc ^= b
	}
	return crc
}
