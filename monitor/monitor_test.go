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

package monitor

import (
	"testing"

	"github.com/geowiwi/ems-collector/ems"
)

type fakePublisher struct {
	published []publication
}

type publication struct {
	topic   string
	payload string
}

func (p *fakePublisher) PublishValue(topic string, payload string) error {
	p.published = append(p.published, publication{topic, payload})
	return nil
}

func TestTopicMapping(t *testing.T) {
	tests := []struct {
		name     string
		value    ems.Value
		expected string
	}{
		{"with subtype", ems.NewNumericValue(ems.IstTemp, ems.Kessel, []byte{0x01, 0x9a}, 10), "kessel/isttemp"},
		{"without subtype", ems.NewBoolValue(ems.FlammeAktiv, ems.None, 0x01, 0), "flammeaktiv"},
		{"heating circuit", ems.NewKennlinieValue(ems.HKKennlinie, ems.HK1, 1, 2, 3), "hk1/kennlinie"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Topic(tt.value); got != tt.expected {
				t.Errorf("expected topic %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestHandleValuePublishes(t *testing.T) {
	publisher := &fakePublisher{}
	m := New(publisher)

	m.HandleValue(ems.NewNumericValue(ems.IstTemp, ems.Kessel, []byte{0x01, 0x9a}, 10))

	if len(publisher.published) != 1 {
		t.Fatalf("expected one publication, got %d", len(publisher.published))
	}
	if publisher.published[0].topic != "kessel/isttemp" {
		t.Errorf("expected topic kessel/isttemp, got %s", publisher.published[0].topic)
	}
	if publisher.published[0].payload != "41" {
		t.Errorf("expected payload 41, got %s", publisher.published[0].payload)
	}
}

func TestHandleValueSuppressesUnchanged(t *testing.T) {
	publisher := &fakePublisher{}
	m := New(publisher)

	value := ems.NewBoolValue(ems.PumpeAktiv, ems.Kessel, 0x20, 5)
	m.HandleValue(value)
	m.HandleValue(value)

	if len(publisher.published) != 1 {
		t.Fatalf("expected a single publication for an unchanged value, got %d", len(publisher.published))
	}

	m.HandleValue(ems.NewBoolValue(ems.PumpeAktiv, ems.Kessel, 0x00, 5))
	if len(publisher.published) != 2 {
		t.Fatalf("expected a second publication after the value changed, got %d", len(publisher.published))
	}
	if publisher.published[1].payload != "OFF" {
		t.Errorf("expected OFF, got %s", publisher.published[1].payload)
	}
}
