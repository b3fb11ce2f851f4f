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

// Package monitor is the value sink: it forwards decoded readings to
// MQTT and exports numeric ones as Prometheus gauges.
package monitor

import (
	"github.com/geowiwi/ems-collector/ems"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Publisher is the part of the MQTT client the monitor needs.
type Publisher interface {
	PublishValue(topic string, payload string) error
}

// Monitor caches the last published rendering per topic and republishes
// only on change.
type Monitor struct {
	publisher Publisher
	cache     map[string]string
	gauges    map[string]prometheus.Gauge
}

func New(publisher Publisher) *Monitor {
	return &Monitor{
		publisher: publisher,
		cache:     make(map[string]string),
		gauges:    make(map[string]prometheus.Gauge),
	}
}

// HandleValue is the bus value handler. It runs on the bus read
// goroutine; MQTT publishes are asynchronous, so it does not block.
func (m *Monitor) HandleValue(v ems.Value) {
	topic := Topic(v)
	payload := v.Format()

	m.updateGauge(topic, v)

	if cmp.Equal(m.cache[topic], payload) {
		return
	}
	m.cache[topic] = payload

	if err := m.publisher.PublishValue(topic, payload); err != nil {
		log.Errorf("failed to publish %s: %v", topic, err)
	}
}

// Topic maps a value to its MQTT subtopic: subtype/type, or just the
// type name for values without a subject.
func Topic(v ems.Value) string {
	if v.SubType == ems.None {
		return v.Type.String()
	}
	return v.SubType.String() + "/" + v.Type.String()
}

func (m *Monitor) updateGauge(topic string, v ems.Value) {
	var value float64
	switch v.Reading {
	case ems.Numeric:
		value = v.Number()
	case ems.Boolean:
		if v.Flag() {
			value = 1
		}
	default:
		return
	}

	gauge, ok := m.gauges[topic]
	if !ok {
		gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ems",
			Name:        v.Type.String(),
			ConstLabels: prometheus.Labels{"subtype": v.SubType.String()},
		})
		if err := prometheus.Register(gauge); err != nil {
			log.Debugf("failed to register gauge for %s: %v", topic, err)
			return
		}
		m.gauges[topic] = gauge
	}
	gauge.Set(value)
}
