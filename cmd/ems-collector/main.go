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

package main

import (
	"net/http"
	"net/url"
	"os"

	"github.com/geowiwi/ems-collector/command"
	"github.com/geowiwi/ems-collector/config"
	"github.com/geowiwi/ems-collector/ems"
	"github.com/geowiwi/ems-collector/monitor"
	"github.com/geowiwi/ems-collector/mqtt"
	healthz "github.com/klyve/go-healthz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// determineMQTTPrefix extracts the topic prefix from the URL path, with
// a fixed fallback
func determineMQTTPrefix(mqttURL *url.URL) string {
	if len(mqttURL.Path) > 1 {
		return mqttURL.Path[1:]
	}
	return "ems"
}

func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	if cfg.MetricsBind != "false" {
		go func(listenAddress string) {
			log.Infof("Starting metrics server on %s", listenAddress)
			instance := healthz.Instance{
				Logger:   log.New(),
				Detailed: true,
			}

			http.Handle("/metrics", promhttp.Handler())
			http.Handle("/healthz", instance.Healthz())
			http.Handle("/liveness", instance.Liveness())

			if err := http.ListenAndServe(listenAddress, nil); err != nil {
				log.Errorf("HTTP server error: %v", err)
			}
		}(cfg.MetricsBind)
	}

	var handler ems.ValueHandler
	if cfg.MQTTURL != "false" {
		mqttURL, err := url.Parse(cfg.MQTTURL)
		if err != nil {
			log.Fatalf("Invalid MQTT URL: %s", cfg.MQTTURL)
			os.Exit(1)
		}
		mqttPrefix := determineMQTTPrefix(mqttURL)
		mqttClient, err := mqtt.NewClient(mqttURL, "ems-collector", mqttPrefix)
		if err != nil {
			log.Errorf("Failed to create MQTT client: %s", err)
			os.Exit(1)
		}
		log.Infof("Connected to MQTT broker %s (publishing on \"%s\")", mqttURL.Host, mqttPrefix)
		handler = monitor.New(mqttClient).HandleValue
	}

	transport, err := ems.DialTCP(cfg.Bridge)
	if err != nil {
		log.Fatalf("Failed to connect to serial bridge: %v", err)
		os.Exit(1)
	}
	log.Infof("Connected to serial bridge at %s", cfg.Bridge)

	bus := ems.NewBus(transport, handler)

	server, err := command.NewServer(bus, cfg.CommandBind, cfg.ReplyTimeout)
	if err != nil {
		log.Fatalf("Failed to bind command interface: %v", err)
		os.Exit(1)
	}
	log.Infof("Command interface listening on %s", server.Addr())

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("Command server error: %v", err)
		}
	}()

	// the bus read loop carries the process; a transport failure is
	// fatal and the supervisor restarts us
	if err := bus.Run(); err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}
