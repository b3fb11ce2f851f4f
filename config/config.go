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

package config

import (
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds application configuration
type Config struct {
	LogLevel     string
	Bridge       string
	CommandBind  string
	MetricsBind  string
	MQTTURL      string
	ReplyTimeout time.Duration
}

// Load parses command-line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.LogLevel, "log-level", lookupEnvOrString("EMS_COLLECTOR_LOG_LEVEL", "INFO"), "logging level")
	flag.StringVar(&cfg.Bridge, "bridge", lookupEnvOrString("EMS_COLLECTOR_BRIDGE", "192.168.1.100:5000"), "host:port of the serial bridge carrying the EMS bus")
	flag.StringVar(&cfg.CommandBind, "command-bind", lookupEnvOrString("EMS_COLLECTOR_COMMAND_BIND", "0.0.0.0:7777"), "address to bind for the TCP command interface")
	flag.StringVar(&cfg.MetricsBind, "metrics-bind", lookupEnvOrString("EMS_COLLECTOR_METRICS_BIND", "0.0.0.0:2112"), "address to bind for healthz and prometheus metrics endpoints, or \"false\" to disable")
	flag.StringVar(&cfg.MQTTURL, "mqtt", lookupEnvOrString("EMS_COLLECTOR_MQTT", "mqtt[s]://localhost:1883"), "MQTT URI, in the format mqtt[s]://[<user>:<password>]@<host>:<port>[/<prefix>], or \"false\" to disable")
	flag.DurationVar(&cfg.ReplyTimeout, "reply-timeout", lookupEnvOrDuration("EMS_COLLECTOR_REPLY_TIMEOUT", 2*time.Second), "how long to wait for a bus reply to a command query")
	flag.Parse()

	return cfg
}

// SetupLogging configures the logging level
func (cfg *Config) SetupLogging() {
	log.SetFormatter(&log.TextFormatter{})
	ll, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
}

func lookupEnvOrString(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func lookupEnvOrDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
