/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/chongyc/natblaster/internal/helper"
)

func main() {
	c := helper.DefaultConfig()

	var listenPort int
	var loglevel string
	var configFile string
	var pprofAddr string

	flag.IntVar(&listenPort, "listen_port", 0, "Port to listen for peer connections on (required)")
	flag.StringVar(&c.MonitoringAddr, "monitoring_addr", "", "host:port to serve Prometheus metrics on")
	flag.StringVar(&configFile, "config", "", "Path to an optional YAML file overriding the default timeouts")
	flag.StringVar(&loglevel, "loglevel", "warning", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&pprofAddr, "pprofaddr", "", "host:port for the pprof profiler to bind")
	flag.Parse()

	switch loglevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", loglevel)
	}

	if listenPort == 0 {
		fmt.Fprintln(os.Stderr, "natblaster-helper: --listen_port is required")
		flag.Usage()
		os.Exit(1)
	}
	c.ListenAddr = fmt.Sprintf(":%d", listenPort)

	if configFile != "" {
		if err := helper.LoadConfigFile(configFile, &c); err != nil {
			log.Fatalf("loading --config %s: %v", configFile, err)
		}
	}

	if pprofAddr != "" {
		log.Warningf("Starting profiler on %s", pprofAddr)
		go func() {
			log.Println(http.ListenAndServe(pprofAddr, nil))
		}()
	}

	s := helper.NewServer(c)
	if err := s.Start(); err != nil {
		log.Fatalf("helper server stopped: %v", err)
	}
}
