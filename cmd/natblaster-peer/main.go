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
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/chongyc/natblaster/internal/peer"
	"github.com/chongyc/natblaster/internal/rawnet/capture"
	"github.com/chongyc/natblaster/internal/rawnet/forge"
)

var (
	okString   = color.GreenString("[OK]")
	failString = color.RedString("[FAIL]")
)

func main() {
	var helperIP, localIP, buddyExtIP, buddyIntIP string
	var helperPort, localPort, buddyIntPort int
	var message, device, loglevel, configFile string
	var random bool

	flag.StringVar(&helperIP, "helper_ip", "", "Helper's IP address (required)")
	flag.IntVar(&helperPort, "helper_port", 0, "Helper's listening port (required)")
	flag.StringVar(&localIP, "local_ip", "", "This host's own IP address (required)")
	flag.IntVar(&localPort, "local_port", 0, "This host's local port to bind from (required)")
	flag.StringVar(&buddyExtIP, "buddy_ext_ip", "", "Buddy's external (NATed) IP address (required)")
	flag.StringVar(&buddyIntIP, "buddy_int_ip", "", "Buddy's internal IP address (required)")
	flag.IntVar(&buddyIntPort, "buddy_int_port", 0, "Buddy's internal port (required)")
	flag.StringVar(&message, "message", "", "Message to write to the established socket (required)")
	flag.StringVar(&device, "device", "", "Network interface to capture and forge on (auto-detected if absent)")
	flag.BoolVar(&random, "random", false, "Simulate a RANDOM-class NAT peer, for local testing")
	flag.StringVar(&configFile, "config", "", "Path to an optional YAML file overriding TTL/timeout/flood-count tunables")
	flag.StringVar(&loglevel, "loglevel", "warning", "Set a log level. Can be: debug, info, warning, error")
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

	if helperIP == "" || helperPort == 0 || localIP == "" || localPort == 0 ||
		buddyExtIP == "" || buddyIntIP == "" || buddyIntPort == 0 || message == "" {
		fmt.Fprintln(os.Stderr, "natblaster-peer: --helper_ip, --helper_port, --local_ip, --local_port, --buddy_ext_ip, --buddy_int_ip, --buddy_int_port, and --message are all required")
		flag.Usage()
		os.Exit(1)
	}

	cfg := peer.DefaultConfig()
	cfg.HelperIP = net.ParseIP(helperIP)
	cfg.HelperPort = uint16(helperPort)
	cfg.LocalIP = net.ParseIP(localIP)
	cfg.LocalPort = uint16(localPort)
	cfg.BuddyExtIP = net.ParseIP(buddyExtIP)
	cfg.BuddyIntIP = net.ParseIP(buddyIntIP)
	cfg.BuddyIntPort = uint16(buddyIntPort)
	cfg.Random = random
	cfg.Injector = &forge.Forger{}
	cfg.Sniffer = &capture.Sniffer{}

	if configFile != "" {
		if err := peer.LoadConfigFile(configFile, &cfg); err != nil {
			log.Fatalf("loading --config %s: %v", configFile, err)
		}
	}

	ifaceName, _, err := natproto.InterfaceAddr(device)
	if err != nil {
		fmt.Printf("%s resolving capture device: %v\n", failString, err)
		os.Exit(1)
	}
	cfg.Device = ifaceName

	conn, err := peer.Run(context.Background(), cfg)
	if err != nil {
		fmt.Printf("%s %v\n", failString, err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(message)); err != nil {
		fmt.Printf("%s writing message to direct connection: %v\n", failString, err)
		os.Exit(1)
	}

	reply := make([]byte, 63)
	n, err := conn.Read(reply)
	if err != nil {
		fmt.Printf("%s reading reply from direct connection: %v\n", failString, err)
		os.Exit(1)
	}

	fmt.Printf("%s direct connection established, buddy replied: %q\n", okString, reply[:n])
}
