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

package peer

import (
	"context"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/chongyc/natblaster/internal/rawnet"
	"github.com/chongyc/natblaster/internal/syncflag"
)

// Context is one connection attempt's state, mirroring the original's
// peer_conn_info_t. Unlike the helper's Session it is never shared
// across goroutines through a registry: the direct-connect worker is
// the sole exception, publishing its outcome through directConnStatus.
type Context struct {
	cfg Config

	helperConn net.Conn

	// buddySocketPort is the local port the eventual direct connection
	// binds from. It starts as cfg.LocalPort and is overwritten once a
	// birthday flood discovers a different NAT-chosen port.
	buddySocketPort uint16

	portAllocClass natproto.PortAllocClass
	buddyExtPort   uint16

	// buddySyn is this peer's own outbound SYN toward the buddy, as
	// captured by the sniffer in stateStartDirectConn. The forged
	// SYN/ACK reuses its addressing and sequence number verbatim.
	buddySyn rawnet.Observed

	directConnStatus *syncflag.Flag[natproto.DirectConnStatus]

	// conn is set by the direct-connect worker on success.
	conn net.Conn

	// connectGroup joins the direct-connect worker goroutine, once
	// stateStartDirectConn has started it. Nil if no direct-connect
	// attempt was ever made (a pure birthday-flood helper role).
	connectGroup *errgroup.Group
}

// Run drives one full connection attempt against cfg.HelperIP:HelperPort
// for the buddy described in cfg, returning the established direct
// connection on success.
func Run(ctx context.Context, cfg Config) (net.Conn, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c, err := newContext(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer c.helperConn.Close()

	if err := c.stateHello(); err != nil {
		return nil, fmt.Errorf("HELLO: %w", err)
	}
	if err := c.stateConnAgain(ctx); err != nil {
		return nil, fmt.Errorf("CONN_AGAIN: %w", err)
	}
	if err := c.stateCheckPortPred(); err != nil {
		return nil, fmt.Errorf("PORT_PRED: %w", err)
	}
	if err := c.stateBuddyAlloc(); err != nil {
		return nil, fmt.Errorf("BUDDY_ALLOC: %w", err)
	}
	if err := c.stateBuddyPort(ctx); err != nil {
		return nil, fmt.Errorf("BUDDY_PORT: %w", err)
	}

	if c.connectGroup != nil {
		if err := c.connectGroup.Wait(); err != nil && c.conn == nil {
			log.Debugf("peer: connect worker exited: %v", err)
		}
	}

	if c.conn == nil {
		return nil, fmt.Errorf("peer: protocol completed without establishing a direct connection")
	}
	log.Infof("peer: established direct connection to %s", c.conn.RemoteAddr())
	return c.conn, nil
}

func newContext(ctx context.Context, cfg Config) (*Context, error) {
	c := &Context{
		cfg:              cfg,
		buddySocketPort:  cfg.LocalPort,
		directConnStatus: syncflag.New[natproto.DirectConnStatus](),
	}

	conn, err := c.dialHelper(ctx, cfg.helperPort())
	if err != nil {
		return nil, fmt.Errorf("peer: connecting to helper: %w", err)
	}
	c.helperConn = conn
	return c, nil
}

func (c *Context) dialHelper(ctx context.Context, localPort uint16) (net.Conn, error) {
	d := net.Dialer{
		LocalAddr: &net.TCPAddr{IP: c.cfg.LocalIP, Port: int(localPort)},
	}
	return d.DialContext(ctx, "tcp4", fmt.Sprintf("%s:%d", c.cfg.HelperIP, c.cfg.HelperPort))
}
