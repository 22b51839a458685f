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
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/chongyc/natblaster/internal/natproto"
)

// startDirectConnect runs the TTL-staged connect attempt as an
// auxiliary worker joined through an errgroup.Group (spec §5's "join an
// auxiliary worker" mapped onto the connect-worker/sniffer-worker split
// this FSM drives), grounded on directconn.c's detached
// pthread_create/run_direct_conn_connect: set the buddy socket's TTL
// too low before connect() so the outbound SYN opens this peer's own
// NAT mapping but dies before reaching the buddy's router, then restore
// a normal TTL once the connection is up. The returned group is joined
// by Run once the FSM completes, so the worker never outlives the
// attempt it belongs to.
func (c *Context) startDirectConnect(ctx context.Context) *errgroup.Group {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		laddr := fmt.Sprintf("%s:%d", c.cfg.LocalIP, c.buddySocketPort)
		raddr := fmt.Sprintf("%s:%d", c.cfg.BuddyExtIP, c.buddyExtPort)

		conn, err := dialWithTTL(gctx, laddr, raddr, c.cfg.TooLowTTL)
		if err != nil {
			c.directConnStatus.Set(natproto.DirectConnFailed)
			return err
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			if rc, rerr := tc.SyscallConn(); rerr == nil {
				_ = setTTL(rc, ttlOK)
			}
		}

		c.conn = conn
		c.directConnStatus.Set(natproto.DirectConnSuccess)
		return nil
	})
	return g
}

// dialWithTTL connects from laddr to raddr with the socket's IP_TTL set
// to ttl before the connect() syscall runs.
func dialWithTTL(ctx context.Context, laddr, raddr string, ttl int) (net.Conn, error) {
	local, err := net.ResolveTCPAddr("tcp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("resolving local address %s: %w", laddr, err)
	}

	d := net.Dialer{
		LocalAddr: local,
		Control: func(_, _ string, rc syscall.RawConn) error {
			return setTTL(rc, ttl)
		},
	}
	return d.DialContext(ctx, "tcp4", raddr)
}

func setTTL(rc syscall.RawConn, ttl int) error {
	var sockErr error
	if err := rc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, ttl)
	}); err != nil {
		return err
	}
	return sockErr
}
