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
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/chongyc/natblaster/internal/rawnet"
	"github.com/chongyc/natblaster/internal/wire"
)

// stateHello sends the opening HELLO advertising this peer's own
// internal endpoint and the buddy it wants to reach, then waits for
// CONNECT_AGAIN — handled by stateConnAgain since the original's
// recursive call structure folds the read into the next state.
func (c *Context) stateHello() error {
	hello := wire.HelloPayload{
		PeerIP:       c.cfg.LocalIP,
		PeerPort:     c.cfg.LocalPort,
		BuddyIntIP:   c.cfg.BuddyIntIP,
		BuddyIntPort: c.cfg.BuddyIntPort,
		BuddyExtIP:   c.cfg.BuddyExtIP,
	}
	return wire.WriteFrame(c.helperConn, wire.Hello, hello.Marshal())
}

// stateConnAgain reads CONNECT_AGAIN, opens the short-lived second
// connection the helper uses to classify this session's port-allocation
// discipline, and reports back with CONNECTED_AGAIN. The second
// connection only needs to exist long enough for the helper to have
// accepted it before CONNECTED_AGAIN arrives, so it is closed right
// away rather than held for the rest of the attempt.
func (c *Context) stateConnAgain(ctx context.Context) error {
	if _, err := wire.ReadFrame(c.helperConn, wire.ConnectAgain); err != nil {
		return err
	}

	second, err := c.dialHelper(ctx, c.cfg.secondHelperPort())
	if err != nil {
		return fmt.Errorf("opening second helper connection: %w", err)
	}
	defer second.Close()

	return wire.WriteFrame(c.helperConn, wire.ConnectedAgain, nil)
}

// stateCheckPortPred reads this session's own classification and asks
// the helper to look for a buddy.
func (c *Context) stateCheckPortPred() error {
	payload, err := wire.ReadFrame(c.helperConn, wire.PortPred)
	if err != nil {
		return err
	}
	pp, err := wire.UnmarshalPortPred(payload)
	if err != nil {
		return err
	}
	c.portAllocClass = pp.Class

	return wire.WriteFrame(c.helperConn, wire.WaitingForBuddyAlloc, nil)
}

// stateBuddyAlloc reads whether a buddy was found and the pairing is
// supported, then asks for the buddy's external port.
func (c *Context) stateBuddyAlloc() error {
	payload, err := wire.ReadFrame(c.helperConn, wire.BuddyAlloc)
	if err != nil {
		return err
	}
	ba, err := wire.UnmarshalBuddyAlloc(payload)
	if err != nil {
		return err
	}
	if !ba.Supported {
		return fmt.Errorf("peer: unsupported pairing (both peers classified RANDOM)")
	}

	return wire.WriteFrame(c.helperConn, wire.WaitingForBuddyPort, nil)
}

// stateBuddyPort reads the buddy's (possibly still-predicted) external
// port and branches on whether a birthday flood is still needed, and if
// so which side performs it. This state is re-entered recursively after
// each birthday sub-round, exactly as the helper resends BUDDY_PORT.
func (c *Context) stateBuddyPort(ctx context.Context) error {
	payload, err := wire.ReadFrame(c.helperConn, wire.BuddyPort)
	if err != nil {
		return err
	}
	bp, err := wire.UnmarshalBuddyPort(payload)
	if err != nil {
		return err
	}
	c.buddyExtPort = bp.Port

	if !bp.BdayNeeded {
		return c.stateStartDirectConn(ctx)
	}
	if c.portAllocClass == natproto.PortAllocSequential {
		return c.stateReplyBday(ctx)
	}
	return c.stateStartBday(ctx)
}

// stateStartDirectConn starts the TTL-staged connect worker, captures
// the outbound SYN it causes, and reports the captured sequence number
// to the helper for relay to the buddy.
func (c *Context) stateStartDirectConn(ctx context.Context) error {
	c.connectGroup = c.startDirectConnect(ctx)

	sk := rawnet.Skeleton{
		SrcIP:   c.cfg.LocalIP,
		DstIP:   c.cfg.BuddyExtIP,
		SrcPort: rawnet.Port(c.buddySocketPort),
		DstPort: rawnet.Port(c.buddyExtPort),
		SYN:     true,
	}
	obs, err := c.cfg.Sniffer.WaitForTCP(ctx, c.cfg.Device, sk, nil)
	if err != nil {
		return fmt.Errorf("capturing peer-to-buddy SYN: %w", err)
	}
	c.buddySyn = obs

	payload := wire.SeqNumPayload{SeqNum: obs.SeqNum}
	if err := wire.WriteFrame(c.helperConn, wire.BuddySynSeq, payload.Marshal()); err != nil {
		return err
	}

	return c.stateForgeSynAck(ctx)
}

// stateForgeSynAck reads the buddy's own captured SYN sequence number,
// forges a SYN/ACK toward the buddy that looks to the buddy's own
// kernel like the reply it is waiting for, then waits for the direct
// connection to resolve and reports the outcome via GOODBYE.
func (c *Context) stateForgeSynAck(ctx context.Context) error {
	payload, err := wire.ReadFrame(c.helperConn, wire.PeerSynSeq)
	if err != nil {
		return err
	}
	peerSeq, err := wire.UnmarshalSeqNum(payload)
	if err != nil {
		return err
	}

	sk := rawnet.Skeleton{
		SrcIP:   c.buddySyn.SrcIP,
		DstIP:   c.buddySyn.DstIP,
		SrcPort: rawnet.Port(c.buddySyn.SrcPort),
		DstPort: rawnet.Port(c.buddySyn.DstPort),
		SeqNum:  c.buddySyn.SeqNum,
		AckNum:  peerSeq.SeqNum + 1,
		SYN:     true,
		ACK:     true,
		Window:  c.buddySyn.Window,
	}
	if err := c.cfg.Injector.Inject(ctx, c.cfg.Device, sk, nil, ttlOK); err != nil {
		return fmt.Errorf("forging SYN/ACK: %w", err)
	}

	status, waitErr := c.directConnStatus.Wait(ctx, c.cfg.DirectConnTimeout)
	if waitErr != nil {
		status = natproto.DirectConnFailed
	}

	goodbye := wire.GoodbyePayload{Success: status == natproto.DirectConnSuccess}
	if err := wire.WriteFrame(c.helperConn, wire.Goodbye, goodbye.Marshal()); err != nil {
		return err
	}
	if status != natproto.DirectConnSuccess {
		return fmt.Errorf("peer: direct connection attempt failed")
	}
	return nil
}

// stateStartBday runs when this peer is RANDOM: flood SYNs toward the
// buddy with random source ports to open many candidate NAT mappings,
// start listening for whichever SYN/ACK comes back, and tell the helper
// the flood's sequence number. The sniffer runs as an auxiliary worker
// joined through an errgroup.Group, bounded by FindSynAckTimeout.
func (c *Context) stateStartBday(ctx context.Context) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	seq := r.Uint32()

	if err := floodSyns(ctx, c.cfg.Injector, c.cfg.Device, c.cfg.LocalIP, c.cfg.BuddyExtIP, c.buddyExtPort, seq, c.cfg.TooLowTTL, c.cfg.SynFloodCount); err != nil {
		return fmt.Errorf("SYN flood: %w", err)
	}

	sk := rawnet.Skeleton{
		SrcIP:   c.cfg.BuddyExtIP,
		DstIP:   c.cfg.LocalIP,
		SrcPort: rawnet.Port(c.buddyExtPort),
		SYN:     true,
		ACK:     true,
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.FindSynAckTimeout)
	g, gctx := errgroup.WithContext(waitCtx)
	var synackObs rawnet.Observed
	g.Go(func() error {
		obs, err := c.cfg.Sniffer.WaitForTCP(gctx, c.cfg.Device, sk, nil)
		synackObs = obs
		return err
	})

	payload := wire.SeqNumPayload{SeqNum: seq}
	if err := wire.WriteFrame(c.helperConn, wire.SynFlooded, payload.Marshal()); err != nil {
		cancel()
		return err
	}

	return c.stateEndBday(ctx, g, cancel, &synackObs)
}

// stateEndBday reads BUDDY_SYN_ACK_FLOODED (which the helper sends as
// soon as it has recorded this side's flood sequence number), then joins
// the listening sniffer worker to recover the port that actually
// traversed this peer's NAT, reports it, and re-enters BUDDY_PORT with
// full knowledge.
func (c *Context) stateEndBday(ctx context.Context, g *errgroup.Group, cancel context.CancelFunc, obs *rawnet.Observed) error {
	defer cancel()

	if _, err := wire.ReadFrame(c.helperConn, wire.BuddySynAckFlooded); err != nil {
		return err
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("capturing flooded SYN/ACK: %w", err)
	}
	if len(obs.Payload) != 2 {
		return fmt.Errorf("peer: flooded SYN/ACK payload must carry a 2-byte port, got %d bytes", len(obs.Payload))
	}
	port := binary.BigEndian.Uint16(obs.Payload)

	payload := wire.PortPayload{Port: port}
	if err := wire.WriteFrame(c.helperConn, wire.BdaySuccessPort, payload.Marshal()); err != nil {
		return err
	}

	// The payload carries the external candidate port the buddy aimed
	// at; obs.DstPort is this packet's actual destination port as
	// captured here, i.e. the local port our own NAT mapping was
	// created with. The socket we eventually bind for the direct
	// connection lives on this side, so it must rebind to obs.DstPort,
	// not the buddy's payload value.
	c.buddySocketPort = obs.DstPort
	return c.stateBuddyPort(ctx)
}

// stateReplyBday runs when this peer is SEQUENTIAL and the buddy is
// RANDOM: this peer helps the buddy discover its port by SYN/ACK
// flooding toward it.
func (c *Context) stateReplyBday(ctx context.Context) error {
	if err := wire.WriteFrame(c.helperConn, wire.WaitingToSynAckFlood, nil); err != nil {
		return err
	}
	return c.stateBdaySynAckFlood(ctx)
}

// stateBdaySynAckFlood reads the buddy's own flood sequence number,
// floods SYN/ACKs carrying each candidate destination port as payload
// so the buddy's sniffer can recover which one got through, and
// re-enters BUDDY_PORT.
func (c *Context) stateBdaySynAckFlood(ctx context.Context) error {
	payload, err := wire.ReadFrame(c.helperConn, wire.SynAckFloodSeqNum)
	if err != nil {
		return err
	}
	seq, err := wire.UnmarshalSeqNum(payload)
	if err != nil {
		return err
	}

	if err := synAckFlood(ctx, c.cfg.Injector, c.cfg.Device, c.cfg.LocalIP, c.cfg.BuddyExtIP, c.buddySocketPort, seq.SeqNum, c.cfg.SynAckFloodCount); err != nil {
		return fmt.Errorf("SYN/ACK flood: %w", err)
	}

	if err := wire.WriteFrame(c.helperConn, wire.SynAckFloodDone, nil); err != nil {
		return err
	}
	return c.stateBuddyPort(ctx)
}
