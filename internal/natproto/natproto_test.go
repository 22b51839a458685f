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

package natproto

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpointAddPortWraps(t *testing.T) {
	e := Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 65535}
	got := e.AddPort(2)
	require.Equal(t, uint16(1), got.Port)
}

func TestEndpointEqual(t *testing.T) {
	a := Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 100}
	b := Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 100}
	c := Endpoint{IP: net.ParseIP("1.2.3.5"), Port: 100}
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestBuddyIdentityEqual(t *testing.T) {
	a := BuddyIdentity{
		ExternalIP:   net.ParseIP("5.6.7.8"),
		InternalIP:   net.ParseIP("10.0.0.5"),
		InternalPort: 4000,
	}
	b := a
	require.True(t, a.Equal(b))
	b.InternalPort = 4001
	require.False(t, a.Equal(b))
}

func TestPortAllocClassString(t *testing.T) {
	require.Equal(t, "SEQUENTIAL", PortAllocSequential.String())
	require.Equal(t, "RANDOM", PortAllocRandom.String())
	require.Equal(t, "UNKNOWN", PortAllocUnknown.String())
}
