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

package syncflag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlagSetGet(t *testing.T) {
	f := New[int]()
	_, ok := f.Get()
	require.False(t, ok)

	f.Set(42)
	v, ok := f.Get()
	require.True(t, ok)
	require.Equal(t, 42, v)

	// Second Set is a no-op; first value wins.
	f.Set(7)
	v, ok = f.Get()
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestFlagWaitSetBeforeWait(t *testing.T) {
	f := New[string]()
	f.Set("hello")

	v, err := f.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestFlagWaitWakesOnSet(t *testing.T) {
	f := New[int]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Set(99)
	}()

	start := time.Now()
	v, err := f.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 99, v)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFlagWaitTimeout(t *testing.T) {
	f := New[int]()
	_, err := f.Wait(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestFlagWaitContextCanceled(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Wait(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
