// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	require := require.New(t)

	w := new(Worker)
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		w.Go(func() {
			<-w.HaltCh()
			done <- struct{}{}
		})
	}
	require.False(w.IsHalted())
	w.Halt()
	require.True(w.IsHalted())
	require.Len(done, 2)

	// a second Halt must not panic on the closed channel
	w.Halt()
}

func TestWorkerContext(t *testing.T) {
	require := require.New(t)

	w := new(Worker)
	ctx, cancelFn := w.Context()
	defer cancelFn()

	w.Signal()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled on halt")
	}
	require.Error(ctx.Err())
}
