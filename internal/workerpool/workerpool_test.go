package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitSyncReturnsResult(t *testing.T) {
	p := New(2, 1, 4, 0, nil)
	defer p.Close()

	err := p.Submit(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}, true)
	assert.EqualError(t, err, "boom")
}

func TestSubmitAsyncDoesNotBlock(t *testing.T) {
	p := New(1, 1, 4, 1, nil)
	defer p.Close()

	var ran atomic.Bool
	done := make(chan struct{})
	err := p.Submit(context.Background(), func(context.Context) error {
		ran.Store(true)
		close(done)
		return nil
	}, false)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async task never ran")
	}
	assert.True(t, ran.Load())
}

func TestSubmitRecoversPanic(t *testing.T) {
	p := New(1, 1, 4, 0, nil)
	defer p.Close()

	err := p.Submit(context.Background(), func(context.Context) error {
		panic("kaboom")
	}, true)
	require.Error(t, err)
}

func TestClampAutoSizing(t *testing.T) {
	assert.Equal(t, 5, clamp(5, 1, 10))
	assert.GreaterOrEqual(t, clamp(0, 1, 1000), 1)
	assert.LessOrEqual(t, clamp(0, 1, 1), 1)
}

func TestQueueBackpressure(t *testing.T) {
	p := New(1, 1, 1, 1, nil)
	defer p.Close()

	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}, false))
	// The single worker is busy with the blocking task once this filler
	// is queued, so the one-slot queue is now full.
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }, false))

	submitted := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), func(context.Context) error { return nil }, false)
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("third submit should have blocked on a full queue")
	case <-time.After(100 * time.Millisecond):
	}

	close(block)
	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("submit never unblocked after queue drained")
	}
}
