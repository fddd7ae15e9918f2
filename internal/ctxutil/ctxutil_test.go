package ctxutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithOptionalTimeoutNilLeavesContextUnchanged(t *testing.T) {
	ctx := context.Background()
	out, cancel := WithOptionalTimeout(ctx, nil)
	defer cancel()

	assert.Equal(t, ctx, out)
	_, hasDeadline := out.Deadline()
	assert.False(t, hasDeadline)
}

func TestWithOptionalTimeoutAppliesSeconds(t *testing.T) {
	seconds := uint64(5)
	out, cancel := WithOptionalTimeout(context.Background(), &seconds)
	defer cancel()

	deadline, ok := out.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, 500*time.Millisecond)
}

func TestMergeDoneWhenFirstParentCancelled(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	b := context.Background()

	merged, cancel := Merge(a, b)
	defer cancel()

	cancelA()

	select {
	case <-merged.Done():
	case <-time.After(time.Second):
		t.Fatal("merged context was not cancelled after parent a fired")
	}
}

func TestMergeDoneWhenSecondParentCancelled(t *testing.T) {
	a := context.Background()
	b, cancelB := context.WithCancel(context.Background())

	merged, cancel := Merge(a, b)
	defer cancel()

	cancelB()

	select {
	case <-merged.Done():
	case <-time.After(time.Second):
		t.Fatal("merged context was not cancelled after parent b fired")
	}
}

func TestMergeNotDoneWhileBothParentsLive(t *testing.T) {
	a := context.Background()
	b := context.Background()

	merged, cancel := Merge(a, b)
	defer cancel()

	select {
	case <-merged.Done():
		t.Fatal("merged context fired with no parent cancelled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMergeCancelFuncCancelsMergedContext(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	b := context.Background()

	merged, cancel := Merge(a, b)
	cancel()

	select {
	case <-merged.Done():
	case <-time.After(time.Second):
		t.Fatal("calling the returned cancel func should cancel the merged context")
	}
}
