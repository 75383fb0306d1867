package groutine

import (
	"context"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NameAndLabel(t *testing.T) {
	type result struct {
		name  string
		label string
	}
	got := make(chan result, 1)

	done := Go(context.Background(), "worker-7", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		got <- result{name: Name(ctx), label: label}
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
	r := <-got
	assert.Equal(t, "worker-7", r.name)
	assert.Equal(t, "worker-7", r.label)
}

func TestGo_NilParent(t *testing.T) {
	//nolint:staticcheck // nil parent is explicitly supported
	done := Go(nil, "orphan", func(ctx context.Context) {
		assert.NotNil(t, ctx)
	})
	<-done
}

func TestName_Empty(t *testing.T) {
	assert.Empty(t, Name(context.Background()))
	//nolint:staticcheck
	assert.Empty(t, Name(nil))
}
