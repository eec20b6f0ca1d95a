package safego

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGoRecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	done := make(chan struct{})

	Go(zap.New(core), "worker", func() {
		defer close(done)
		panic("boom")
	})

	<-done
	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	entry := logs.All()[0]
	require.Equal(t, "Goroutine panicked", entry.Message)
	require.Equal(t, "worker", entry.ContextMap()["goroutine"])
}
