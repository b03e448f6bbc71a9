package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAwaitRunner(t *testing.T) {
	t.Run("returns the runner result", func(t *testing.T) {
		done := make(chan error, 1)
		want := errors.New("boom")
		done <- want
		assert.ErrorIs(t, awaitRunner(done, time.Second), want)
	})

	t.Run("gives up after the timeout", func(t *testing.T) {
		done := make(chan error)
		start := time.Now()
		err := awaitRunner(done, 20*time.Millisecond)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})
}
