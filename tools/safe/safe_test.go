package safe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunRecovers(t *testing.T) {
	ran := false
	assert.NotPanics(t, func() {
		Run("boom", func() {
			ran = true
			panic("boom")
		})
	})
	assert.True(t, ran)
}

func TestGo(t *testing.T) {
	done := make(chan struct{})
	Go("ok", func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
