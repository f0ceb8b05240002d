package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoRestart(t *testing.T) {
	p := NoRestart()
	_, ok := p.Next()
	assert.False(t, ok)
}

func TestFixedDelay_StopsAfterMaxRetries(t *testing.T) {
	p := FixedDelay(time.Second, 2)

	for i := 0; i < 2; i++ {
		d, ok := p.Next()
		assert.True(t, ok)
		assert.Equal(t, time.Second, d)
	}
	_, ok := p.Next()
	assert.False(t, ok)

	p.Reset()
	_, ok = p.Next()
	assert.True(t, ok)
}

func TestExponential_Grows(t *testing.T) {
	p := Exponential(100*time.Millisecond, time.Second, 0)

	var last time.Duration
	for i := 0; i < 10; i++ {
		d, ok := p.Next()
		assert.True(t, ok)
		assert.LessOrEqual(t, d, time.Second+time.Second/2)
		last = d
	}
	assert.Greater(t, last, 100*time.Millisecond)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		restart bool
	}{
		{"none", false},
		{"", false},
		{"bogus", false},
		{"fixed", true},
		{"exponential", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePolicy(tt.name, 10*time.Millisecond, time.Second, 1)()
			_, ok := p.Next()
			assert.Equal(t, tt.restart, ok)
		})
	}
}
