package sound

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(samples ...int16) *bytes.Reader {
	var buf bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&buf, binary.LittleEndian, s)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestPeakDecibels(t *testing.T) {
	db, err := PeakDecibels(pcm(0, 100, -16384, 200))
	require.NoError(t, err)
	assert.InDelta(t, -6.02, db, 0.01)

	db, err = PeakDecibels(pcm(-32768))
	require.NoError(t, err)
	assert.InDelta(t, 0, db, 1e-9)

	db, err = PeakDecibels(pcm(0, 0, 0))
	require.NoError(t, err)
	assert.True(t, math.IsInf(db, -1))

	_, err = PeakDecibels(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestPeakDecibels_LongInput(t *testing.T) {
	samples := make([]int16, 10_000)
	samples[9_999] = 328 // about -40 dBFS
	db, err := PeakDecibels(pcm(samples...))
	require.NoError(t, err)
	assert.InDelta(t, -40, db, 0.05)
	assert.True(t, db > -40.5)
}

func TestDecibels(t *testing.T) {
	assert.InDelta(t, -20, Decibels(3277), 0.01)
	assert.True(t, math.IsInf(Decibels(0), -1))
}
