package qr

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG(t *testing.T) {
	data, err := PNG("https://drop.example.com/session/abc/status", 128)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())
}

func TestPNGRejectsEmpty(t *testing.T) {
	_, err := PNG("", 0)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestTerminal(t *testing.T) {
	out, err := Terminal("abc")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "\n"))
}

func TestClampSize(t *testing.T) {
	assert.Equal(t, DefaultSize, ClampSize(0))
	assert.Equal(t, MinSize, ClampSize(10))
	assert.Equal(t, MaxSize, ClampSize(5000))
	assert.Equal(t, 300, ClampSize(300))
}
