// SPDX-License-Identifier: MIT
package color

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHSVPrimaries(t *testing.T) {
	assert.Equal(t, RGB{255, 0, 0}, HSV(0, 1, 1))
	assert.Equal(t, RGB{0, 255, 0}, HSV(120, 1, 1))
	assert.Equal(t, RGB{0, 0, 255}, HSV(240, 1, 1))
	assert.Equal(t, RGB{255, 0, 0}, HSV(360, 1, 1), "hue wraps")
	assert.Equal(t, RGB{0, 0, 255}, HSV(-120, 1, 1), "negative hue wraps")
	assert.Equal(t, Black, HSV(90, 1, 0))
}

func TestHexRoundTrip(t *testing.T) {
	c, err := Hex("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, RGB{255, 128, 0}, c)
	assert.Equal(t, "#ff8000", c.Hex())

	_, err = Hex("orange")
	assert.Error(t, err)
}

func TestJSONText(t *testing.T) {
	data, err := json.Marshal(struct{ C RGB }{RGB{1, 2, 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"C":"#010203"}`, string(data))

	var out struct{ C RGB }
	require.NoError(t, json.Unmarshal([]byte(`{"C":"#0a0b0c"}`), &out))
	assert.Equal(t, RGB{10, 11, 12}, out.C)
}

func TestScaleAndLerp(t *testing.T) {
	assert.Equal(t, RGB{128, 64, 0}, RGB{255, 128, 0}.Scale(0.5))
	assert.Equal(t, White, White.Scale(2))
	assert.Equal(t, Black, White.Scale(-1))

	assert.Equal(t, RGB{255, 0, 0}, Lerp(RGB{255, 0, 0}, RGB{0, 0, 255}, 0))
	assert.Equal(t, RGB{0, 0, 255}, Lerp(RGB{255, 0, 0}, RGB{0, 0, 255}, 1))
	mid := Lerp(Black, White, 0.5)
	assert.InDelta(t, 128, int(mid.R), 1)
}
