package painter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineHelp(t *testing.T) {
	req, err := ParseLine("HELP")
	require.NoError(t, err)
	assert.Equal(t, RequestHelp, req.Kind)
}

func TestParseLineLogin(t *testing.T) {
	req, err := ParseLine("LOGIN alice hunter2")
	require.NoError(t, err)
	assert.Equal(t, RequestLogin, req.Kind)
	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, "hunter2", req.Password)
}

func TestParseLinePixelRead(t *testing.T) {
	req, err := ParseLine("PX 10 20")
	require.NoError(t, err)
	assert.Equal(t, RequestPixelRead, req.Kind)
	assert.EqualValues(t, 10, req.X)
	assert.EqualValues(t, 20, req.Y)
}

func TestParseLinePixelWrite(t *testing.T) {
	req, err := ParseLine("PX 1 2 ff0000")
	require.NoError(t, err)
	assert.Equal(t, RequestPixelWrite, req.Kind)
	assert.EqualValues(t, 0xFF000000, req.RGBA)
}

func TestParseLineInvalidColour(t *testing.T) {
	_, err := ParseLine("PX 1 2 zzzzzz")
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Terminal)
}

func TestParseLineUnknownCommand(t *testing.T) {
	_, err := ParseLine("FROBNICATE")
	require.Error(t, err)
}

func TestFormatHex6ZeroPads(t *testing.T) {
	assert.Equal(t, "0000ff", formatHex6(0x0000FF00))
	assert.Equal(t, "ff0000", formatHex6(0xFF000000))
}
