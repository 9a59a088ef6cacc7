// Package canvas implements the shared RGBA32 framebuffer: the mutable
// object every painter connection writes into and every spectator frame
// is eventually derived from.
package canvas

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/pixelflut/pixelflutd/internal/events"
)

// Canvas is a width*height grid of packed 0xRRGGBB00 pixels (upper byte
// unused on the wire, per the painter protocol's 6-hex-digit colours).
// Reads and writes are serialised through a single RWMutex; set_multi
// constructs its UserPainting event inside the write-lock critical
// section so a ScreenSync taken immediately after always agrees with
// the last event a spectator received.
type Canvas struct {
	mu     sync.RWMutex
	width  uint16
	height uint16
	pixels []uint32
}

// New allocates a black canvas of the given dimensions.
func New(width, height uint16) *Canvas {
	return &Canvas{
		width:  width,
		height: height,
		pixels: make([]uint32, int(width)*int(height)),
	}
}

// Width and Height report the fixed dimensions chosen at startup.
func (c *Canvas) Width() uint16  { return c.width }
func (c *Canvas) Height() uint16 { return c.height }

func (c *Canvas) inRange(x, y uint16) bool {
	return x < c.width && y < c.height
}

func (c *Canvas) index(x, y uint16) int {
	return int(y)*int(c.width) + int(x)
}

// Get returns the pixel at (x, y) and true, or (0, false) if either
// coordinate is out of range.
func (c *Canvas) Get(x, y uint16) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.inRange(x, y) {
		return 0, false
	}
	return c.pixels[c.index(x, y)], true
}

// SetMulti applies every in-range update in order (last write wins for
// duplicate coordinates within the batch) and returns a UserPainting
// event whose Pixels contains exactly the submitted updates, including
// any out-of-range ones — the "emit as submitted" policy (SPEC_FULL.md
// §4.1, §9). Out-of-range updates never mutate the array.
func (c *Canvas) SetMulti(username string, updates []events.PixelUpdate) events.UserPainting {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range updates {
		if c.inRange(u.X, u.Y) {
			c.pixels[c.index(u.X, u.Y)] = u.RGBA
		}
	}

	return events.UserPainting{
		Username: username,
		Pixels:   updates,
	}
}

// FillRainbow repaints the entire canvas with a smooth hue gradient. It
// is driven by an idle/demo loop when no painters are registered.
func (c *Canvas) FillRainbow(phase float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for y := uint16(0); y < c.height; y++ {
		for x := uint16(0); x < c.width; x++ {
			hue := math.Mod(phase+float64(x+y)/float64(c.width+c.height), 1.0)
			c.pixels[c.index(x, y)] = hsvToRGBA(hue)
		}
	}
}

func hsvToRGBA(hue float64) uint32 {
	h := hue * 6
	i := int(h)
	f := h - float64(i)
	q := 1 - f
	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = 1, f, 0
	case 1:
		r, g, b = q, 1, 0
	case 2:
		r, g, b = 0, 1, f
	case 3:
		r, g, b = 0, q, 1
	case 4:
		r, g, b = f, 0, 1
	default:
		r, g, b = 1, 0, q
	}
	return uint32(r*255)<<24 | uint32(g*255)<<16 | uint32(b*255)<<8
}

// Snapshot converts the current array to a ScreenSync event holding one
// PixelUpdate tuple per pixel in row-major order, for a uniform on-wire
// representation with UserPainting (8 bytes per pixel once encoded).
func (c *Canvas) Snapshot() events.ScreenSync {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pixels := make([]events.PixelUpdate, 0, len(c.pixels))
	for y := uint16(0); y < c.height; y++ {
		for x := uint16(0); x < c.width; x++ {
			pixels = append(pixels, events.PixelUpdate{X: x, Y: y, RGBA: c.pixels[c.index(x, y)]})
		}
	}

	return events.ScreenSync{Width: c.width, Height: c.height, Pixels: pixels}
}

// SnapshotBytes renders the current array as the raw little-endian byte
// stream exposed over GET /current-screen: width, height (u16 each),
// then 4 bytes per pixel row-major.
func (c *Canvas) SnapshotBytes() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	buf := make([]byte, 4+len(c.pixels)*4)
	binary.LittleEndian.PutUint16(buf[0:2], c.width)
	binary.LittleEndian.PutUint16(buf[2:4], c.height)
	for i, p := range c.pixels {
		binary.LittleEndian.PutUint32(buf[4+i*4:8+i*4], p)
	}
	return buf
}
