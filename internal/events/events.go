// Package events defines the tagged union of messages that flow from
// painter connections and the slot scheduler to the compressor, and
// their canonical on-wire binary encoding for spectators.
package events

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind identifies an Event's payload variant on the wire.
type Kind byte

const (
	KindUserPainting Kind = iota + 1
	KindScreenSync
	KindCurrentlyPainting
	KindUserStatisticsUpdate
	KindWebSocketClosedBecauseOfLag
)

// PixelUpdate is one (x, y, rgba) write, the unit packed into
// UserPainting and ScreenSync payloads.
type PixelUpdate struct {
	X, Y uint16
	RGBA uint32
}

// UserPainting reports one batch applied by a single authenticated painter.
type UserPainting struct {
	Username string
	Pixels   []PixelUpdate
}

// ScreenSync is a full-canvas refresh.
type ScreenSync struct {
	Width, Height uint16
	Pixels        []PixelUpdate
}

// CurrentlyPainting is emitted by the scheduler on each slot transition.
type CurrentlyPainting struct {
	Username string
}

// StatEntry is one row of a UserStatisticsUpdate, in scheduler play order.
type StatEntry struct {
	Username          string
	AvgPixelsPerRound float64
	AvgResponseMillis float64
}

// UserStatisticsUpdate carries one row per currently active painter.
type UserStatisticsUpdate struct {
	Entries []StatEntry
}

// WebSocketClosedBecauseOfLag is the terminal frame sent to a spectator
// that fell too far behind the egress broadcast.
type WebSocketClosedBecauseOfLag struct {
	Lag int
}

// Event is the sum type accepted by the ingress channel. Exactly one of
// the fields is non-nil.
type Event struct {
	UserPainting                *UserPainting
	ScreenSync                  *ScreenSync
	CurrentlyPainting           *CurrentlyPainting
	UserStatisticsUpdate        *UserStatisticsUpdate
	WebSocketClosedBecauseOfLag *WebSocketClosedBecauseOfLag
}

// Kind reports which variant is populated.
func (e Event) Kind() (Kind, error) {
	switch {
	case e.UserPainting != nil:
		return KindUserPainting, nil
	case e.ScreenSync != nil:
		return KindScreenSync, nil
	case e.CurrentlyPainting != nil:
		return KindCurrentlyPainting, nil
	case e.UserStatisticsUpdate != nil:
		return KindUserStatisticsUpdate, nil
	case e.WebSocketClosedBecauseOfLag != nil:
		return KindWebSocketClosedBecauseOfLag, nil
	default:
		return 0, fmt.Errorf("events: empty event")
	}
}

// Encode serialises e to its canonical binary form: a one-byte kind
// discriminator followed by the variant's fixed/LE-encoded fields.
// packed_pixels is 8 bytes per update: u16 x, u16 y, u32 rgba, all LE.
func Encode(e Event) ([]byte, error) {
	kind, err := e.Kind()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, byte(kind))

	switch kind {
	case KindUserPainting:
		buf = appendString(buf, e.UserPainting.Username)
		buf = appendPixels(buf, e.UserPainting.Pixels)
	case KindScreenSync:
		buf = binary.LittleEndian.AppendUint16(buf, e.ScreenSync.Width)
		buf = binary.LittleEndian.AppendUint16(buf, e.ScreenSync.Height)
		buf = appendPixels(buf, e.ScreenSync.Pixels)
	case KindCurrentlyPainting:
		buf = appendString(buf, e.CurrentlyPainting.Username)
	case KindUserStatisticsUpdate:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.UserStatisticsUpdate.Entries)))
		for _, entry := range e.UserStatisticsUpdate.Entries {
			buf = appendString(buf, entry.Username)
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(entry.AvgPixelsPerRound))
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(entry.AvgResponseMillis))
		}
	case KindWebSocketClosedBecauseOfLag:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.WebSocketClosedBecauseOfLag.Lag))
	}

	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendPixels(buf []byte, pixels []PixelUpdate) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(pixels)))
	for _, p := range pixels {
		buf = binary.LittleEndian.AppendUint16(buf, p.X)
		buf = binary.LittleEndian.AppendUint16(buf, p.Y)
		buf = binary.LittleEndian.AppendUint32(buf, p.RGBA)
	}
	return buf
}
