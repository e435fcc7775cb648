// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package frame implements the self-describing wire frame emitted by the
// encapsulator and consumed by the decapsulator:
//
//	offset 0  : source IPv4 address      (4 bytes, network order)
//	offset 4  : source port              (2 bytes, big-endian)
//	offset 6  : payload                  (N bytes)
//	offset 6+N: CRC32(IEEE) of [0, 6+N)  (4 bytes, big-endian)
package frame

import (
	"encoding/binary"
	"hash/crc32"
	"net"

	"github.com/pkg/errors"
)

// MaxPayload is the largest payload a frame may carry (1 MiB).
const MaxPayload = 1 << 20

// HeaderSize is the fixed portion preceding the payload (ip + port).
const HeaderSize = 6

// TrailerSize is the CRC32 trailer following the payload.
const TrailerSize = 4

// MinFrameSize is the smallest legal frame: header + empty payload + trailer.
const MinFrameSize = HeaderSize + TrailerSize

// HeartbeatMarker is the literal payload of a heartbeat frame.
// Heartbeats always carry src_port == 0.
const HeartbeatMarker = "HEARTBEAT"

// ErrPayloadTooLarge is returned by Encode when payload exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("frame: payload too large")

// ErrTooShort is returned by Decode when the buffer is under MinFrameSize.
var ErrTooShort = errors.New("frame: too short")

// ErrIntegrityCheckFailed is returned by Decode on CRC mismatch.
var ErrIntegrityCheckFailed = errors.New("frame: integrity check failed")

// Decoded is the zero-copy result of a successful Decode: Payload is a
// sub-slice of the buffer passed in, never copied.
type Decoded struct {
	SrcIP   net.IP
	SrcPort uint16
	Payload []byte
}

// Encode builds the wire frame for (ip, port, payload). The returned slice
// is newly allocated; the caller owns it.
func Encode(ip [4]byte, port uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "payload %d bytes, max %d", len(payload), MaxPayload)
	}

	buf := make([]byte, HeaderSize+len(payload)+TrailerSize)
	copy(buf[0:4], ip[:])
	binary.BigEndian.PutUint16(buf[4:6], port)
	copy(buf[6:6+len(payload)], payload)

	sum := crc32.ChecksumIEEE(buf[:HeaderSize+len(payload)])
	binary.BigEndian.PutUint32(buf[HeaderSize+len(payload):], sum)
	return buf, nil
}

// Decode validates and parses a frame. The returned Decoded.Payload aliases
// buf — callers that need to retain it across a buffer reuse must copy it.
func Decode(buf []byte) (Decoded, error) {
	if len(buf) < MinFrameSize {
		return Decoded{}, errors.Wrapf(ErrTooShort, "got %d bytes, need at least %d", len(buf), MinFrameSize)
	}

	payloadEnd := len(buf) - TrailerSize
	want := binary.BigEndian.Uint32(buf[payloadEnd:])
	got := crc32.ChecksumIEEE(buf[:payloadEnd])
	if want != got {
		return Decoded{}, ErrIntegrityCheckFailed
	}

	ip := make(net.IP, 4)
	copy(ip, buf[0:4])
	port := binary.BigEndian.Uint16(buf[4:6])
	return Decoded{
		SrcIP:   ip,
		SrcPort: port,
		Payload: buf[HeaderSize:payloadEnd],
	}, nil
}

// IsHeartbeat reports whether a decoded frame is the distinguished
// heartbeat beacon: literal marker payload and src_port == 0.
func IsHeartbeat(d Decoded) bool {
	return d.SrcPort == 0 && string(d.Payload) == HeartbeatMarker
}
