// Package simple implements the built-in packet format: a packed big-endian
// header followed by one time sample of one source as raw bytes.
package simple

import (
	"encoding/binary"

	"github.com/lwa-project/bifrost/capture"
)

// SyncWord marks a valid packet header.
const SyncWord = 0x5CDEC0DE

// HeaderSize is the packed header length in bytes.
const HeaderSize = 28

const (
	// frameCountFlag occupies the top byte of the frame-count word; the low
	// 24 bits carry the frame counter (the time index modulo 2^24).
	frameCountFlag = 0x08

	flagComplex = 0x01
)

// Format decodes the simple packet format.
//
// Header layout (big-endian):
//
//	[0:4]   sync word
//	[4:8]   frame-count word (frameCountFlag<<24 | frame count)
//	[8:16]  seq, the time index of the sample
//	[16:20] chan0
//	[20:22] nsrc
//	[22:24] nchan
//	[24:26] src
//	[26]    nbit
//	[27]    flags (bit0: complex)
type Format struct{}

func init() {
	capture.RegisterFormat(Format{})
}

// Name implements capture.Format.
func (Format) Name() string { return "simple" }

// PacketSize implements capture.Format.
func (Format) PacketSize(maxPayload int) int { return HeaderSize + maxPayload }

// FrameBytes implements capture.Format.
func (Format) FrameBytes(desc *capture.PacketDesc) int {
	n := desc.Nchan * desc.Nbit
	if desc.Complex {
		n *= 2
	}
	return (n + 7) / 8
}

// Decode implements capture.Format.
func (f Format) Decode(pkt []byte) (desc capture.PacketDesc, payload []byte, ok bool) {
	if len(pkt) < HeaderSize || binary.BigEndian.Uint32(pkt[0:4]) != SyncWord {
		return desc, nil, false
	}
	if pkt[4] != frameCountFlag {
		return desc, nil, false
	}
	desc.Seq = binary.BigEndian.Uint64(pkt[8:16])
	desc.Chan0 = int(binary.BigEndian.Uint32(pkt[16:20]))
	desc.Nsrc = int(binary.BigEndian.Uint16(pkt[20:22]))
	desc.Nchan = int(binary.BigEndian.Uint16(pkt[22:24]))
	desc.Src = int(binary.BigEndian.Uint16(pkt[24:26]))
	desc.Nbit = int(pkt[26])
	desc.Complex = pkt[27]&flagComplex != 0
	desc.Ntime = 1
	desc.TimeTag = desc.Seq

	if desc.Nchan == 0 || desc.Nbit == 0 {
		return desc, nil, false
	}
	n := f.FrameBytes(&desc)
	if len(pkt) < HeaderSize+n {
		return desc, nil, false
	}
	return desc, pkt[HeaderSize : HeaderSize+n], true
}

// Scatter implements capture.Format.
func (Format) Scatter(desc *capture.PacketDesc, payload, frame []byte) {
	copy(frame, payload)
}

// Encode builds a packet for tests and generators. len(payload) must equal
// FrameBytes(desc).
func Encode(desc capture.PacketDesc, payload []byte) []byte {
	pkt := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(pkt[0:4], SyncWord)
	binary.BigEndian.PutUint32(pkt[4:8], frameCountFlag<<24|uint32(desc.Seq&0xFFFFFF))
	binary.BigEndian.PutUint64(pkt[8:16], desc.Seq)
	binary.BigEndian.PutUint32(pkt[16:20], uint32(desc.Chan0))
	binary.BigEndian.PutUint16(pkt[20:22], uint16(desc.Nsrc))
	binary.BigEndian.PutUint16(pkt[22:24], uint16(desc.Nchan))
	binary.BigEndian.PutUint16(pkt[24:26], uint16(desc.Src))
	pkt[26] = byte(desc.Nbit)
	if desc.Complex {
		pkt[27] |= flagComplex
	}
	copy(pkt[HeaderSize:], payload)
	return pkt
}
