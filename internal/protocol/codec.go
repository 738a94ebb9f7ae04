package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrIncomplete is returned by Decode when the buffer ends mid-packet.
var ErrIncomplete = errors.New("incomplete packet")

// Encode returns the wire form of p.
func Encode(p Packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeTo(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeTo(buf *bytes.Buffer, p Packet) error {
	var scratch [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:], v)
		buf.Write(scratch[:])
	}
	putF32 := func(v float32) {
		putU32(math.Float32bits(v))
	}

	switch p := p.(type) {
	case PlayerState:
		putU32(uint32(TagPlayerState))
		putF32(p.Pos.X)
		putF32(p.Pos.Z)
		putF32(p.Target.X)
		putF32(p.Target.Z)
	case *PlayerState:
		if p == nil {
			return codecErrorf("cannot encode nil %T", p)
		}
		return encodeTo(buf, *p)
	case Time:
		putU32(uint32(TagTime))
		buf.WriteByte(byte(p))
	case Health:
		putU32(uint32(TagHealth))
		buf.WriteByte(byte(p))
	case GameOver:
		if !p.Winner.Valid() {
			return codecErrorf("cannot encode %s", p.Winner)
		}
		putU32(uint32(TagGameOver))
		putU32(uint32(p.Winner))
	case nil:
		return codecErrorf("cannot encode nil packet")
	default:
		return codecErrorf("cannot encode %T", p)
	}
	return nil
}

// WritePacket encodes p and writes it to w in a single call.
func WritePacket(w io.Writer, p Packet) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return &IOError{Op: "write " + p.Tag().String(), Err: err}
	}
	return nil
}

// ReadPacket reads exactly one packet from r. Stream failures, including a
// stream that ends mid-packet, are returned as *IOError. An unknown tag or
// an out-of-range field is a codec failure; only the bytes belonging to the
// bad packet are consumed.
func ReadPacket(r io.Reader) (Packet, error) {
	var tagBuf [TagSize]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return nil, &IOError{Op: "read tag", Err: err}
	}
	tag := Tag(binary.LittleEndian.Uint32(tagBuf[:]))

	switch tag {
	case TagPlayerState:
		var body [16]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return nil, &IOError{Op: "read player_state", Err: eofAsUnexpected(err)}
		}
		p := PlayerState{
			Pos: Vec2{
				X: f32(body[0:4]),
				Z: f32(body[4:8]),
			},
			Target: Vec2{
				X: f32(body[8:12]),
				Z: f32(body[12:16]),
			},
		}
		if !p.Pos.Finite() || !p.Target.Finite() {
			return nil, codecErrorf("non-finite player_state %+v", p)
		}
		return p, nil

	case TagTime, TagHealth:
		var body [1]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return nil, &IOError{Op: "read " + tag.String(), Err: eofAsUnexpected(err)}
		}
		if tag == TagTime {
			return Time(body[0]), nil
		}
		return Health(body[0]), nil

	case TagGameOver:
		var body [4]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return nil, &IOError{Op: "read game_over", Err: eofAsUnexpected(err)}
		}
		w := Winner(binary.LittleEndian.Uint32(body[:]))
		if !w.Valid() {
			return nil, codecErrorf("unknown winner %d", uint32(w))
		}
		return GameOver{Winner: w}, nil

	default:
		return nil, codecErrorf("unknown tag %d", uint32(tag))
	}
}

// Decode reads one packet from the front of data and reports how many bytes
// it consumed. A buffer that ends mid-packet yields ErrIncomplete and zero.
func Decode(data []byte) (Packet, int, error) {
	r := bytes.NewReader(data)
	p, err := ReadPacket(r)
	consumed := len(data) - r.Len()
	if err != nil {
		if IsIO(err) {
			return nil, 0, ErrIncomplete
		}
		return nil, consumed, err
	}
	return p, consumed, nil
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// A stream that closes after the tag has still broken a packet in half.
func eofAsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
