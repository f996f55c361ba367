// Package message defines the BitTorrent peer wire message variant that the
// dispatch package fans in and out. It never switches on the message Kind
// itself; the Kind tag and the Encode/Decode pair exist for the benefit of
// callers (consumers, suppliers, and the diagnostic CLI) and for logging.
package message

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind identifies the structure of a Message, following the classic
// BitTorrent peer wire protocol (BEP 3) message IDs, plus Extension for the
// BEP 10 extension protocol.
type Kind int8

const (
	// KeepAlive has no ID byte on the wire; it is a zero-length message.
	KeepAlive Kind = -1
	Choke         Kind = 0
	Unchoke       Kind = 1
	Interested    Kind = 2
	NotInterested Kind = 3
	Have          Kind = 4
	Bitfield      Kind = 5
	Request       Kind = 6
	Piece         Kind = 7
	Cancel        Kind = 8
	Extension     Kind = 20
)

// String renders k for logs.
func (k Kind) String() string {
	switch k {
	case KeepAlive:
		return "keep-alive"
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not-interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Extension:
		return "extension"
	default:
		return fmt.Sprintf("kind(%d)", int8(k))
	}
}

// A Message is a decoded BitTorrent peer wire message. The dispatcher treats
// this as an opaque value: it copies it by reference to every registered
// consumer, and its routing never depends on any field. It reads Kind only
// to update its per-kind message counters.
//
// Only the fields relevant to Kind are meaningful; the rest are zero. Have,
// Request, Cancel, and the header of Piece use Index/Begin/Length. Bitfield
// and the payload of Piece use Payload. Extension uses ExtensionID and
// Payload.
type Message struct {
	Kind        Kind
	Index       uint32
	Begin       uint32
	Length      uint32
	ExtensionID byte
	Payload     []byte
}

// String renders m for logs without dumping large payloads.
func (m *Message) String() string {
	switch m.Kind {
	case Have:
		return fmt.Sprintf("have(index=%d)", m.Index)
	case Request, Cancel:
		return fmt.Sprintf("%v(index=%d, begin=%d, length=%d)", m.Kind, m.Index, m.Begin, m.Length)
	case Piece:
		return fmt.Sprintf("piece(index=%d, begin=%d, len(block)=%d)", m.Index, m.Begin, len(m.Payload))
	case Bitfield:
		return fmt.Sprintf("bitfield(%d bytes)", len(m.Payload))
	case Extension:
		return fmt.Sprintf("extension(id=%d, %d bytes)", m.ExtensionID, len(m.Payload))
	default:
		return m.Kind.String()
	}
}

// A Consumer accepts one decoded Message read from a peer. Consumers must
// not retain m or its Payload beyond the call. The dispatcher passes the
// same *Message to every consumer registered for the peer.
//
// A Consumer must not block on network I/O or long computation: it runs on
// the dispatcher's single loop goroutine, and blocking there stalls every
// other peer.
type Consumer func(*Message)

// A Supplier produces at most one Message when polled, or nil if it has
// nothing to send this iteration. Suppliers run under the same
// non-blocking precondition as Consumer.
type Supplier func() *Message

// Encode writes m to w in the classic peer wire framing: a 4-byte big-endian
// length prefix covering everything after it, followed by a 1-byte message
// ID (omitted for KeepAlive) and a type-specific body.
//
// This is a reference codec for the diagnostic CLI; a production wire codec (handshake, bitfield sizing against the
// torrent's piece count, etc.) is an external collaborator per this module's
// scope.
func (m *Message) Encode(w io.Writer) error {
	body, err := m.encodeBody()
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err = w.Write(body)
	return err
}

func (m *Message) encodeBody() ([]byte, error) {
	if m.Kind == KeepAlive {
		return nil, nil
	}
	id, ok := wireID(m.Kind)
	if !ok {
		return nil, fmt.Errorf("message: kind %v has no wire ID", m.Kind)
	}
	switch m.Kind {
	case Choke, Unchoke, Interested, NotInterested:
		return []byte{id}, nil
	case Have:
		buf := make([]byte, 5)
		buf[0] = id
		binary.BigEndian.PutUint32(buf[1:], m.Index)
		return buf, nil
	case Bitfield:
		buf := make([]byte, 1+len(m.Payload))
		buf[0] = id
		copy(buf[1:], m.Payload)
		return buf, nil
	case Request, Cancel:
		buf := make([]byte, 13)
		buf[0] = id
		binary.BigEndian.PutUint32(buf[1:], m.Index)
		binary.BigEndian.PutUint32(buf[5:], m.Begin)
		binary.BigEndian.PutUint32(buf[9:], m.Length)
		return buf, nil
	case Piece:
		buf := make([]byte, 9+len(m.Payload))
		buf[0] = id
		binary.BigEndian.PutUint32(buf[1:], m.Index)
		binary.BigEndian.PutUint32(buf[5:], m.Begin)
		copy(buf[9:], m.Payload)
		return buf, nil
	case Extension:
		buf := make([]byte, 2+len(m.Payload))
		buf[0] = id
		buf[1] = m.ExtensionID
		copy(buf[2:], m.Payload)
		return buf, nil
	default:
		return nil, fmt.Errorf("message: unencodable kind %v", m.Kind)
	}
}

// Decode reads one Message from r. It returns io.EOF only if r reports EOF
// before any byte of the length prefix is read; a message truncated midway
// reports io.ErrUnexpectedEOF wrapped with context.
func Decode(r io.Reader) (*Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("message: truncated length prefix: %w", err)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return &Message{Kind: KeepAlive}, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("message: short body (%d bytes): %w", n, err)
	}
	return decodeBody(body)
}

func decodeBody(body []byte) (*Message, error) {
	kind, ok := kindFromWireID(body[0])
	if !ok {
		return nil, fmt.Errorf("message: unknown wire ID %d", body[0])
	}
	m := &Message{Kind: kind}
	switch kind {
	case Choke, Unchoke, Interested, NotInterested:
		if len(body) != 1 {
			return nil, fmt.Errorf("message: %v has trailing bytes", kind)
		}
	case Have:
		if len(body) != 5 {
			return nil, fmt.Errorf("message: have has wrong length %d", len(body))
		}
		m.Index = binary.BigEndian.Uint32(body[1:])
	case Bitfield:
		m.Payload = body[1:]
	case Request, Cancel:
		if len(body) != 13 {
			return nil, fmt.Errorf("message: %v has wrong length %d", kind, len(body))
		}
		m.Index = binary.BigEndian.Uint32(body[1:])
		m.Begin = binary.BigEndian.Uint32(body[5:])
		m.Length = binary.BigEndian.Uint32(body[9:])
	case Piece:
		if len(body) < 9 {
			return nil, fmt.Errorf("message: piece has wrong length %d", len(body))
		}
		m.Index = binary.BigEndian.Uint32(body[1:])
		m.Begin = binary.BigEndian.Uint32(body[5:])
		m.Payload = body[9:]
	case Extension:
		if len(body) < 2 {
			return nil, fmt.Errorf("message: extension has wrong length %d", len(body))
		}
		m.ExtensionID = body[1]
		m.Payload = body[2:]
	}
	return m, nil
}

func wireID(k Kind) (byte, bool) {
	switch k {
	case Choke:
		return 0, true
	case Unchoke:
		return 1, true
	case Interested:
		return 2, true
	case NotInterested:
		return 3, true
	case Have:
		return 4, true
	case Bitfield:
		return 5, true
	case Request:
		return 6, true
	case Piece:
		return 7, true
	case Cancel:
		return 8, true
	case Extension:
		return 20, true
	default:
		return 0, false
	}
}

func kindFromWireID(id byte) (Kind, bool) {
	switch id {
	case 0:
		return Choke, true
	case 1:
		return Unchoke, true
	case 2:
		return Interested, true
	case 3:
		return NotInterested, true
	case 4:
		return Have, true
	case 5:
		return Bitfield, true
	case 6:
		return Request, true
	case 7:
		return Piece, true
	case 8:
		return Cancel, true
	case 20:
		return Extension, true
	default:
		return 0, false
	}
}
