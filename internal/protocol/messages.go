package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// PlayerListSeparator separates entries of the registration reply.
const PlayerListSeparator = "#"

// Vec3 is a position vector as carried on the datagram transport.
type Vec3 [3]float32

// PlayerEntry is one "id+name" element of a registration reply.
type PlayerEntry struct {
	ID   int16
	Name string
}

func (e PlayerEntry) String() string {
	return strconv.Itoa(int(e.ID)) + e.Name
}

// RoomRequest is the decoded payload of a stream type-4 request.
type RoomRequest struct {
	Sender  int16
	LevelID int16
	KartID  string
}

// PositionUpdate is the decoded payload of a datagram type-1 frame.
type PositionUpdate struct {
	Sender   int16
	Position Vec3
}

// RegistrationReply builds the type-0 reply sent to a newly registered
// session: the session's own entry first, then every other entry prefixed
// by PlayerListSeparator.
func RegistrationReply(self PlayerEntry, others []PlayerEntry) []byte {
	var sb strings.Builder
	sb.WriteString(self.String())
	for _, o := range others {
		sb.WriteString(PlayerListSeparator)
		sb.WriteString(o.String())
	}
	return Encode(StreamRegister, EncodeText(sb.String()))
}

// PlayerJoined builds the type-1 announcement sent to existing sessions:
// the new session id followed by its name.
func PlayerJoined(id int16, name string) []byte {
	return Encode(StreamPlayerJoined, append(PutInt16(nil, id), EncodeText(name)...))
}

// Chat builds a type-2 frame carrying already formatted text.
func Chat(text string) []byte {
	return Encode(StreamChat, EncodeText(text))
}

// RoomCreated builds the type-4 reply carrying a room id.
func RoomCreated(roomID int16) []byte {
	return Encode(StreamRoom, PutInt16(nil, roomID))
}

// PlayerQuit builds the type -1 notice naming a departing session.
func PlayerQuit(id int16) []byte {
	return Encode(StreamDisconnect, PutInt16(nil, id))
}

// ParseRegister returns the display name carried by a type-0 stream frame.
func ParseRegister(frame []byte) (string, error) {
	t, err := Type(frame)
	if err != nil {
		return "", err
	}
	if t != StreamRegister {
		return "", fmt.Errorf("expected register frame, got type %d", t)
	}
	return DecodeText(frame[HeaderSize:]), nil
}

// ParseChat returns the embedded sender id and text of a type-2 frame.
func ParseChat(frame []byte) (int16, string, error) {
	sender, err := Int16At(frame, 2)
	if err != nil {
		return 0, "", fmt.Errorf("chat sender: %w", err)
	}
	return sender, DecodeText(frame[4:]), nil
}

// ParseStatus returns the embedded sender id of a type-3 frame. The rest of
// the payload is opaque to the server.
func ParseStatus(frame []byte) (int16, error) {
	sender, err := Int16At(frame, 2)
	if err != nil {
		return 0, fmt.Errorf("status sender: %w", err)
	}
	return sender, nil
}

// ParseRoomRequest decodes a type-4 request.
func ParseRoomRequest(frame []byte) (RoomRequest, error) {
	sender, err := Int16At(frame, 2)
	if err != nil {
		return RoomRequest{}, fmt.Errorf("room sender: %w", err)
	}
	level, err := Int16At(frame, 4)
	if err != nil {
		return RoomRequest{}, fmt.Errorf("room level: %w", err)
	}
	return RoomRequest{
		Sender:  sender,
		LevelID: level,
		KartID:  DecodeText(frame[6:]),
	}, nil
}

// ParseBind returns the session id carried by a datagram type-0 frame.
func ParseBind(frame []byte) (int16, error) {
	id, err := Int16At(frame, 2)
	if err != nil {
		return 0, fmt.Errorf("bind id: %w", err)
	}
	return id, nil
}

// ParsePosition decodes a datagram type-1 frame.
func ParsePosition(frame []byte) (PositionUpdate, error) {
	sender, err := Int16At(frame, 2)
	if err != nil {
		return PositionUpdate{}, fmt.Errorf("position sender: %w", err)
	}
	vs, err := Float32sAt(frame, 4, 3)
	if err != nil {
		return PositionUpdate{}, fmt.Errorf("position vector: %w", err)
	}
	return PositionUpdate{Sender: sender, Position: Vec3{vs[0], vs[1], vs[2]}}, nil
}

// Client-originated frames. The server never sends these; they exist for
// clients and tools written against this package.

// RegisterRequest builds the first frame a client sends on the stream.
func RegisterRequest(name string) []byte {
	return Encode(StreamRegister, EncodeText(name))
}

// ChatRequest builds a client chat frame.
func ChatRequest(sender int16, text string) []byte {
	return Encode(StreamChat, append(PutInt16(nil, sender), EncodeText(text)...))
}

// StatusUpdate builds a client status frame with an opaque body.
func StatusUpdate(sender int16, body []byte) []byte {
	return Encode(StreamStatus, append(PutInt16(nil, sender), body...))
}

// RoomCreateRequest builds a client room creation request.
func RoomCreateRequest(sender, levelID int16, kartID string) []byte {
	payload := PutInt16(PutInt16(nil, sender), levelID)
	return Encode(StreamRoom, append(payload, EncodeText(kartID)...))
}

// DisconnectRequest builds the client's disconnect frame.
func DisconnectRequest() []byte {
	return Encode(StreamDisconnect, nil)
}

// BindRequest builds the datagram endpoint binding frame.
func BindRequest(id int16) []byte {
	return Encode(DatagramBind, PutInt16(nil, id))
}

// PositionRequest builds a datagram position frame.
func PositionRequest(id int16, pos Vec3) []byte {
	return Encode(DatagramPosition, PutFloat32s(PutInt16(nil, id), pos[:]...))
}
