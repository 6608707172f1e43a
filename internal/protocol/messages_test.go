package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/speedwar/internal/protocol"
)

func TestRegistrationReply(t *testing.T) {
	frame := protocol.RegistrationReply(protocol.PlayerEntry{ID: 7333, Name: "Bob"},
		[]protocol.PlayerEntry{{ID: 4821, Name: "Alice"}})

	typ, err := protocol.Type(frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.StreamRegister, typ)
	assert.Equal(t, "7333Bob#4821Alice", string(frame[2:]))
}

func TestRegistrationReply_Alone(t *testing.T) {
	frame := protocol.RegistrationReply(protocol.PlayerEntry{ID: 4821, Name: "Alice"}, nil)
	assert.Equal(t, "4821Alice", string(frame[2:]))
}

func TestPlayerJoined(t *testing.T) {
	frame := protocol.PlayerJoined(7333, "Bob")

	typ, err := protocol.Type(frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.StreamPlayerJoined, typ)

	id, err := protocol.Int16At(frame, 2)
	require.NoError(t, err)
	assert.Equal(t, int16(7333), id)
	assert.Equal(t, "Bob", string(frame[4:]))
}

func TestPlayerQuitAndRoomCreated(t *testing.T) {
	quit := protocol.PlayerQuit(4821)
	assert.Len(t, quit, 4)
	id, err := protocol.Int16At(quit, 2)
	require.NoError(t, err)
	assert.Equal(t, int16(4821), id)

	room := protocol.RoomCreated(5555)
	typ, _ := protocol.Type(room)
	assert.Equal(t, protocol.StreamRoom, typ)
	rid, err := protocol.Int16At(room, 2)
	require.NoError(t, err)
	assert.Equal(t, int16(5555), rid)
}

func TestParseRegister(t *testing.T) {
	name, err := protocol.ParseRegister(protocol.RegisterRequest("Alice"))
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	_, err = protocol.ParseRegister(protocol.ChatRequest(1, "hi"))
	assert.Error(t, err)

	_, err = protocol.ParseRegister([]byte{0})
	assert.ErrorIs(t, err, protocol.ErrShortFrame)
}

func TestParseChat(t *testing.T) {
	sender, text, err := protocol.ParseChat(protocol.ChatRequest(4821, "hello"))
	require.NoError(t, err)
	assert.Equal(t, int16(4821), sender)
	assert.Equal(t, "hello", text)

	_, _, err = protocol.ParseChat(protocol.Encode(protocol.StreamChat, []byte{1}))
	assert.ErrorIs(t, err, protocol.ErrShortFrame)
}

func TestParseRoomRequest(t *testing.T) {
	req, err := protocol.ParseRoomRequest(protocol.RoomCreateRequest(4821, 3, "kart-red"))
	require.NoError(t, err)
	assert.Equal(t, protocol.RoomRequest{Sender: 4821, LevelID: 3, KartID: "kart-red"}, req)

	_, err = protocol.ParseRoomRequest(protocol.Encode(protocol.StreamRoom, []byte{1, 0, 2}))
	assert.ErrorIs(t, err, protocol.ErrShortFrame)
}

func TestParseStatusAndBind(t *testing.T) {
	sender, err := protocol.ParseStatus(protocol.StatusUpdate(99, []byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, int16(99), sender)

	id, err := protocol.ParseBind(protocol.BindRequest(1234))
	require.NoError(t, err)
	assert.Equal(t, int16(1234), id)

	_, err = protocol.ParseBind([]byte{0, 0})
	assert.ErrorIs(t, err, protocol.ErrShortFrame)
}
