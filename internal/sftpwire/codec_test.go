package sftpwire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/mevdschee/sftpjail/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// builder assembles packet bodies by hand so the tests do not depend on the
// encoder under test.
type builder struct{ bytes.Buffer }

func (b *builder) u8(v byte) *builder { b.WriteByte(v); return b }
func (b *builder) u32(v uint32) *builder {
	_ = binary.Write(&b.Buffer, binary.BigEndian, v)
	return b
}
func (b *builder) u64(v uint64) *builder {
	_ = binary.Write(&b.Buffer, binary.BigEndian, v)
	return b
}
func (b *builder) str(s string) *builder { b.u32(uint32(len(s))); b.WriteString(s); return b }

func TestDecodeRequest(t *testing.T) {
	t.Run("OPEN", func(t *testing.T) {
		body := new(builder).u8(TypeOpen).u32(7).str("/incoming/orders/new.csv").
			u32(protocol.FlagWrite | protocol.FlagCreate | protocol.FlagTrunc).u32(0).Bytes()
		req, err := DecodeRequest(body)
		require.NoError(t, err)
		assert.Equal(t, protocol.VerbOpen, req.Verb)
		assert.Equal(t, uint32(7), req.ID)
		assert.Equal(t, "/incoming/orders/new.csv", req.Path)
		assert.Equal(t, protocol.ModeWrite, protocol.ModeFromFlags(req.Flags))
	})

	t.Run("READ", func(t *testing.T) {
		body := new(builder).u8(TypeRead).u32(9).str("1").u64(1 << 33).u32(100).Bytes()
		req, err := DecodeRequest(body)
		require.NoError(t, err)
		assert.Equal(t, protocol.VerbRead, req.Verb)
		assert.Equal(t, "1", req.Handle)
		assert.Equal(t, uint64(1<<33), req.Offset)
		assert.Equal(t, uint32(100), req.Length)
	})

	t.Run("WRITE", func(t *testing.T) {
		body := new(builder).u8(TypeWrite).u32(10).str("2").u64(5).str("id,qty\n").Bytes()
		req, err := DecodeRequest(body)
		require.NoError(t, err)
		assert.Equal(t, protocol.VerbWrite, req.Verb)
		assert.Equal(t, uint64(5), req.Offset)
		assert.Equal(t, []byte("id,qty\n"), req.Data)
	})

	t.Run("OPENDIR READDIR CLOSE REALPATH", func(t *testing.T) {
		req, err := DecodeRequest(new(builder).u8(TypeOpendir).u32(1).str("/incoming").Bytes())
		require.NoError(t, err)
		assert.Equal(t, protocol.VerbOpendir, req.Verb)
		assert.Equal(t, "/incoming", req.Path)

		req, err = DecodeRequest(new(builder).u8(TypeReaddir).u32(2).str("3").Bytes())
		require.NoError(t, err)
		assert.Equal(t, protocol.VerbReaddir, req.Verb)
		assert.Equal(t, "3", req.Handle)

		req, err = DecodeRequest(new(builder).u8(TypeClose).u32(3).str("3").Bytes())
		require.NoError(t, err)
		assert.Equal(t, protocol.VerbClose, req.Verb)

		req, err = DecodeRequest(new(builder).u8(TypeRealpath).u32(4).str(".").Bytes())
		require.NoError(t, err)
		assert.Equal(t, protocol.VerbRealpath, req.Verb)
		assert.Equal(t, ".", req.Path)
	})

	t.Run("unsupported type keeps id", func(t *testing.T) {
		req, err := DecodeRequest(new(builder).u8(TypeRemove).u32(42).str("/x").Bytes())
		require.NoError(t, err)
		assert.Equal(t, protocol.VerbUnknown, req.Verb)
		assert.Equal(t, uint32(42), req.ID)
		assert.Equal(t, "REMOVE", req.Op)
	})

	t.Run("truncated fields keep id", func(t *testing.T) {
		req, err := DecodeRequest(new(builder).u8(TypeRead).u32(11).str("1").Bytes())
		assert.ErrorIs(t, err, ErrMalformed)
		assert.Equal(t, uint32(11), req.ID)
	})

	t.Run("no id", func(t *testing.T) {
		_, err := DecodeRequest([]byte{TypeClose, 0, 0})
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestEncodeResponse(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		body := EncodeResponse(protocol.StatusResponse(5, protocol.StatusEOF, ""))
		want := new(builder).u8(TypeStatus).u32(5).u32(1).str("End of file").str("").Bytes()
		assert.Equal(t, want, body)

		body = EncodeResponse(protocol.StatusResponse(6, protocol.StatusFailure, "no such handle"))
		want = new(builder).u8(TypeStatus).u32(6).u32(4).str("no such handle").str("").Bytes()
		assert.Equal(t, want, body)
	})

	t.Run("handle", func(t *testing.T) {
		body := EncodeResponse(protocol.HandleResponse(1, "17"))
		assert.Equal(t, new(builder).u8(TypeHandle).u32(1).str("17").Bytes(), body)
	})

	t.Run("data", func(t *testing.T) {
		body := EncodeResponse(protocol.DataResponse(2, []byte("abc")))
		assert.Equal(t, new(builder).u8(TypeData).u32(2).str("abc").Bytes(), body)
	})

	t.Run("name", func(t *testing.T) {
		body := EncodeResponse(protocol.NameResponse(3, []string{"a.csv", "b.csv"}))
		want := new(builder).u8(TypeNameReply).u32(3).u32(2).
			str("a.csv").str("a.csv").u32(0).
			str("b.csv").str("b.csv").u32(0).Bytes()
		assert.Equal(t, want, body)
	})
}

func TestInitVersion(t *testing.T) {
	v, err := DecodeInit(new(builder).u8(TypeInit).u32(3).Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v)

	_, err = DecodeInit(new(builder).u8(TypeOpen).u32(3).Bytes())
	assert.ErrorIs(t, err, ErrMalformed)

	assert.Equal(t, new(builder).u8(TypeVersion).u32(3).Bytes(), EncodeVersion(Version))
}

func TestPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, []byte{TypeInit, 0, 0, 0, 3}))
	require.NoError(t, WritePacket(&buf, []byte{TypeClose, 0, 0, 0, 1, 0, 0, 0, 0}))

	body, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{TypeInit, 0, 0, 0, 3}, body)

	body, err = ReadPacket(&buf)
	require.NoError(t, err)
	assert.Len(t, body, 9)

	_, err = ReadPacket(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadPacketErrors(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader(new(builder).u32(MaxPacketLength + 1).Bytes()))
		assert.ErrorIs(t, err, ErrPacketTooLarge)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader(new(builder).u32(0).Bytes()))
		assert.ErrorIs(t, err, ErrEmptyPacket)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader(new(builder).u32(10).u8(1).Bytes()))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "NAME", TypeName(TypeNameReply))
	assert.Equal(t, "OPENDIR", TypeName(TypeOpendir))
	assert.Equal(t, "TYPE_250", TypeName(250))

	req, err := DecodeRequest(new(builder).u8(TypeMkdir).u32(9).str("/x").u32(0).Bytes())
	require.NoError(t, err)
	assert.Equal(t, "MKDIR", req.Op)
}
