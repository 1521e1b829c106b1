// Package sftpwire frames and encodes SFTP version 3 packets.
//
// Packet bodies use the SSH wire encoding (uint32, uint64 and length-prefixed
// strings), so they are marshalled with golang.org/x/crypto/ssh and its
// sshtype struct tags.
package sftpwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Version is the only protocol version spoken.
const Version = 3

// MaxPacketLength bounds a single packet body: the largest data payload plus room
// for the packet header and handle.
const MaxPacketLength = 256*1024 + 1024

// Packet types.
const (
	TypeInit      byte = 1
	TypeVersion   byte = 2
	TypeOpen      byte = 3
	TypeClose     byte = 4
	TypeRead      byte = 5
	TypeWrite     byte = 6
	TypeLstat     byte = 7
	TypeFstat     byte = 8
	TypeSetstat   byte = 9
	TypeFsetstat  byte = 10
	TypeOpendir   byte = 11
	TypeReaddir   byte = 12
	TypeRemove    byte = 13
	TypeMkdir     byte = 14
	TypeRmdir     byte = 15
	TypeRealpath  byte = 16
	TypeStat      byte = 17
	TypeRename    byte = 18
	TypeReadlink  byte = 19
	TypeSymlink   byte = 20
	TypeStatus    byte = 101
	TypeHandle    byte = 102
	TypeData      byte = 103
	TypeNameReply byte = 104
	TypeAttrs     byte = 105
	TypeExtended  byte = 200
)

// Status codes on the wire. Only OK, EOF and FAILURE are ever sent.
const (
	codeOK      uint32 = 0
	codeEOF     uint32 = 1
	codeFailure uint32 = 4
)

var (
	// ErrPacketTooLarge is a fatal framing error.
	ErrPacketTooLarge = errors.New("sftp packet too large")
	// ErrEmptyPacket is a fatal framing error.
	ErrEmptyPacket = errors.New("empty sftp packet")
	// ErrMalformed marks a packet whose fields could not be decoded.
	ErrMalformed = errors.New("malformed sftp packet")
)

var typeNames = map[byte]string{
	TypeInit:      "INIT",
	TypeVersion:   "VERSION",
	TypeOpen:      "OPEN",
	TypeClose:     "CLOSE",
	TypeRead:      "READ",
	TypeWrite:     "WRITE",
	TypeLstat:     "LSTAT",
	TypeFstat:     "FSTAT",
	TypeSetstat:   "SETSTAT",
	TypeFsetstat:  "FSETSTAT",
	TypeOpendir:   "OPENDIR",
	TypeReaddir:   "READDIR",
	TypeRemove:    "REMOVE",
	TypeMkdir:     "MKDIR",
	TypeRmdir:     "RMDIR",
	TypeRealpath:  "REALPATH",
	TypeStat:      "STAT",
	TypeRename:    "RENAME",
	TypeReadlink:  "READLINK",
	TypeSymlink:   "SYMLINK",
	TypeStatus:    "STATUS",
	TypeHandle:    "HANDLE",
	TypeData:      "DATA",
	TypeNameReply: "NAME",
	TypeAttrs:     "ATTRS",
	TypeExtended:  "EXTENDED",
}

// TypeName returns the protocol name of a packet type.
func TypeName(t byte) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE_%d", t)
}

// ReadPacket reads one length-prefixed packet body. A clean end of stream
// before the length prefix is reported as io.EOF.
func ReadPacket(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyPacket
	}
	if n > MaxPacketLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WritePacket writes body with its length prefix in a single Write call.
func WritePacket(w io.Writer, body []byte) error {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err := w.Write(buf)
	return err
}

// RequestID extracts the request id that follows the type byte, if present.
// INIT carries a version there instead of an id.
func RequestID(body []byte) (uint32, bool) {
	if len(body) < 5 || body[0] == TypeInit {
		return 0, false
	}
	return binary.BigEndian.Uint32(body[1:5]), true
}
