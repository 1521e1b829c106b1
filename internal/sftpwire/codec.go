package sftpwire

import (
	"fmt"

	"github.com/mevdschee/sftpjail/internal/protocol"
	"golang.org/x/crypto/ssh"
)

type initPacket struct {
	Version    uint32 `sshtype:"1"`
	Extensions []byte `ssh:"rest"`
}

type versionPacket struct {
	Version    uint32 `sshtype:"2"`
	Extensions []byte `ssh:"rest"`
}

type openPacket struct {
	ID     uint32 `sshtype:"3"`
	Path   string
	Pflags uint32
	Attrs  []byte `ssh:"rest"`
}

type handlePacket struct {
	ID     uint32 `sshtype:"4|12"`
	Handle string
}

type readPacket struct {
	ID     uint32 `sshtype:"5"`
	Handle string
	Offset uint64
	Length uint32
}

type writePacket struct {
	ID     uint32 `sshtype:"6"`
	Handle string
	Offset uint64
	Data   []byte
}

type pathPacket struct {
	ID   uint32 `sshtype:"11|16"`
	Path string
	// Newer clients may append a control byte and compose path to REALPATH.
	Rest []byte `ssh:"rest"`
}

type statusReply struct {
	ID       uint32 `sshtype:"101"`
	Code     uint32
	Message  string
	Language string
}

type handleReply struct {
	ID     uint32 `sshtype:"102"`
	Handle string
}

type dataReply struct {
	ID   uint32 `sshtype:"103"`
	Data []byte
}

type nameReply struct {
	ID      uint32 `sshtype:"104"`
	Count   uint32
	Entries []byte `ssh:"rest"`
}

type nameEntry struct {
	Filename string
	Longname string
	Flags    uint32 // attribute flags; no attributes are sent
}

// DecodeInit parses the client's INIT packet and returns its version.
func DecodeInit(body []byte) (uint32, error) {
	var p initPacket
	if err := ssh.Unmarshal(body, &p); err != nil {
		return 0, fmt.Errorf("%w: INIT: %v", ErrMalformed, err)
	}
	return p.Version, nil
}

// EncodeVersion builds the VERSION reply. No extensions are advertised.
func EncodeVersion(version uint32) []byte {
	return ssh.Marshal(&versionPacket{Version: version})
}

// DecodeRequest turns a packet body into a Request. Packet types outside the
// supported set decode to VerbUnknown with only the id filled in. On error the
// returned Request still carries the id when one could be read.
func DecodeRequest(body []byte) (protocol.Request, error) {
	if len(body) == 0 {
		return protocol.Request{}, ErrEmptyPacket
	}
	id, ok := RequestID(body)
	if !ok {
		return protocol.Request{Op: TypeName(body[0])}, fmt.Errorf("%w: %s without request id", ErrMalformed, TypeName(body[0]))
	}

	req := protocol.Request{ID: id, Op: TypeName(body[0])}
	var err error

	switch body[0] {
	case TypeOpen:
		var p openPacket
		if err = ssh.Unmarshal(body, &p); err == nil {
			req.Verb, req.Path, req.Flags = protocol.VerbOpen, p.Path, p.Pflags
		}
	case TypeClose:
		var p handlePacket
		if err = ssh.Unmarshal(body, &p); err == nil {
			req.Verb, req.Handle = protocol.VerbClose, p.Handle
		}
	case TypeReaddir:
		var p handlePacket
		if err = ssh.Unmarshal(body, &p); err == nil {
			req.Verb, req.Handle = protocol.VerbReaddir, p.Handle
		}
	case TypeRead:
		var p readPacket
		if err = ssh.Unmarshal(body, &p); err == nil {
			req.Verb, req.Handle, req.Offset, req.Length = protocol.VerbRead, p.Handle, p.Offset, p.Length
		}
	case TypeWrite:
		var p writePacket
		if err = ssh.Unmarshal(body, &p); err == nil {
			req.Verb, req.Handle, req.Offset, req.Data = protocol.VerbWrite, p.Handle, p.Offset, p.Data
		}
	case TypeOpendir:
		var p pathPacket
		if err = ssh.Unmarshal(body, &p); err == nil {
			req.Verb, req.Path = protocol.VerbOpendir, p.Path
		}
	case TypeRealpath:
		var p pathPacket
		if err = ssh.Unmarshal(body, &p); err == nil {
			req.Verb, req.Path = protocol.VerbRealpath, p.Path
		}
	default:
		req.Verb = protocol.VerbUnknown
	}

	if err != nil {
		return req, fmt.Errorf("%w: %s: %v", ErrMalformed, req.Op, err)
	}
	return req, nil
}

// EncodeResponse renders a Response as a packet body.
func EncodeResponse(resp protocol.Response) []byte {
	switch resp.Kind {
	case protocol.KindHandle:
		return ssh.Marshal(&handleReply{ID: resp.ID, Handle: resp.Handle})
	case protocol.KindData:
		return ssh.Marshal(&dataReply{ID: resp.ID, Data: resp.Data})
	case protocol.KindName:
		var entries []byte
		for _, name := range resp.Entries {
			entries = append(entries, ssh.Marshal(&nameEntry{Filename: name, Longname: name})...)
		}
		return ssh.Marshal(&nameReply{ID: resp.ID, Count: uint32(len(resp.Entries)), Entries: entries})
	default:
		return ssh.Marshal(&statusReply{ID: resp.ID, Code: statusCode(resp.Status), Message: statusMessage(resp)})
	}
}

func statusCode(s protocol.Status) uint32 {
	switch s {
	case protocol.StatusOK:
		return codeOK
	case protocol.StatusEOF:
		return codeEOF
	default:
		return codeFailure
	}
}

func statusMessage(resp protocol.Response) string {
	if resp.Message != "" {
		return resp.Message
	}
	switch resp.Status {
	case protocol.StatusOK:
		return "Success"
	case protocol.StatusEOF:
		return "End of file"
	default:
		return "Failure"
	}
}
