package fileserver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mevdschee/sftpjail/internal/logger"
	"github.com/mevdschee/sftpjail/internal/protocol"
	"github.com/mevdschee/sftpjail/internal/sftpwire"
)

// Serve speaks SFTP on rw for sess until the client hangs up, the stream fails
// or ctx is cancelled. Requests are handled one at a time in arrival order.
// The session is always closed before Serve returns; a clean end of stream
// returns nil.
func Serve(ctx context.Context, rw io.ReadWriter, sess *Session) error {
	defer sess.Close()

	body, err := sftpwire.ReadPacket(rw)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to read init: %w", err)
	}
	version, err := sftpwire.DecodeInit(body)
	if err != nil {
		return err
	}
	sess.log.Debug("SFTP init", "client_version", version)
	if err := sftpwire.WritePacket(rw, sftpwire.EncodeVersion(sftpwire.Version)); err != nil {
		return fmt.Errorf("failed to send version: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := sftpwire.ReadPacket(rw)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read packet: %w", err)
		}

		var resp protocol.Response
		req, err := sftpwire.DecodeRequest(body)
		if err != nil {
			id, ok := sftpwire.RequestID(body)
			if !ok {
				sess.log.Warn("Dropping packet without request id", logger.KeyProcedure, req.Op, logger.KeyError, err)
				continue
			}
			sess.log.Warn("Malformed request", logger.KeyRequestID, id, logger.KeyProcedure, req.Op, logger.KeyError, err)
			resp = protocol.StatusResponse(id, protocol.StatusFailure, "bad message")
		} else {
			resp = sess.Handle(ctx, req)
		}

		if err := sftpwire.WritePacket(rw, sftpwire.EncodeResponse(resp)); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}
