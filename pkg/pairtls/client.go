package pairtls

import (
	"bytes"
	"fmt"

	"github.com/backkem/pairtls/pkg/crypto"
	"github.com/backkem/pairtls/pkg/handshake"
	"github.com/backkem/pairtls/pkg/keyschedule"
	"github.com/backkem/pairtls/pkg/record"
)

// sendClientHello builds the ClientHello, splices in the PSK binder and
// flushes it as the first flight.
func (c *Connection) sendClientHello() error {
	if err := c.schedule.AddPSK(c.psk); err != nil {
		return scheduleError(err)
	}
	c.psk = nil

	random, err := crypto.RandomBytes(c.rand, handshake.RandomLength)
	if err != nil {
		return fmt.Errorf("%w: reading client random: %v", ErrCryptoPrimitiveFailure, err)
	}
	// A non-empty legacy_session_id keeps middleboxes that expect a
	// TLS 1.2 resumption flow happy and makes the server send its
	// compatibility ChangeCipherSpec.
	sessionID, err := crypto.RandomBytes(c.rand, handshake.MaxSessionIDLength)
	if err != nil {
		return fmt.Errorf("%w: reading session id: %v", ErrCryptoPrimitiveFailure, err)
	}

	// The binder value depends on the serialized message that carries
	// it, so it is written as zeros first and spliced in afterwards.
	psk := &handshake.PreSharedKey{
		Identities: []handshake.PSKIdentity{{Identity: c.pskID}},
		Binders:    [][]byte{make([]byte, crypto.SHA256LenBytes)},
	}
	hello := &handshake.ClientHello{
		Random:    random,
		SessionID: sessionID,
		Extensions: []handshake.Extension{
			&handshake.SupportedVersions{Versions: []uint16{handshake.VersionTLS13}},
			&handshake.PskKeyExchangeModes{Modes: []uint8{handshake.PSKModePSKKE}},
			psk,
		},
	}
	raw, err := handshake.Marshal(hello)
	if err != nil {
		return err
	}

	binderKey, err := c.schedule.ExternalBinderKey()
	if err != nil {
		return scheduleError(err)
	}
	truncated := raw[:len(raw)-psk.BindersSize()]
	binder, err := keyschedule.ComputeFinishedMAC(binderKey, truncated)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoPrimitiveFailure, err)
	}
	copy(raw[len(raw)-len(binder):], binder)

	c.sessionID = sessionID
	c.pskID = nil
	c.schedule.AddToTranscript(raw)
	if err := c.records.Send(record.TypeHandshake, raw); err != nil {
		return sendError(err)
	}
	if err := c.records.Flush(); err != nil {
		return sendError(err)
	}
	c.state = StateClientWaitSH
	if c.log != nil {
		c.log.Debugf("sent ClientHello, waiting for ServerHello")
	}
	return nil
}

// recvServerHello validates the ServerHello against the offer and
// installs the handshake traffic keys.
func (c *Connection) recvServerHello(msg handshake.Message) error {
	hello, ok := msg.(*handshake.ServerHello)
	if !ok {
		return fmt.Errorf("%w: expected ServerHello, got %s", ErrUnexpectedMessage, msg.Type())
	}
	if !bytes.Equal(hello.SessionID, c.sessionID) {
		return fmt.Errorf("%w: ServerHello echoes a different legacy_session_id", ErrSessionIDMismatch)
	}
	selected := hello.PreSharedKeySelected()
	if selected == nil {
		return fmt.Errorf("%w: ServerHello without pre_shared_key", ErrInvalidExtension)
	}
	// The client offers a single identity, so only index 0 is valid.
	if selected.SelectedIdentity != 0 {
		return fmt.Errorf("%w: selected_identity %d out of range", ErrInvalidExtension, selected.SelectedIdentity)
	}
	// psk_ke uses no key share; the schedule takes an all-zero input.
	if err := c.schedule.AddECDHE(nil); err != nil {
		return scheduleError(err)
	}
	sendSecret, err := c.schedule.ClientHandshakeTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	recvSecret, err := c.schedule.ServerHandshakeTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	if err := c.records.SetSendKey(sendSecret); err != nil {
		return sendError(err)
	}
	if err := c.installRecvKey(recvSecret); err != nil {
		return err
	}
	c.state = StateClientWaitEE
	return nil
}

// recvEncryptedExtensions accepts the server's empty extension list and
// snapshots the transcript the server Finished must cover.
func (c *Connection) recvEncryptedExtensions(msg handshake.Message) error {
	ee, ok := msg.(*handshake.EncryptedExtensions)
	if !ok {
		return fmt.Errorf("%w: expected EncryptedExtensions, got %s", ErrUnexpectedMessage, msg.Type())
	}
	if len(ee.Extensions) != 0 {
		return fmt.Errorf("%w: EncryptedExtensions must be empty", ErrInvalidExtension)
	}
	c.peerFinishedTranscript = c.schedule.Transcript()
	c.state = StateClientWaitFinished
	return nil
}

// recvServerFinished verifies the server Finished, answers with the
// client Finished and switches to application traffic keys.
func (c *Connection) recvServerFinished(msg handshake.Message) error {
	fin, ok := msg.(*handshake.Finished)
	if !ok {
		return fmt.Errorf("%w: expected Finished, got %s", ErrUnexpectedMessage, msg.Type())
	}
	serverSecret, err := c.schedule.ServerHandshakeTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	valid, err := keyschedule.VerifyFinishedMAC(serverSecret, c.peerFinishedTranscript, fin.VerifyData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoPrimitiveFailure, err)
	}
	if !valid {
		return fmt.Errorf("%w: server Finished does not verify", ErrFinishedMismatch)
	}

	// Our Finished covers the transcript through the server's, but must
	// not influence the application traffic secrets. It enters the
	// transcript only after Finalize.
	clientSecret, err := c.schedule.ClientHandshakeTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	verifyData, err := keyschedule.ComputeFinishedMAC(clientSecret, c.schedule.Transcript())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoPrimitiveFailure, err)
	}
	if err := c.schedule.Finalize(); err != nil {
		return scheduleError(err)
	}
	if err := c.sendHandshakeMessage(&handshake.Finished{VerifyData: verifyData}); err != nil {
		return err
	}
	sendSecret, err := c.schedule.ClientApplicationTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	recvSecret, err := c.schedule.ServerApplicationTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	// SetSendKey flushes the queued Finished under the handshake key.
	if err := c.records.SetSendKey(sendSecret); err != nil {
		return sendError(err)
	}
	if err := c.installRecvKey(recvSecret); err != nil {
		return err
	}
	c.peerFinishedTranscript = nil
	c.state = StateConnected
	if c.log != nil {
		c.log.Infof("handshake complete")
	}
	return nil
}
