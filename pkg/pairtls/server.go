package pairtls

import (
	"bytes"
	"fmt"

	"github.com/backkem/pairtls/pkg/crypto"
	"github.com/backkem/pairtls/pkg/handshake"
	"github.com/backkem/pairtls/pkg/keyschedule"
	"github.com/backkem/pairtls/pkg/record"
)

// recvClientHello validates the PSK offer, verifies its binder and, on
// success, emits the whole server flight: ServerHello, the
// compatibility ChangeCipherSpec, EncryptedExtensions and Finished.
func (c *Connection) recvClientHello(msg handshake.Message) error {
	hello, ok := msg.(*handshake.ClientHello)
	if !ok {
		return fmt.Errorf("%w: expected ClientHello, got %s", ErrUnexpectedMessage, msg.Type())
	}
	offer := hello.PreSharedKey()
	modes := hello.PskKeyExchangeModes()
	if offer == nil || modes == nil {
		return fmt.Errorf("%w: ClientHello lacks pre_shared_key or psk_key_exchange_modes", ErrInvalidExtension)
	}
	if !modes.OffersPSKKE() {
		return fmt.Errorf("%w: peer does not offer psk_ke", ErrInvalidExtension)
	}
	idx := -1
	for i, identity := range offer.Identities {
		if bytes.Equal(identity.Identity, c.pskID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrUnknownPSKIdentity
	}
	if idx >= len(offer.Binders) {
		return fmt.Errorf("%w: identity %d has no binder", ErrMalformedWire, idx)
	}

	if err := c.schedule.AddPSK(c.psk); err != nil {
		return scheduleError(err)
	}
	c.psk = nil
	binderKey, err := c.schedule.ExternalBinderKey()
	if err != nil {
		return scheduleError(err)
	}
	// The binder covers the ClientHello up to but excluding the binder
	// list itself, which at this point is the whole transcript minus
	// the list.
	transcript := c.schedule.Transcript()
	truncated := transcript[:len(transcript)-offer.BindersSize()]
	valid, err := keyschedule.VerifyFinishedMAC(binderKey, truncated, offer.Binders[idx])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoPrimitiveFailure, err)
	}
	if !valid {
		return fmt.Errorf("%w: binder for identity %d does not verify", ErrBinderMismatch, idx)
	}

	random, err := crypto.RandomBytes(c.rand, handshake.RandomLength)
	if err != nil {
		return fmt.Errorf("%w: reading server random: %v", ErrCryptoPrimitiveFailure, err)
	}
	serverHello := &handshake.ServerHello{
		Random:    random,
		SessionID: hello.SessionID,
		Extensions: []handshake.Extension{
			&handshake.SupportedVersionsSelected{Selected: handshake.VersionTLS13},
			&handshake.PreSharedKeySelected{SelectedIdentity: uint16(idx)},
		},
	}
	if err := c.sendHandshakeMessage(serverHello); err != nil {
		return err
	}
	// A non-empty legacy_session_id means the peer expects the
	// middlebox-compatibility ChangeCipherSpec (RFC 8446 Appendix D.4).
	// Queueing it flushes the ServerHello record first.
	if len(hello.SessionID) > 0 {
		if err := c.records.Send(record.TypeChangeCipherSpec, []byte{0x01}); err != nil {
			return sendError(err)
		}
		if err := c.records.Flush(); err != nil {
			return sendError(err)
		}
	}

	if err := c.schedule.AddECDHE(nil); err != nil {
		return scheduleError(err)
	}
	sendSecret, err := c.schedule.ServerHandshakeTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	clientSecret, err := c.schedule.ClientHandshakeTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	if err := c.records.SetSendKey(sendSecret); err != nil {
		return sendError(err)
	}
	if err := c.installRecvKey(clientSecret); err != nil {
		return err
	}
	if err := c.sendHandshakeMessage(&handshake.EncryptedExtensions{}); err != nil {
		return err
	}
	verifyData, err := keyschedule.ComputeFinishedMAC(sendSecret, c.schedule.Transcript())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoPrimitiveFailure, err)
	}
	if err := c.sendHandshakeMessage(&handshake.Finished{VerifyData: verifyData}); err != nil {
		return err
	}

	// The client Finished covers the transcript up to and including our
	// own. The client handshake secret outlives Finalize so the client
	// Finished can still be verified against it.
	c.peerFinishedTranscript = c.schedule.Transcript()
	c.clientHandshakeSecret = clientSecret
	if err := c.schedule.Finalize(); err != nil {
		return scheduleError(err)
	}
	appSecret, err := c.schedule.ServerApplicationTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	// Flushes EncryptedExtensions and Finished coalesced under the
	// handshake key.
	if err := c.records.SetSendKey(appSecret); err != nil {
		return sendError(err)
	}
	c.pskID = nil
	c.state = StateServerWaitFinished
	if c.log != nil {
		c.log.Debugf("sent server flight, waiting for client Finished")
	}
	return nil
}

// recvClientFinished verifies the client Finished and completes the
// handshake.
func (c *Connection) recvClientFinished(msg handshake.Message) error {
	fin, ok := msg.(*handshake.Finished)
	if !ok {
		return fmt.Errorf("%w: expected Finished, got %s", ErrUnexpectedMessage, msg.Type())
	}
	valid, err := keyschedule.VerifyFinishedMAC(c.clientHandshakeSecret, c.peerFinishedTranscript, fin.VerifyData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoPrimitiveFailure, err)
	}
	if !valid {
		return fmt.Errorf("%w: client Finished does not verify", ErrFinishedMismatch)
	}
	recvSecret, err := c.schedule.ClientApplicationTrafficSecret()
	if err != nil {
		return scheduleError(err)
	}
	if err := c.installRecvKey(recvSecret); err != nil {
		return err
	}
	c.clientHandshakeSecret = nil
	c.peerFinishedTranscript = nil
	c.state = StateConnected
	if c.log != nil {
		c.log.Infof("handshake complete")
	}
	return nil
}
