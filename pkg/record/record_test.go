package record

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// collect returns a SendFunc that appends every emitted record to out.
func collect(out *[][]byte) SendFunc {
	return func(data []byte) error {
		*out = append(*out, append([]byte(nil), data...))
		return nil
	}
}

func testSecret(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

// pair returns a sending layer and a receiving layer keyed with the same
// traffic secret, plus the sender's emitted records.
func pair(t *testing.T) (*Layer, *Layer, *[][]byte) {
	t.Helper()
	var sent [][]byte
	sender := NewLayer(collect(&sent))
	if err := sender.SetSendKey(testSecret(0x5A)); err != nil {
		t.Fatalf("SetSendKey failed: %v", err)
	}
	receiver := NewLayer(func([]byte) error { return nil })
	if err := receiver.SetRecvKey(testSecret(0x5A)); err != nil {
		t.Fatalf("SetRecvKey failed: %v", err)
	}
	return sender, receiver, &sent
}

func TestLayer_PlaintextSendAndFlush(t *testing.T) {
	var sent [][]byte
	l := NewLayer(collect(&sent))

	if err := l.Send(TypeHandshake, []byte("hello world")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(sent) != 0 {
		t.Fatal("record emitted before Flush")
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("emitted %d records, want 1", len(sent))
	}

	rec := sent[0]
	if want := []byte{22, 0x03, 0x03, 0, 11}; !bytes.Equal(rec[:HeaderSize], want) {
		t.Errorf("header = %x, want %x", rec[:HeaderSize], want)
	}
	if !bytes.Equal(rec[HeaderSize:], []byte("hello world")) {
		t.Errorf("payload = %q", rec[HeaderSize:])
	}
}

func TestLayer_FlushNothingPending(t *testing.T) {
	var sent [][]byte
	l := NewLayer(collect(&sent))
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(sent) != 0 {
		t.Error("empty flush emitted a record")
	}
}

func TestLayer_CoalescesSameType(t *testing.T) {
	var sent [][]byte
	l := NewLayer(collect(&sent))

	if err := l.Send(TypeHandshake, []byte("hello world")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := l.Send(TypeHandshake, []byte("hello again")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("emitted %d records, want 1", len(sent))
	}
	if !bytes.Equal(sent[0][HeaderSize:], []byte("hello worldhello again")) {
		t.Errorf("payload = %q", sent[0][HeaderSize:])
	}
	if sent[0][4] != 22 {
		t.Errorf("length byte = %d, want 22", sent[0][4])
	}
}

func TestLayer_SendSizeLimit(t *testing.T) {
	var sent [][]byte
	l := NewLayer(collect(&sent))

	if err := l.Send(TypeHandshake, make([]byte, MaxPlaintextSize+1)); !errors.Is(err, ErrRecordOverflow) {
		t.Errorf("Send error = %v, want ErrRecordOverflow", err)
	}
	if err := l.Send(TypeHandshake, make([]byte, MaxPlaintextSize)); err != nil {
		t.Errorf("full-size Send failed: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(sent) != 1 || len(sent[0]) != HeaderSize+MaxPlaintextSize {
		t.Errorf("emitted %d records", len(sent))
	}
}

func TestLayer_AutoFlushWhenCombinedTooBig(t *testing.T) {
	var sent [][]byte
	l := NewLayer(collect(&sent))

	if err := l.Send(TypeHandshake, []byte("hello world")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := l.Send(TypeHandshake, make([]byte, MaxPlaintextSize-1)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("emitted %d records, want auto-flushed first record", len(sent))
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("emitted %d records, want 2", len(sent))
	}
	if !bytes.Equal(sent[0][HeaderSize:], []byte("hello world")) {
		t.Errorf("first payload = %q", sent[0][HeaderSize:])
	}
	if len(sent[1][HeaderSize:]) != MaxPlaintextSize-1 {
		t.Errorf("second payload = %d bytes", len(sent[1][HeaderSize:]))
	}
}

func TestLayer_AutoFlushOnTypeSwitch(t *testing.T) {
	var sent [][]byte
	l := NewLayer(collect(&sent))

	if err := l.Send(TypeHandshake, []byte("handshake")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := l.Send(TypeApplicationData, []byte("app-data")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(sent) != 1 || sent[0][0] != 22 {
		t.Fatalf("type switch did not flush the handshake record: %d records", len(sent))
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(sent) != 2 || sent[1][0] != 23 {
		t.Fatalf("emitted %d records", len(sent))
	}
}

func TestLayer_EncryptedRecordShape(t *testing.T) {
	sender, _, sent := pair(t)

	if err := sender.Send(TypeHandshake, []byte("hello world")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := sender.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	rec := (*sent)[0]
	if want := []byte{23, 0x03, 0x03, 0, 11 + 1 + 16}; !bytes.Equal(rec[:HeaderSize], want) {
		t.Errorf("header = %x, want %x", rec[:HeaderSize], want)
	}
	if len(rec) != HeaderSize+11+1+16 {
		t.Errorf("record = %d bytes", len(rec))
	}
}

func TestLayer_EncryptedRoundTrip(t *testing.T) {
	sender, receiver, sent := pair(t)

	const n = 5
	for i := 0; i < n; i++ {
		if err := sender.Send(TypeApplicationData, []byte(fmt.Sprintf("message %d", i))); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if err := sender.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
	}
	if len(*sent) != n {
		t.Fatalf("emitted %d records, want %d", len(*sent), n)
	}

	for i, rec := range *sent {
		typ, payload, err := receiver.Recv(rec)
		if err != nil {
			t.Fatalf("Recv record %d failed: %v", i, err)
		}
		if typ != TypeApplicationData {
			t.Errorf("record %d type = %v", i, typ)
		}
		if want := fmt.Sprintf("message %d", i); string(payload) != want {
			t.Errorf("record %d payload = %q, want %q", i, payload, want)
		}
	}

	if sender.sealer.seq != n || receiver.opener.seq != n {
		t.Errorf("sequence counters = %d/%d, want %d", sender.sealer.seq, receiver.opener.seq, n)
	}
}

func TestLayer_EncryptedTypeSwitch(t *testing.T) {
	sender, receiver, sent := pair(t)

	for _, send := range []struct {
		typ  Type
		data string
	}{
		{TypeHandshake, "handshake"},
		{TypeHandshake, "handshake"},
		{TypeApplicationData, "app-data"},
	} {
		if err := sender.Send(send.typ, []byte(send.data)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if err := sender.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(*sent) != 2 {
		t.Fatalf("emitted %d records, want 2", len(*sent))
	}

	typ, payload, err := receiver.Recv((*sent)[0])
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if typ != TypeHandshake || string(payload) != "handshakehandshake" {
		t.Errorf("first record = %v %q", typ, payload)
	}

	typ, payload, err = receiver.Recv((*sent)[1])
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if typ != TypeApplicationData || string(payload) != "app-data" {
		t.Errorf("second record = %v %q", typ, payload)
	}
}

func TestLayer_SetSendKeyFlushesPendingInPlaintext(t *testing.T) {
	var sent [][]byte
	l := NewLayer(collect(&sent))

	if err := l.Send(TypeHandshake, []byte("first flight")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := l.SetSendKey(testSecret(1)); err != nil {
		t.Fatalf("SetSendKey failed: %v", err)
	}
	if len(sent) != 1 || sent[0][0] != 22 {
		t.Fatalf("pending record not flushed in plaintext: %d records", len(sent))
	}
	if !bytes.Equal(sent[0][HeaderSize:], []byte("first flight")) {
		t.Errorf("payload = %q", sent[0][HeaderSize:])
	}

	if err := l.Send(TypeHandshake, []byte("second flight")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(sent) != 2 || sent[1][0] != 23 {
		t.Fatalf("post-key record not protected: type %d", sent[1][0])
	}
}

func TestLayer_EmptyApplicationData(t *testing.T) {
	sender, receiver, sent := pair(t)

	if err := sender.Send(TypeApplicationData, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := sender.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if (*sent)[0][4] != 1+16 {
		t.Errorf("length byte = %d, want 17", (*sent)[0][4])
	}

	typ, payload, err := receiver.Recv((*sent)[0])
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if typ != TypeApplicationData || len(payload) != 0 {
		t.Errorf("decoded = %v %q", typ, payload)
	}
}

func TestLayer_RecvPlaintextRecord(t *testing.T) {
	l := NewLayer(func([]byte) error { return nil })

	rec := append([]byte{22, 0x03, 0x03, 0, 5}, 1, 2, 3, 4, 5)
	typ, payload, err := l.Recv(rec)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if typ != TypeHandshake || !bytes.Equal(payload, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("decoded = %v %x", typ, payload)
	}
}

func TestLayer_RecvVersionGate(t *testing.T) {
	t.Run("initial_tls10_accepted", func(t *testing.T) {
		l := NewLayer(func([]byte) error { return nil })
		rec := append([]byte{22, 0x03, 0x01, 0, 5}, 1, 2, 3, 4, 5)
		if _, _, err := l.Recv(rec); err != nil {
			t.Errorf("Recv failed: %v", err)
		}
	})

	t.Run("unknown_versions_rejected", func(t *testing.T) {
		l := NewLayer(func([]byte) error { return nil })
		for _, version := range [][2]byte{{0x00, 0x00}, {0x12, 0x34}} {
			rec := append([]byte{22, version[0], version[1], 0, 5}, 1, 2, 3, 4, 5)
			if _, _, err := l.Recv(rec); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("version %x: error = %v, want ErrMalformedRecord", version, err)
			}
		}
	})

	t.Run("tls10_rejected_after_key", func(t *testing.T) {
		sender, receiver, sent := pair(t)
		if err := sender.Send(TypeApplicationData, []byte("x")); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if err := sender.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		rec := (*sent)[0]
		rec[1], rec[2] = 0x03, 0x01
		if _, _, err := receiver.Recv(rec); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("Recv error = %v, want ErrMalformedRecord", err)
		}
	})
}

func TestLayer_RecvMalformed(t *testing.T) {
	tests := []struct {
		name string
		rec  []byte
		want error
	}{
		{"short_header", []byte{22, 0x03, 0x03, 0}, ErrMalformedRecord},
		{"unknown_type", append([]byte{99, 0x03, 0x03, 0, 5}, 1, 2, 3, 4, 5), ErrMalformedRecord},
		{"truncated_fragment", []byte{22, 0x03, 0x03, 0, 5, 1, 2, 3, 4}, ErrMalformedRecord},
		{"trailing_bytes", append([]byte{22, 0x03, 0x03, 0, 5}, 1, 2, 3, 4, 5, 6), ErrMalformedRecord},
		{"length_over_limit", appendHeader(nil, TypeHandshake, MaxPlaintextSize+1), ErrRecordOverflow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLayer(func([]byte) error { return nil })
			if _, _, err := l.Recv(tc.rec); !errors.Is(err, tc.want) {
				t.Errorf("Recv error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLayer_RecvEncryptedErrors(t *testing.T) {
	protected := func(t *testing.T) ([]byte, *Layer) {
		sender, receiver, sent := pair(t)
		if err := sender.Send(TypeApplicationData, []byte("hello world")); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if err := sender.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		return (*sent)[0], receiver
	}

	t.Run("outer_type_not_application_data", func(t *testing.T) {
		rec, receiver := protected(t)
		rec[0] = 22
		if _, _, err := receiver.Recv(rec); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("Recv error = %v, want ErrMalformedRecord", err)
		}
	})

	t.Run("trailing_bytes", func(t *testing.T) {
		rec, receiver := protected(t)
		rec = append(rec, 0, 0, 0)
		if _, _, err := receiver.Recv(rec); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("Recv error = %v, want ErrMalformedRecord", err)
		}
	})

	t.Run("tampered_ciphertext", func(t *testing.T) {
		rec, receiver := protected(t)
		rec[HeaderSize] ^= 0x01
		if _, _, err := receiver.Recv(rec); !errors.Is(err, ErrDecryptFailed) {
			t.Errorf("Recv error = %v, want ErrDecryptFailed", err)
		}
	})

	t.Run("length_over_limit", func(t *testing.T) {
		_, receiver := protected(t)
		rec := appendHeader(nil, TypeApplicationData, MaxCiphertextSize+1)
		if _, _, err := receiver.Recv(rec); !errors.Is(err, ErrRecordOverflow) {
			t.Errorf("Recv error = %v, want ErrRecordOverflow", err)
		}
	})

	t.Run("encrypted_change_cipher_spec", func(t *testing.T) {
		sender, receiver, sent := pair(t)
		if err := sender.Send(TypeChangeCipherSpec, []byte{0x01}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if err := sender.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if _, _, err := receiver.Recv((*sent)[0]); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("Recv error = %v, want ErrMalformedRecord", err)
		}
	})
}

func TestLayer_PaddingHandling(t *testing.T) {
	seal := func(t *testing.T, inner []byte) []byte {
		cs, err := newCipherState(testSecret(0x5A))
		if err != nil {
			t.Fatalf("newCipherState failed: %v", err)
		}
		header := appendHeader(nil, TypeApplicationData, len(inner)+16)
		sealed, err := cs.seal(inner, header)
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}
		return append(header, sealed...)
	}
	receiver := func(t *testing.T) *Layer {
		l := NewLayer(func([]byte) error { return nil })
		if err := l.SetRecvKey(testSecret(0x5A)); err != nil {
			t.Fatalf("SetRecvKey failed: %v", err)
		}
		return l
	}

	t.Run("padding_stripped", func(t *testing.T) {
		inner := append([]byte("hello world"), byte(TypeHandshake))
		inner = append(inner, make([]byte, 12)...)
		typ, payload, err := receiver(t).Recv(seal(t, inner))
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if typ != TypeHandshake || string(payload) != "hello world" {
			t.Errorf("decoded = %v %q", typ, payload)
		}
	})

	t.Run("padded_empty_content", func(t *testing.T) {
		inner := append([]byte{byte(TypeApplicationData)}, make([]byte, 12)...)
		typ, payload, err := receiver(t).Recv(seal(t, inner))
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if typ != TypeApplicationData || len(payload) != 0 {
			t.Errorf("decoded = %v %q", typ, payload)
		}
	})

	t.Run("all_padding_rejected", func(t *testing.T) {
		if _, _, err := receiver(t).Recv(seal(t, make([]byte, 7))); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("Recv error = %v, want ErrMalformedRecord", err)
		}
	})
}

func TestCipherState_SequenceOverflow(t *testing.T) {
	enc, err := newCipherState(testSecret(1))
	if err != nil {
		t.Fatalf("newCipherState failed: %v", err)
	}
	enc.seq = MaxSequence - 1
	sealed, err := enc.seal([]byte("last one"), nil)
	if err != nil {
		t.Fatalf("seal at the final sequence number failed: %v", err)
	}
	if _, err := enc.seal([]byte("one too many"), nil); !errors.Is(err, ErrSequenceOverflow) {
		t.Errorf("seal error = %v, want ErrSequenceOverflow", err)
	}

	dec, err := newCipherState(testSecret(1))
	if err != nil {
		t.Fatalf("newCipherState failed: %v", err)
	}
	dec.seq = MaxSequence
	if _, err := dec.open(sealed, nil); !errors.Is(err, ErrSequenceOverflow) {
		t.Errorf("open error = %v, want ErrSequenceOverflow", err)
	}
}

func TestCipherState_NonceConstruction(t *testing.T) {
	cs, err := newCipherState(testSecret(7))
	if err != nil {
		t.Fatalf("newCipherState failed: %v", err)
	}

	n0, err := cs.nextNonce()
	if err != nil {
		t.Fatalf("nextNonce failed: %v", err)
	}
	if !bytes.Equal(n0[:], cs.iv) {
		t.Errorf("nonce 0 = %x, want the IV %x", n0, cs.iv)
	}

	cs.seq = 0x0102
	n, err := cs.nextNonce()
	if err != nil {
		t.Fatalf("nextNonce failed: %v", err)
	}
	want := append([]byte(nil), cs.iv...)
	want[10] ^= 0x01
	want[11] ^= 0x02
	if !bytes.Equal(n[:], want) {
		t.Errorf("nonce = %x, want %x", n, want)
	}
}

func TestLayer_SendCallbackError(t *testing.T) {
	fail := errors.New("transport gone")
	l := NewLayer(func([]byte) error { return fail })

	if err := l.Send(TypeHandshake, []byte("data")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := l.Flush(); !errors.Is(err, fail) {
		t.Errorf("Flush error = %v, want the callback error", err)
	}
	// The record was consumed; a retry has nothing to send.
	if err := l.Flush(); err != nil {
		t.Errorf("second Flush failed: %v", err)
	}
}

func BenchmarkLayer_EncryptedRoundTrip(b *testing.B) {
	var sent [][]byte
	sender := NewLayer(collect(&sent))
	if err := sender.SetSendKey(testSecret(9)); err != nil {
		b.Fatalf("SetSendKey failed: %v", err)
	}
	receiver := NewLayer(func([]byte) error { return nil })
	if err := receiver.SetRecvKey(testSecret(9)); err != nil {
		b.Fatalf("SetRecvKey failed: %v", err)
	}
	payload := make([]byte, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sent = sent[:0]
		if err := sender.Send(TypeApplicationData, payload); err != nil {
			b.Fatalf("Send failed: %v", err)
		}
		if err := sender.Flush(); err != nil {
			b.Fatalf("Flush failed: %v", err)
		}
		if _, _, err := receiver.Recv(sent[0]); err != nil {
			b.Fatalf("Recv failed: %v", err)
		}
	}
}
