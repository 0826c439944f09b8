package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/coinstash/fileup/internal/wire"
)

// fakeSender scripts a sequence of response headers (with zero-length
// payloads, sufficient for these tests) and counts how many requests were
// sent.
type fakeSender struct {
	codes     []uint16
	sendCount int
}

func (f *fakeSender) Send(b []byte) error {
	f.sendCount++
	return nil
}

func (f *fakeSender) RecvExact(n int) ([]byte, error) {
	idx := f.sendCount - 1
	if idx >= len(f.codes) {
		return nil, errors.New("fakeSender: out of scripted responses")
	}
	code := f.codes[idx]
	if n == wire.ResponseHeaderSize {
		buf := make([]byte, wire.ResponseHeaderSize)
		buf[0] = wire.ClientVersion
		buf[1] = byte(code)
		buf[2] = byte(code >> 8)
		return buf, nil
	}
	return make([]byte, n), nil
}

func acceptOnCode(want uint16) Parser[string] {
	return func(h wire.ResponseHeader, _ func(int) ([]byte, error)) (string, bool, error) {
		if h.Code == want {
			return "ok", true, nil
		}
		return "", false, nil
	}
}

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	s := &fakeSender{codes: []uint16{wire.CodeRegisterSuccess}}
	val, err := Do(context.Background(), nil, s, []byte("req"), acceptOnCode(wire.CodeRegisterSuccess))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if val != "ok" {
		t.Errorf("val = %q", val)
	}
	if s.sendCount != 1 {
		t.Errorf("sendCount = %d, want 1", s.sendCount)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	s := &fakeSender{codes: []uint16{
		wire.CodeGeneralFailure,
		wire.CodeGeneralFailure,
		wire.CodeRegisterSuccess,
	}}
	val, err := Do(context.Background(), nil, s, []byte("req"), acceptOnCode(wire.CodeRegisterSuccess))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if val != "ok" {
		t.Errorf("val = %q", val)
	}
	if s.sendCount != 3 {
		t.Errorf("sendCount = %d, want 3", s.sendCount)
	}
}

func TestDoExhaustsRetriesAndFails(t *testing.T) {
	s := &fakeSender{codes: []uint16{
		wire.CodeGeneralFailure,
		wire.CodeGeneralFailure,
		wire.CodeGeneralFailure,
		wire.CodeGeneralFailure,
	}}
	_, err := Do(context.Background(), nil, s, []byte("req"), acceptOnCode(wire.CodeRegisterSuccess))
	if !errors.Is(err, ErrServerRejected) {
		t.Fatalf("err = %v, want ErrServerRejected", err)
	}
	if s.sendCount != NumberOfAttempts {
		t.Errorf("sendCount = %d, want %d (retry ceiling must never be exceeded)", s.sendCount, NumberOfAttempts)
	}
}
