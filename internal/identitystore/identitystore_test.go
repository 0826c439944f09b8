package identitystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coinstash/fileup/internal/cryptoadapter"
)

func TestPersistAndLoadIdentity(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	var id [IDSize]byte
	for i := range id {
		id[i] = byte(i + 1)
	}

	if err := s.PersistIdentity("Alice", id); err != nil {
		t.Fatalf("PersistIdentity: %v", err)
	}
	if err := s.AppendPrivateKey("dGVzdGtleQ=="); err != nil {
		t.Fatalf("AppendPrivateKey: %v", err)
	}

	got, ok, err := s.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if !ok {
		t.Fatalf("LoadIdentity: expected ok=true")
	}
	if got.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", got.Name)
	}
	if got.ClientID != id {
		t.Errorf("ClientID = %x, want %x", got.ClientID, id)
	}
	if got.PrivateKeyB64 != "dGVzdGtleQ==" {
		t.Errorf("PrivateKeyB64 = %q", got.PrivateKeyB64)
	}

	raw, err := s.LoadPrivateKey()
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if string(raw) != "testkey" {
		t.Errorf("LoadPrivateKey = %q, want testkey", raw)
	}
}

func TestLoadIdentityMissingIsUnregistered(t *testing.T) {
	s := New(t.TempDir())
	id, ok, err := s.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing me.info, got %+v", id)
	}
}

func TestLoadIdentityMalformedIsWarning(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "me.info"), []byte("onlyonelinenohexid"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := New(dir)
	_, ok, err := s.LoadIdentity()
	if ok {
		t.Fatalf("expected ok=false for malformed me.info")
	}
	if err == nil {
		t.Fatalf("expected an error for malformed me.info")
	}
}

func TestLoadTransfer(t *testing.T) {
	dir := t.TempDir()
	content := "127.0.0.1:1234\nAlice\n./a.bin\n"
	if err := os.WriteFile(filepath.Join(dir, "transfer.info"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(dir)
	tr, err := s.LoadTransfer()
	if err != nil {
		t.Fatalf("LoadTransfer: %v", err)
	}
	if tr.Host != "127.0.0.1" || tr.Port != 1234 || tr.Name != "Alice" || tr.FilePath != "./a.bin" {
		t.Errorf("LoadTransfer = %+v", tr)
	}
}

func TestLoadTransferMissingIsFatal(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.LoadTransfer(); err == nil {
		t.Fatalf("expected error for missing transfer.info")
	}
}

func TestLoadTransferBadHostIsFatal(t *testing.T) {
	dir := t.TempDir()
	content := "999.999.999.999:1234\nAlice\n./a.bin\n"
	if err := os.WriteFile(filepath.Join(dir, "transfer.info"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	s := New(dir)
	if _, err := s.LoadTransfer(); err == nil {
		t.Fatalf("expected error for invalid host")
	}
}

func TestLoadTransferBadPortIsFatal(t *testing.T) {
	dir := t.TempDir()
	content := "127.0.0.1:99999\nAlice\n./a.bin\n"
	if err := os.WriteFile(filepath.Join(dir, "transfer.info"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	s := New(dir)
	if _, err := s.LoadTransfer(); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestHexLineWrapEvery16Bytes(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	var id [IDSize]byte
	copy(id[:], []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10})
	if err := s.PersistIdentity("Bob", id); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "me.info"))
	if err != nil {
		t.Fatal(err)
	}
	want := "Bob\n" + cryptoadapter.EncodeHexLines(id[:])
	if !hasSuffixNewline(want) {
		want += "\n"
	}
	if string(data) != want {
		t.Errorf("me.info = %q, want %q", data, want)
	}
}

func hasSuffixNewline(s string) bool {
	return len(s) > 0 && s[len(s)-1] == '\n'
}
