package wizard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWrite_ProducesThreeLineLayout(t *testing.T) {
	dir := t.TempDir()
	a := Answers{Host: "192.168.1.10", Port: 1234, Name: "laptop", FilePath: "/tmp/report.bin"}

	if err := Write(dir, a); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "transfer.info"))
	if err != nil {
		t.Fatalf("read transfer.info: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), string(data))
	}
	if lines[0] != "192.168.1.10:1234" {
		t.Errorf("line 1 = %q, want 192.168.1.10:1234", lines[0])
	}
	if lines[1] != "laptop" {
		t.Errorf("line 2 = %q, want laptop", lines[1])
	}
	if lines[2] != "/tmp/report.bin" {
		t.Errorf("line 3 = %q, want /tmp/report.bin", lines[2])
	}
}

func TestWrite_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	a := Answers{Host: "10.0.0.1", Port: 80, Name: "x", FilePath: "y"}

	if err := Write(dir, a); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "transfer.info.tmp")); !os.IsNotExist(err) {
		t.Errorf("expected transfer.info.tmp to be renamed away, stat err = %v", err)
	}
}

func TestValidateHost(t *testing.T) {
	if err := validateHost(""); err == nil {
		t.Error("expected error for empty host")
	}
	if err := validateHost("10.0.0.1"); err != nil {
		t.Errorf("unexpected error for valid host: %v", err)
	}
}

func TestValidatePort(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"1234", false},
		{"0", false},
		{"65535", false},
		{"65536", true},
		{"-1", true},
		{"notanumber", true},
	}
	for _, c := range cases {
		err := validatePort(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("validatePort(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
		}
	}
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(existing, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := validateFile(""); err == nil {
		t.Error("expected error for empty path")
	}
	if err := validateFile(filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("expected error for missing file")
	}
	if err := validateFile(existing); err != nil {
		t.Errorf("unexpected error for existing file: %v", err)
	}
}
