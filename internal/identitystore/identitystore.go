// Package identitystore reads and writes the three text files that carry
// client identity and transfer target across process runs: me.info,
// transfer.info and priv.key (spec §4.2). All three live in the Store's
// directory (the process working directory when it is empty).
package identitystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/coinstash/fileup/internal/cryptoadapter"
)

const (
	meInfoFile       = "me.info"
	transferInfoFile = "transfer.info"
	privKeyFile      = "priv.key"

	// IDSize is the client ID width in bytes (spec §3). Identitystore
	// duplicates this constant rather than importing wire, which sits
	// above it in the dependency order.
	IDSize = 16

	idHexChars = IDSize * 2
)

// ErrIdentityWarning marks a malformed me.info: recoverable, the caller
// should proceed as unregistered (spec §7).
var ErrIdentityWarning = errors.New("identitystore: malformed me.info")

// ErrConfig marks a missing or malformed transfer.info: fatal (spec §7).
var ErrConfig = errors.New("identitystore: invalid transfer.info")

// Identity is the persisted client identity.
type Identity struct {
	Name     string
	ClientID [IDSize]byte
	// PrivateKeyB64 is the base64 PKCS#1 private key, possibly still empty
	// if me.info predates key exchange (should not happen once registered).
	PrivateKeyB64 string
}

// Transfer is the mandatory transfer target loaded from transfer.info.
type Transfer struct {
	Host string
	Port int
	// Name is used as a fallback display name only when no Identity was
	// loaded from me.info (spec §9, reconnect name precedence).
	Name     string
	FilePath string
}

// Store is the working-directory-scoped identity/transfer file store.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir. An empty dir means the process's
// current working directory.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name string) string {
	if s.Dir == "" {
		return name
	}
	return filepath.Join(s.Dir, name)
}

// LoadIdentity attempts to read me.info. Its absence is not an error: it
// means the client is unregistered and ok is false. A present-but-malformed
// file is a recoverable IdentityWarning: the error is returned wrapped in
// ErrIdentityWarning and ok is false, so the caller can log and fall
// through to registration rather than treating it as fatal.
func (s *Store) LoadIdentity() (Identity, bool, error) {
	data, err := os.ReadFile(s.path(meInfoFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, false, nil
		}
		return Identity{}, false, fmt.Errorf("%w: read me.info: %v", ErrIdentityWarning, err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 {
		return Identity{}, false, fmt.Errorf("%w: expected at least 2 lines, got %d", ErrIdentityWarning, len(lines))
	}

	name := strings.TrimRight(lines[0], "\r")

	hexLines, rest := consumeHexLines(lines[1:])
	idBytes, err := cryptoadapter.DecodeHexLines(strings.Join(hexLines, "\n"))
	if err != nil {
		return Identity{}, false, fmt.Errorf("%w: client id: %v", ErrIdentityWarning, err)
	}
	if len(idBytes) != IDSize {
		return Identity{}, false, fmt.Errorf("%w: client id is %d bytes, want %d", ErrIdentityWarning, len(idBytes), IDSize)
	}

	var id [IDSize]byte
	copy(id[:], idBytes)

	privB64 := strings.TrimSpace(strings.Join(rest, ""))

	return Identity{Name: name, ClientID: id, PrivateKeyB64: privB64}, true, nil
}

// consumeHexLines splits lines into the leading run of 32-hex-char lines
// (the hex-with-newlines-every-16-bytes ID encoding, spec §4.2) and the
// remaining lines (the base64 private key, which may itself span several
// lines and is concatenated by the caller).
func consumeHexLines(lines []string) (hexLines, rest []string) {
	hexPattern := regexp.MustCompile(`^[0-9a-fA-F]{1,32}$`)
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimRight(lines[i], "\r")
		if trimmed == "" {
			i++
			continue
		}
		if !hexPattern.MatchString(trimmed) {
			break
		}
		hexLines = append(hexLines, trimmed)
		i++
		// The ID is exactly 16 bytes (32 hex chars); once that much hex has
		// been consumed, everything after is the private key.
		total := 0
		for _, l := range hexLines {
			total += len(l)
		}
		if total >= idHexChars {
			break
		}
	}
	return hexLines, lines[i:]
}

// PersistIdentity writes me.info with name and the hex-encoded client ID
// (spec §4.2's `persist_identity`). Any existing private-key lines already
// present in me.info are dropped; callers append the private key
// separately via AppendPrivateKey once key exchange completes.
func (s *Store) PersistIdentity(name string, id [IDSize]byte) error {
	hexID := cryptoadapter.EncodeHexLines(id[:])
	content := name + "\n" + hexID
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return writeFileAtomic(s.path(meInfoFile), []byte(content), 0o600)
}

// AppendPrivateKey appends the base64 private key to me.info and writes
// priv.key (overwriting any prior contents), per spec §4.2.
func (s *Store) AppendPrivateKey(b64 string) error {
	f, err := os.OpenFile(s.path(meInfoFile), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("identitystore: append private key to me.info: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b64 + "\n"); err != nil {
		return fmt.Errorf("identitystore: append private key to me.info: %w", err)
	}

	if err := writeFileAtomic(s.path(privKeyFile), []byte(b64+"\n"), 0o600); err != nil {
		return fmt.Errorf("identitystore: write priv.key: %w", err)
	}
	return nil
}

// LoadPrivateKey reads priv.key (concatenating all lines) and base64
// decodes it, returning the raw PKCS#1 private key bytes (spec §4.2).
func (s *Store) LoadPrivateKey() ([]byte, error) {
	data, err := os.ReadFile(s.path(privKeyFile))
	if err != nil {
		return nil, fmt.Errorf("identitystore: read priv.key: %w", err)
	}
	joined := strings.Join(strings.Split(string(data), "\n"), "")
	joined = strings.TrimSpace(joined)
	raw, err := cryptoadapter.DecodeBase64(joined)
	if err != nil {
		return nil, fmt.Errorf("identitystore: decode priv.key: %w", err)
	}
	return raw, nil
}

var ipv4Pattern = regexp.MustCompile(
	`^(25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])(\.(25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])){3}$`,
)

// LoadTransfer reads the mandatory transfer.info. Its absence or any
// malformed content is fatal (wrapped in ErrConfig), per spec §4.2/§7.
func (s *Store) LoadTransfer() (Transfer, error) {
	data, err := os.ReadFile(s.path(transferInfoFile))
	if err != nil {
		return Transfer{}, fmt.Errorf("%w: read transfer.info: %v", ErrConfig, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 3 {
		return Transfer{}, fmt.Errorf("%w: expected 3 lines, got %d", ErrConfig, len(lines))
	}

	hostPort := strings.TrimRight(lines[0], "\r")
	host, portStr, err := splitHostPort(hostPort)
	if err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if !ipv4Pattern.MatchString(host) {
		return Transfer{}, fmt.Errorf("%w: host %q is not a dotted-quad IPv4 address", ErrConfig, host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Transfer{}, fmt.Errorf("%w: port %q must be an integer in [0, 65535]", ErrConfig, portStr)
	}

	return Transfer{
		Host:     host,
		Port:     port,
		Name:     strings.TrimRight(lines[1], "\r"),
		FilePath: strings.TrimRight(lines[2], "\r"),
	}, nil
}

func splitHostPort(s string) (host, port string, err error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing ':' in host:port %q", s)
	}
	return s[:idx], s[idx+1:], nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
