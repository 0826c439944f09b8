// Package session implements the top-level client state machine (spec
// §4.8): LOAD_CONFIG -> CONNECT -> (RECONNECT or REGISTER) -> SEND_PUB_KEY
// -> RECV_AES -> SEND_FILE_LOOP -> DONE. It composes the identity store,
// crypto adapter, checksum engine, file chunker, transport and operation
// runner the way the teacher's agent/service types compose their own
// collaborators by constructor injection.
package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/coinstash/fileup/internal/checksum"
	"github.com/coinstash/fileup/internal/chunker"
	"github.com/coinstash/fileup/internal/cryptoadapter"
	"github.com/coinstash/fileup/internal/identitystore"
	"github.com/coinstash/fileup/internal/logging"
	"github.com/coinstash/fileup/internal/nettransport"
	"github.com/coinstash/fileup/internal/runner"
	"github.com/coinstash/fileup/internal/wire"
)

// progressLogEvery is how often (in chunks) an INFO-level progress line is
// emitted during SEND_FILE_LOOP, supplementing the original client's
// stdout "sent N/M packets" status (spec.md §9 / SPEC_FULL §3.1).
const progressLogEvery = 25

// ErrAborted marks a session that ended via CRC_TERMINATE after exhausting
// every file-transfer attempt. Per spec §4.8/§6 this is not a fatal error:
// the process still exits 0, but callers that care can detect it.
var ErrAborted = errors.New("session: file transfer aborted after exhausting attempts")

// MetricsRecorder is the optional counters surface the session reports to
// (spec §3 domain stack). A nil MetricsRecorder means metrics are disabled.
type MetricsRecorder interface {
	IncAttempt(operation string)
	AddBytesSent(n int)
	IncCRCMismatch()
	IncRegistration()
	IncReconnect()
}

// dialer opens the session's single connection. The default dials real
// TCP via nettransport.Connect; tests substitute one backed by a net.Pipe
// half (spec §2.4).
type dialer func(host string, port int, opts nettransport.DialOptions) (conn, error)

func defaultDialer(host string, port int, opts nettransport.DialOptions) (conn, error) {
	return nettransport.Connect(host, port, opts)
}

// Engine is the session state machine. Construct with New and run once
// with Run; an Engine is not reusable across Run calls.
type Engine struct {
	store    *identitystore.Store
	logger   *slog.Logger
	dialOpts nettransport.DialOptions
	dial     dialer
	metrics  MetricsRecorder
	rateBPS  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithDialOptions overrides the default TCP dial timeout.
func WithDialOptions(opts nettransport.DialOptions) Option {
	return func(e *Engine) { e.dialOpts = opts }
}

// withDialer substitutes the connection factory; unexported because only
// this package's tests need to bypass the real TCP dialer.
func withDialer(d dialer) Option {
	return func(e *Engine) { e.dial = d }
}

// WithMetrics attaches an optional counters recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRateLimit caps chunk emission to bytesPerSec (0 disables limiting).
func WithRateLimit(bytesPerSec int) Option {
	return func(e *Engine) { e.rateBPS = bytesPerSec }
}

// New builds an Engine backed by store, logging through logger (a nil
// logger is replaced with one that discards output).
func New(store *identitystore.Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	e := &Engine{
		store:    store,
		logger:   logging.Component(logger, "session"),
		dialOpts: nettransport.DefaultDialOptions(),
		dial:     defaultDialer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) metricsOrNoop() MetricsRecorder {
	if e.metrics != nil {
		return e.metrics
	}
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) IncAttempt(string) {}
func (noopMetrics) AddBytesSent(int)  {}
func (noopMetrics) IncCRCMismatch()   {}
func (noopMetrics) IncRegistration()  {}
func (noopMetrics) IncReconnect()     {}

// conn is the subset of *nettransport.Conn the session needs; an interface
// so tests can substitute a net.Pipe-backed fake (spec §2.4).
type conn interface {
	Send([]byte) error
	RecvExact(n int) ([]byte, error)
	Close() error
}

// Run executes one full session: load config, connect, bootstrap identity,
// negotiate the AES key, and upload the configured file. A nil return
// means a clean exit (including the legitimate reconnect-rejected
// downgrade). A CRC mismatch on every attempt returns ErrAborted, which is
// not fatal; any other non-nil return is fatal.
func (e *Engine) Run(ctx context.Context) error {
	transfer, err := e.store.LoadTransfer()
	if err != nil {
		return err
	}

	identity, registered, err := e.store.LoadIdentity()
	if err != nil {
		e.logger.Warn("me.info present but malformed, proceeding as unregistered",
			logging.KeyError, err)
		registered = false
	}

	c, err := e.dial(transfer.Host, transfer.Port, e.dialOpts)
	if err != nil {
		return err
	}
	defer c.Close()

	e.logger.Info("connected", "host", transfer.Host, "port", transfer.Port)

	displayName := transfer.Name
	if registered {
		displayName = identity.Name
	}

	var clientID [wire.SizeClientID]byte
	var priv *rsa.PrivateKey
	var aesKey []byte

	if registered {
		clientID = identity.ClientID

		rawPriv, err := e.store.LoadPrivateKey()
		if err != nil {
			return fmt.Errorf("session: load private key for reconnect: %w", err)
		}
		priv, err = cryptoadapter.ParsePrivateKey(rawPriv)
		if err != nil {
			return fmt.Errorf("session: parse private key for reconnect: %w", err)
		}

		result, err := e.reconnect(ctx, c, clientID, displayName)
		if err != nil {
			return err
		}
		if result.accepted {
			wrapped := result.wrappedAESKey
			aesKey, err = cryptoadapter.DecryptAESKey(priv, wrapped)
			if err != nil {
				return fmt.Errorf("session: decrypt reconnect AES key: %w", err)
			}
			e.metricsOrNoop().IncReconnect()
		} else {
			e.logger.Info("reconnect rejected by server, re-registering", logging.KeyClientID, hexShort(clientID))
			registered = false
		}
	}

	if !registered {
		var err error
		clientID, err = e.register(ctx, c, displayName)
		if err != nil {
			return err
		}
		if err := e.store.PersistIdentity(displayName, clientID); err != nil {
			return fmt.Errorf("session: persist identity: %w", err)
		}
		e.metricsOrNoop().IncRegistration()

		keyPair, err := cryptoadapter.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("session: generate RSA key pair: %w", err)
		}
		priv, err = cryptoadapter.ParsePrivateKey(keyPair.PrivatePKCS1)
		if err != nil {
			return fmt.Errorf("session: parse generated private key: %w", err)
		}
		if err := e.store.AppendPrivateKey(cryptoadapter.EncodeBase64(keyPair.PrivatePKCS1)); err != nil {
			return fmt.Errorf("session: persist private key: %w", err)
		}

		wrappedAESKey, err := e.sendPublicKey(ctx, c, clientID, displayName, keyPair.PublicKeyWire)
		if err != nil {
			return err
		}
		aesKey, err = cryptoadapter.DecryptAESKey(priv, wrappedAESKey)
		if err != nil {
			return fmt.Errorf("session: decrypt AES key: %w", err)
		}
	}

	return e.sendFileLoop(ctx, c, clientID, transfer.FilePath, aesKey)
}

func hexShort(id [wire.SizeClientID]byte) string {
	return fmt.Sprintf("%x", id[:4])
}

type reconnectResult struct {
	accepted      bool
	wrappedAESKey []byte
}

// reconnect drives the RECONNECT state: send 827, on 1605 capture the
// wrapped AES key, on 1606 report a (non-error) rejection, on anything
// else retry up to runner.NumberOfAttempts before surfacing ServerRejected.
func (e *Engine) reconnect(ctx context.Context, c conn, clientID [wire.SizeClientID]byte, name string) (reconnectResult, error) {
	req := wire.NewReconnect(clientID, name)
	e.metricsOrNoop().IncAttempt("reconnect")

	return runner.Do(ctx, e.logger, c, req.Bytes(), func(h wire.ResponseHeader, readPayload func(int) ([]byte, error)) (reconnectResult, bool, error) {
		switch h.Code {
		case wire.CodeReconnectSuccess:
			payload, err := readPayload(int(h.PayloadSize))
			if err != nil {
				return reconnectResult{}, false, err
			}
			aesPayload, err := wire.DecodeAESKeyPayload(payload)
			if err != nil {
				return reconnectResult{}, false, err
			}
			return reconnectResult{accepted: true, wrappedAESKey: aesPayload.WrappedAESKey}, true, nil
		case wire.CodeReconnectRejected:
			if _, err := readPayload(int(h.PayloadSize)); err != nil {
				return reconnectResult{}, false, err
			}
			return reconnectResult{accepted: false}, true, nil
		default:
			return reconnectResult{}, false, nil
		}
	})
}

// register drives the REGISTER state: send 825 with a zero client ID, on
// 1600 capture and return the server-assigned client ID.
func (e *Engine) register(ctx context.Context, c conn, name string) ([wire.SizeClientID]byte, error) {
	req, truncated := wire.NewRegister(name)
	if truncated {
		e.logger.Warn("display name truncated to fit the wire field", "name", name)
	}
	e.metricsOrNoop().IncAttempt("register")

	return runner.Do(ctx, e.logger, c, req.Bytes(), func(h wire.ResponseHeader, readPayload func(int) ([]byte, error)) ([wire.SizeClientID]byte, bool, error) {
		if h.Code != wire.CodeRegisterSuccess {
			return [wire.SizeClientID]byte{}, false, nil
		}
		payload, err := readPayload(int(h.PayloadSize))
		if err != nil {
			return [wire.SizeClientID]byte{}, false, err
		}
		id, err := wire.DecodeClientIDPayload(payload)
		if err != nil {
			return [wire.SizeClientID]byte{}, false, err
		}
		return id, true, nil
	})
}

// sendPublicKey drives the SEND_PUB_KEY state: send 826 with the freshly
// generated public key, on 1602 capture the RSA-wrapped AES key.
func (e *Engine) sendPublicKey(ctx context.Context, c conn, clientID [wire.SizeClientID]byte, name string, publicKey []byte) ([]byte, error) {
	req, err := wire.NewSendPublicKey(clientID, name, publicKey)
	if err != nil {
		return nil, fmt.Errorf("session: build SEND_PUBLIC_KEY request: %w", err)
	}
	e.metricsOrNoop().IncAttempt("send_public_key")

	return runner.Do(ctx, e.logger, c, req.Bytes(), func(h wire.ResponseHeader, readPayload func(int) ([]byte, error)) ([]byte, bool, error) {
		if h.Code != wire.CodeAESKey {
			return nil, false, nil
		}
		payload, err := readPayload(int(h.PayloadSize))
		if err != nil {
			return nil, false, err
		}
		aesPayload, err := wire.DecodeAESKeyPayload(payload)
		if err != nil {
			return nil, false, err
		}
		return aesPayload.WrappedAESKey, true, nil
	})
}

// sendFileLoop drives SEND_FILE_LOOP (spec §4.8): stream every chunk of
// the encrypted file as a 828/SEND_FILE request, read the server's CRC,
// and compare it against the concurrently-computed local checksum,
// retrying the full transfer up to runner.NumberOfAttempts times.
func (e *Engine) sendFileLoop(ctx context.Context, c conn, clientID [wire.SizeClientID]byte, path string, aesKey []byte) error {
	localCRC := checksum.Calculate(ctx, path)

	var opts []chunker.Option
	if e.rateBPS > 0 {
		opts = append(opts, chunker.WithRateLimit(e.rateBPS))
	}
	ck, err := chunker.New(path, aesKey, opts...)
	if err != nil {
		return fmt.Errorf("session: prepare file chunker: %w", err)
	}

	e.logger.Info("starting file transfer",
		"file", ck.FileName(),
		"size", humanize.Bytes(uint64(ck.CiphertextSize())),
		"chunks", ck.TotalChunks())

	for attempt := 1; attempt <= runner.NumberOfAttempts; attempt++ {
		ck.Reset()
		e.metricsOrNoop().IncAttempt("send_file")

		serverCRC, fileName, err := e.streamFileAndReadResult(ctx, c, clientID, ck)
		if err != nil {
			return err
		}

		want := localCRC.Wait()
		if serverCRC == want {
			e.logger.Info("checksum matched, confirming transfer", "crc", want)
			if err := e.confirm(ctx, c, clientID, fileName, wire.NewCRCOK); err != nil {
				return err
			}
			return nil
		}

		e.metricsOrNoop().IncCRCMismatch()
		e.logger.Warn("checksum mismatch",
			"attempt", attempt, "server_crc", serverCRC, "local_crc", want)

		if attempt < runner.NumberOfAttempts {
			req := wire.NewCRCBad(clientID, fileName)
			if err := c.Send(req.Bytes()); err != nil {
				return err
			}
			continue
		}

		e.logger.Warn("exhausted file-transfer attempts, terminating")
		if err := e.confirm(ctx, c, clientID, fileName, wire.NewCRCTerminate); err != nil {
			return err
		}
		return ErrAborted
	}

	return fmt.Errorf("%w: send_file_loop fell through without a decision", runner.ErrServerRejected)
}

// streamFileAndReadResult sends every chunk as a SEND_FILE request and
// reads exactly one SEND_FILE_SUCCESS response afterward (spec §4.8 step
// 1-2): all bytes of request N complete before any byte of request N+1, so
// a single trailing header read suffices.
func (e *Engine) streamFileAndReadResult(ctx context.Context, c conn, clientID [wire.SizeClientID]byte, ck *chunker.Chunker) (serverCRC uint32, fileName string, err error) {
	total := ck.TotalChunks()
	var bytesSent int
	for packetNo := 1; packetNo <= total; packetNo++ {
		chunk, err := ck.NextChunk(ctx)
		if err != nil {
			return 0, "", fmt.Errorf("session: chunk %d/%d: %w", packetNo, total, err)
		}

		req := wire.NewSendFile(wire.SendFileParams{
			ClientID:     clientID,
			EncSize:      uint32(ck.CiphertextSize()),
			OrigSize:     uint32(ck.OriginalSize()),
			PacketNo:     uint16(packetNo),
			TotalPackets: uint16(total),
			FileName:     ck.FileName(),
			Chunk:        chunk,
		})
		if err := c.Send(req.Bytes()); err != nil {
			return 0, "", err
		}

		bytesSent += len(chunk)
		e.metricsOrNoop().AddBytesSent(len(chunk))
		logging.Progress(e.logger, packetNo, total, uint64(len(chunk))).Debug("sent chunk")
		if packetNo%progressLogEvery == 0 || packetNo == total {
			logging.Progress(e.logger, packetNo, total, uint64(bytesSent)).Info("upload progress",
				"sent", humanize.Bytes(uint64(bytesSent)))
		}
	}

	headerBytes, err := c.RecvExact(wire.ResponseHeaderSize)
	if err != nil {
		return 0, "", err
	}
	header, err := wire.DecodeResponseHeader(headerBytes)
	if err != nil {
		return 0, "", err
	}
	if header.Code != wire.CodeSendFileSuccess {
		return 0, "", fmt.Errorf("%w: %s", runner.ErrServerRejected, wire.Describe(header.Code))
	}
	payload, err := c.RecvExact(int(header.PayloadSize))
	if err != nil {
		return 0, "", err
	}
	result, err := wire.DecodeSendFileSuccessPayload(payload)
	if err != nil {
		return 0, "", err
	}
	return result.CRC, result.FileName, nil
}

// confirm sends the terminal CRC_OK/CRC_TERMINATE request and awaits the
// MESSAGE_CONFIRM response, using the retry runner since the spec treats
// this as an ordinary ack-or-fail exchange.
func (e *Engine) confirm(ctx context.Context, c conn, clientID [wire.SizeClientID]byte, fileName string, build func([wire.SizeClientID]byte, string) wire.Request) error {
	req := build(clientID, fileName)
	_, err := runner.Do(ctx, e.logger, c, req.Bytes(), func(h wire.ResponseHeader, readPayload func(int) ([]byte, error)) (struct{}, bool, error) {
		if h.Code != wire.CodeMessageConfirm {
			return struct{}{}, false, nil
		}
		if _, err := readPayload(int(h.PayloadSize)); err != nil {
			return struct{}{}, false, err
		}
		return struct{}{}, true, nil
	})
	return err
}
