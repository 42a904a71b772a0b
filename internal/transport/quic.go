package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"bitchatmesh/internal/logging"
)

// zeroReader feeds an all-zero stream to x509.CreateCertificate so the
// dev certificate it produces is fully deterministic across runs.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert derives a stable, self-signed Ed25519 certificate from a
// fixed seed. It is a development convenience: the mesh has no PKI, so
// every node presents (and every node accepts) this same well-known
// certificate rather than performing real peer authentication at the
// transport layer — authentication instead happens at the session layer
// via the Noise-style handshake.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("bitchat-mesh-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"bitchat-mesh-quic"}}, nil
}

func clientTLSConfig() (*tls.Config, error) {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"bitchat-mesh-quic"}}, nil
}

// StreamTransport is a Transport backed by QUIC streams: each configured
// peer address is a permanent outbound link, and inbound connections are
// accepted from anyone presenting the dev cert. It is the mesh's
// substitute for a BLE GATT link when running node processes over IP,
// grounded on the teacher's dev-TLS QUIC networking code.
type StreamTransport struct {
	listenAddr string
	dial       []string

	cb Callbacks

	mu      sync.Mutex
	links   map[string]*quic.Conn
	started bool
}

// NewStreamTransport configures a transport that listens on listenAddr
// and dials every address in dial as a peer link.
func NewStreamTransport(listenAddr string, dial []string) *StreamTransport {
	return &StreamTransport{listenAddr: listenAddr, dial: dial, links: make(map[string]*quic.Conn)}
}

func (s *StreamTransport) Init(cb Callbacks) error {
	s.cb = cb
	return nil
}

func (s *StreamTransport) Start(ctx context.Context) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(s.listenAddr, tlsConf, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go s.acceptLoop(ctx, listener)
	for _, addr := range s.dial {
		go s.dialLoop(ctx, addr)
	}

	<-ctx.Done()
	_ = listener.Close()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return ctx.Err()
}

func (s *StreamTransport) acceptLoop(ctx context.Context, listener *quic.Listener) {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Debugf("transport: quic accept error: %v", err)
			return
		}
		s.registerLink(conn.RemoteAddr().String(), conn)
		go s.readLoop(ctx, conn.RemoteAddr().String(), conn)
	}
}

func (s *StreamTransport) dialLoop(ctx context.Context, addr string) {
	for {
		if ctx.Err() != nil {
			return
		}
		tlsConf, err := clientTLSConfig()
		if err != nil {
			return
		}
		conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
		if err != nil {
			logging.Debugf("transport: quic dial %s: %v", addr, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}
		s.registerLink(addr, conn)
		s.readLoop(ctx, addr, conn)
		s.unregisterLink(addr)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *StreamTransport) registerLink(id string, conn *quic.Conn) {
	s.mu.Lock()
	s.links[id] = conn
	s.mu.Unlock()
	if s.cb.OnPeerConnected != nil {
		s.cb.OnPeerConnected(id)
	}
}

func (s *StreamTransport) unregisterLink(id string) {
	s.mu.Lock()
	delete(s.links, id)
	s.mu.Unlock()
	if s.cb.OnPeerDisconnected != nil {
		s.cb.OnPeerDisconnected(id)
	}
}

func (s *StreamTransport) readLoop(ctx context.Context, id string, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func() {
			defer stream.Close()
			data, err := io.ReadAll(stream)
			if err != nil || len(data) == 0 {
				return
			}
			if s.cb.OnPacketReceived != nil {
				s.cb.OnPacketReceived(id, data)
			}
		}()
	}
}

func (s *StreamTransport) writeTo(conn *quic.Conn, data []byte) error {
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		return err
	}
	if _, err := stream.Write(data); err != nil {
		return err
	}
	return stream.Close()
}

func (s *StreamTransport) Send(data []byte) error {
	return s.SendExcept("", data)
}

func (s *StreamTransport) SendExcept(exceptLinkID string, data []byte) error {
	s.mu.Lock()
	targets := make(map[string]*quic.Conn, len(s.links))
	for id, conn := range s.links {
		if id == exceptLinkID {
			continue
		}
		targets[id] = conn
	}
	s.mu.Unlock()

	var firstErr error
	for id, conn := range targets {
		if err := s.writeTo(conn, data); err != nil {
			logging.Debugf("transport: send to %s failed: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *StreamTransport) SendTo(linkID string, data []byte) error {
	s.mu.Lock()
	conn, ok := s.links[linkID]
	s.mu.Unlock()
	if !ok {
		return errors.New("transport: no such link " + linkID)
	}
	return s.writeTo(conn, data)
}

func (s *StreamTransport) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *StreamTransport) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *StreamTransport) Stop() error {
	s.mu.Lock()
	for id, conn := range s.links {
		_ = conn.CloseWithError(0, "")
		delete(s.links, id)
	}
	s.started = false
	s.mu.Unlock()
	return nil
}
