package relay

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/detour-relay/detour/internal/codec"
	"github.com/detour-relay/detour/internal/config"
	"github.com/detour-relay/detour/internal/dlog"
	"github.com/detour-relay/detour/internal/shadowcipher"
	"github.com/detour-relay/detour/internal/shadowsocks"
	"github.com/detour-relay/detour/internal/socks5"
	"github.com/detour-relay/detour/internal/wire"
)

const (
	ingressReadChunk   = 32 * 1024
	controlDialTimeout = 10 * time.Second
	dataDialTimeout    = 10 * time.Second
)

// Client is the client-side session manager: it runs the configured
// ingress listeners, negotiates each connection, and wires it into a
// tunnel session.
type Client struct {
	cfg  *config.Client
	obfs *codec.Obfuscator

	registry    *Registry
	housekeeper *Housekeeper

	mu       sync.Mutex
	nextEP   int
	shadowCi *shadowcipher.Cipher
}

// NewClient builds a client session manager. obfs must be shared with the
// server-side codec only insofar as both sides agree on the token; the
// client never talks directly to another client.
func NewClient(cfg *config.Client, obfs *codec.Obfuscator) (*Client, error) {
	cipher, err := shadowcipher.NewCipher(cfg.ShadowMethod, cfg.ShadowPassword)
	if err != nil {
		return nil, fmt.Errorf("relay: building shadow cipher: %w", err)
	}

	registry := NewRegistry()
	c := &Client{
		cfg:      cfg,
		obfs:     obfs,
		registry: registry,
		shadowCi: cipher,
	}
	c.housekeeper = NewHousekeeper(registry, 10*time.Second, 60*time.Second)
	return c, nil
}

// Start launches the housekeeper and every configured ingress listener,
// blocking until the first listener fails to bind or one of the accept
// loops is asked to stop via stop.
func (c *Client) Start(stop <-chan struct{}) error {
	c.housekeeper.Start()
	defer c.housekeeper.Stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if c.cfg.ListenSocks5 != "" {
		ln, err := net.Listen("tcp", c.cfg.ListenSocks5)
		if err != nil {
			return fmt.Errorf("relay: binding socks5 listener: %w", err)
		}
		dlog.Infof("client: socks5 ingress listening on %s", ln.Addr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- c.acceptLoop(ln, stop, c.handleSocks5)
		}()
	}
	if c.cfg.ListenShadow != "" {
		ln, err := net.Listen("tcp", c.cfg.ListenShadow)
		if err != nil {
			return fmt.Errorf("relay: binding shadowsocks listener: %w", err)
		}
		dlog.Infof("client: shadowsocks ingress listening on %s", ln.Addr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- c.acceptLoop(ln, stop, c.handleShadowsocks)
		}()
	}

	<-stop
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) acceptLoop(ln net.Listener, stop <-chan struct{}, handle func(net.Conn)) error {
	go func() {
		<-stop
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return fmt.Errorf("relay: ingress accept: %w", err)
			}
		}
		go handle(conn)
	}
}

func (c *Client) handleSocks5(conn net.Conn) {
	closeConn := true
	defer func() {
		if closeConn {
			conn.Close()
		}
	}()

	n := &socks5.Negotiator{
		RequireAuth: c.cfg.RequiresAuth(),
		Username:    c.cfg.Socks5Username,
		Password:    c.cfg.Socks5Password,
	}
	err := n.Negotiate(conn, conn, func(target socks5.Target, buffered io.Reader) (*socks5.Bound, error) {
		resp, dataCh, err := c.openTunnel(target.Addr, target.Port)
		if err != nil {
			return nil, err
		}
		ip := net.ParseIP(resp.Addr)
		if ip == nil {
			ip = net.IPv4zero
		}
		closeConn = false
		c.spawnForwarders(resp.Connection, conn, buffered, dataCh)
		return &socks5.Bound{IP: ip, Port: resp.Port}, nil
	})
	if err != nil {
		dlog.Warnf("client: socks5 negotiation from %s failed: %v", dlog.Addr(conn.RemoteAddr()), err)
	}
}

func (c *Client) handleShadowsocks(conn net.Conn) {
	stream := shadowsocks.NewCipherStream(conn, c.shadowCi)
	closeStream := true
	defer func() {
		if closeStream {
			stream.Close()
		}
	}()

	err := shadowsocks.Negotiate(stream, func(target shadowsocks.Target) error {
		resp, dataCh, err := c.openTunnel(target.Addr, target.Port)
		if err != nil {
			return err
		}
		closeStream = false
		c.spawnForwarders(resp.Connection, stream, stream, dataCh)
		return nil
	})
	if err != nil {
		dlog.Warnf("client: shadowsocks negotiation from %s failed: %v", dlog.Addr(conn.RemoteAddr()), err)
	}
}

// openTunnel performs the CONNECT round-trip over a fresh control socket,
// opened and closed immediately to bound open file descriptors, and dials
// the data socket the server allocated.
func (c *Client) openTunnel(addr string, port uint16) (*codec.RelayResponse, *DataChannel, error) {
	endpoint := c.nextEndpoint()
	controlAddr, err := DialAddr(endpoint)
	if err != nil {
		return nil, nil, err
	}
	raw, err := net.DialTimeout("tcp", controlAddr, controlDialTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: dialing control endpoint %s: %w", endpoint, err)
	}
	ctrl := wire.NewConn(raw, c.cfg.Token)
	defer ctrl.Close()

	req := &codec.RelayRequest{Method: codec.MethodConnect, Addr: addr, Port: port}
	if err := SendRequest(ctrl, c.obfs, req); err != nil {
		return nil, nil, err
	}
	resp, err := RecvResponse(ctrl)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: reading CONNECT response: %w", err)
	}
	if !resp.OK {
		return nil, nil, fmt.Errorf("relay: server refused CONNECT: %s", resp.Msg)
	}

	dataAddr, err := DialAddr(resp.Connection)
	if err != nil {
		return nil, nil, err
	}
	dataRaw, err := net.DialTimeout("tcp", dataAddr, dataDialTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: dialing data endpoint %s: %w", resp.Connection, err)
	}
	dataConn := wire.NewConn(dataRaw, c.cfg.Token)
	return resp, NewDataChannel(dataConn, c.obfs), nil
}

func (c *Client) nextEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep := c.cfg.ServerEndpoints[c.nextEP%len(c.cfg.ServerEndpoints)]
	c.nextEP++
	return ep
}

// spawnForwarders registers the session and launches its uplink/downlink
// forwarder pair. ingress is used for downlink writes and for closing on
// teardown; it is an io.WriteCloser rather than net.Conn because the
// Shadowsocks path hands in its cipher-wrapping stream, not the raw socket.
// reader is the stream to read ingress bytes from for the uplink; it is
// separate from ingress because the SOCKS5 path hands back its own
// buffered reader, positioned past whatever the negotiator already
// consumed, so bytes the client pipelined right after its request aren't
// dropped.
func (c *Client) spawnForwarders(url string, ingress io.WriteCloser, reader io.Reader, dataCh *DataChannel) {
	session := NewSession(url, dataCh, func() { _ = ingress.Close() })
	c.registry.Insert(session)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := RunSplitForward(reader, ingressReadChunk, dataCh, session.Touch); err != nil {
			dlog.Warnf("client: uplink forwarder for %s: %v", url, err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := RunReassembleForward(dataCh, ingress, session.Touch); err != nil {
			dlog.Warnf("client: downlink forwarder for %s: %v", url, err)
		}
	}()

	go func() {
		wg.Wait()
		c.registry.CloseAndRemove(url)
	}()
}
