package relay

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/detour-relay/detour/csrand"
	"github.com/detour-relay/detour/internal/codec"
	"github.com/detour-relay/detour/internal/config"
	"github.com/detour-relay/detour/internal/dlog"
	"github.com/detour-relay/detour/internal/netutil"
	"github.com/detour-relay/detour/internal/wire"
)

const (
	upstreamDialTimeout = 10 * time.Second
	dataAcceptTimeout   = 30 * time.Second
	serverUplinkChunk   = 16 * 1024
)

// Server is the server-side session manager: it runs the control listener,
// dials upstream targets on CONNECT, allocates a dedicated data endpoint
// per session, and dispatches CLOSE requests.
type Server struct {
	cfg  *config.Server
	obfs *codec.Obfuscator

	registry    *Registry
	housekeeper *Housekeeper

	dockerHost string // set once at startup when cfg.InDocker
}

// NewServer builds a server session manager.
func NewServer(cfg *config.Server, obfs *codec.Obfuscator) *Server {
	registry := NewRegistry()
	return &Server{
		cfg:         cfg,
		obfs:        obfs,
		registry:    registry,
		housekeeper: NewHousekeeper(registry, 10*time.Second, 60*time.Second),
	}
}

// Start discovers the advertised host (if running in a container), binds
// the control listener, and accepts control connections until stop fires.
// A listen-socket bind failure is fatal; every other error is confined to
// the connection or session that triggered it.
func (s *Server) Start(stop <-chan struct{}) error {
	if s.cfg.InDocker {
		host, err := netutil.DiscoverDockerHost()
		if err != nil {
			return fmt.Errorf("relay: discovering container public IP: %w", err)
		}
		s.dockerHost = host
		dlog.Infof("server: advertising public IP %s (container mode)", host)
	}

	listenAddr, err := DialAddr(s.cfg.ListenURL)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("relay: binding control listener %s: %w", listenAddr, err)
	}
	dlog.Infof("server: control listener on %s", ln.Addr())

	s.housekeeper.Start()
	defer s.housekeeper.Stop()

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
				return fmt.Errorf("relay: control accept: %w", err)
			}
		}
		go s.handleControl(conn)
	}
}

func (s *Server) handleControl(conn net.Conn) {
	defer conn.Close()

	ctrl := wire.NewConn(conn, s.cfg.Token)
	req, err := RecvRequest(ctrl)
	if err != nil {
		dlog.Warnf("server: reading control request from %s: %v", dlog.Addr(conn.RemoteAddr()), err)
		return
	}

	resp := s.dispatch(req, conn)
	if err := SendResponse(ctrl, s.obfs, resp); err != nil {
		dlog.Warnf("server: writing control response to %s: %v", dlog.Addr(conn.RemoteAddr()), err)
	}
}

func (s *Server) dispatch(req *codec.RelayRequest, conn net.Conn) *codec.RelayResponse {
	switch req.Method {
	case codec.MethodConnect:
		return s.handleConnect(req, s.advertisedHost(conn))
	case codec.MethodClose:
		return s.handleClose(req)
	default:
		return &codec.RelayResponse{Method: req.Method, OK: false, Msg: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// advertisedHost recovers the host clients should use to reach the data
// endpoint: the container's discovered public IP when running in Docker,
// otherwise the control socket's own local address as observed for this
// particular accepted connection.
func (s *Server) advertisedHost(conn net.Conn) string {
	if s.cfg.InDocker {
		return s.dockerHost
	}
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return conn.LocalAddr().String()
	}
	return host
}

func (s *Server) handleConnect(req *codec.RelayRequest, advertHost string) *codec.RelayResponse {
	target := net.JoinHostPort(req.Addr, strconv.Itoa(int(req.Port)))
	upstream, err := net.DialTimeout("tcp", target, upstreamDialTimeout)
	if err != nil {
		dlog.Warnf("server: upstream dial to %s failed: %v", target, err)
		return &codec.RelayResponse{Method: codec.MethodConnect, OK: false, Msg: err.Error()}
	}

	dataLn, err := netutil.ListenDataEndpoint("0.0.0.0", s.cfg.PortRangeLow, s.cfg.PortRangeHigh, csrand.IntRange)
	if err != nil {
		upstream.Close()
		dlog.Warnf("server: data endpoint allocation failed: %v", err)
		return &codec.RelayResponse{Method: codec.MethodConnect, OK: false, Msg: fmt.Sprintf("no data endpoint available: %v", err)}
	}

	_, portStr, _ := net.SplitHostPort(dataLn.Addr().String())
	port, _ := strconv.Atoi(portStr)
	url := EndpointURL(advertHost, uint16(port))

	upHost, upPortStr, _ := net.SplitHostPort(upstream.LocalAddr().String())
	upPort, _ := strconv.Atoi(upPortStr)

	go s.acceptDataConn(dataLn, url, upstream)

	return &codec.RelayResponse{
		Method:     codec.MethodConnect,
		OK:         true,
		Connection: url,
		Addr:       upHost,
		Port:       uint16(upPort),
	}
}

func (s *Server) handleClose(req *codec.RelayRequest) *codec.RelayResponse {
	s.registry.CloseAndRemove(req.Connection)
	return &codec.RelayResponse{Method: codec.MethodClose, OK: true}
}

// acceptDataConn waits for the client to connect its data socket to the
// endpoint just advertised, then wires up the upstream<->client forwarder
// pair. If the client never connects within dataAcceptTimeout, the upstream
// connection is abandoned.
func (s *Server) acceptDataConn(ln net.Listener, url string, upstream net.Conn) {
	defer ln.Close()
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(dataAcceptTimeout))
	}

	conn, err := ln.Accept()
	if err != nil {
		dlog.Warnf("server: data endpoint %s: client never connected: %v", url, err)
		upstream.Close()
		return
	}

	dataConn := wire.NewConn(conn, s.cfg.Token)
	dataCh := NewDataChannel(dataConn, s.obfs)

	session := NewSession(url, dataCh, func() { upstream.Close() })
	s.registry.Insert(session)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := RunSplitForward(upstream, serverUplinkChunk, dataCh, session.Touch); err != nil {
			dlog.Warnf("server: upstream forwarder for %s: %v", url, err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := RunReassembleForward(dataCh, upstream, session.Touch); err != nil {
			dlog.Warnf("server: downstream forwarder for %s: %v", url, err)
		}
	}()

	go func() {
		wg.Wait()
		s.registry.CloseAndRemove(url)
	}()
}
