// Package config loads the relay's environment-variable configuration, the
// way obfs4proxy reads its TOR_PT_* environment and a handful of flag.Bool
// switches rather than a configuration-file framework.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultToken         = "LzHAxq0KtWM"
	defaultServerListen  = "tcp://0.0.0.0:3171"
	defaultPortRangeLow  = 43170
	defaultPortRangeHigh = 63170
	defaultShadowMethod  = "chacha20-ietf-poly1305"
	defaultShadowPass    = "yb160101"
)

// allowedShadowMethods is the small set of AEADs the Shadowsocks ingress
// accepts.
var allowedShadowMethods = map[string]bool{
	"chacha20-ietf-poly1305": true,
	"aes-256-gcm":            true,
}

// Server holds the server process's configuration.
type Server struct {
	Token         string
	InDocker      bool
	ListenURL     string
	PortRangeLow  uint16
	PortRangeHigh uint16
}

// Client holds the client process's configuration.
type Client struct {
	Token           string
	ServerEndpoints []string
	ListenSocks5    string
	ListenShadow    string
	Socks5Username  string
	Socks5Password  string
	ShadowPassword  string
	ShadowMethod    string
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// LoadServer reads DETOUR_* server variables, returning a fatal error if the
// port range is malformed. The listen URL is not checked here.
func LoadServer() (*Server, error) {
	c := &Server{
		Token:     getenv("DETOUR_TOKEN", defaultToken),
		InDocker:  os.Getenv("DETOUR_IN_DOCKER") != "",
		ListenURL: getenv("DETOUR_SERVER_LISTEN", defaultServerListen),
	}

	lo, hi := defaultPortRangeLow, defaultPortRangeHigh
	if raw := os.Getenv("DETOUR_SERVER_PORT_RANGE"); raw != "" {
		parts := strings.SplitN(raw, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: DETOUR_SERVER_PORT_RANGE %q must be LOW-HIGH", raw)
		}
		var err error
		lo, err = strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("config: DETOUR_SERVER_PORT_RANGE low bound: %w", err)
		}
		hi, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("config: DETOUR_SERVER_PORT_RANGE high bound: %w", err)
		}
	}
	if lo <= 0 || hi <= 0 || lo > hi || hi > 65535 {
		return nil, fmt.Errorf("config: invalid server port range %d-%d", lo, hi)
	}
	c.PortRangeLow, c.PortRangeHigh = uint16(lo), uint16(hi)

	return c, nil
}

// LoadClient reads DETOUR_CLIENT_* variables. It is fatal to pair only one
// of socks5_username/socks5_password.
func LoadClient() (*Client, error) {
	c := &Client{
		Token:          getenv("DETOUR_TOKEN", defaultToken),
		ListenSocks5:   os.Getenv("DETOUR_CLIENT_LISTEN_SOCKS5"),
		ListenShadow:   os.Getenv("DETOUR_CLIENT_LISTEN_SHADOW"),
		Socks5Username: os.Getenv("DETOUR_CLIENT_SOCKS5_USERNAME"),
		Socks5Password: os.Getenv("DETOUR_CLIENT_SOCKS5_PASSWORD"),
		ShadowPassword: getenv("DETOUR_CLIENT_SHADOW_PASSWORD", defaultShadowPass),
		ShadowMethod:   getenv("DETOUR_CLIENT_SHADOW_METHOD", defaultShadowMethod),
	}

	connects := os.Getenv("DETOUR_CLIENT_CONNECTS")
	for _, ep := range strings.Split(connects, ",") {
		ep = strings.TrimSpace(ep)
		if ep != "" {
			c.ServerEndpoints = append(c.ServerEndpoints, ep)
		}
	}
	if len(c.ServerEndpoints) == 0 {
		return nil, fmt.Errorf("config: DETOUR_CLIENT_CONNECTS must name at least one server endpoint")
	}

	if (c.Socks5Username == "") != (c.Socks5Password == "") {
		return nil, fmt.Errorf("config: socks5 username and password must both be set or both empty")
	}
	if !allowedShadowMethods[c.ShadowMethod] {
		return nil, fmt.Errorf("config: unsupported shadow method %q", c.ShadowMethod)
	}
	if c.ListenSocks5 == "" && c.ListenShadow == "" {
		return nil, fmt.Errorf("config: at least one of DETOUR_CLIENT_LISTEN_SOCKS5/_SHADOW must be set")
	}

	return c, nil
}

// RequiresAuth reports whether the SOCKS5 negotiator must require the
// USERNAME_PASSWORD method.
func (c *Client) RequiresAuth() bool {
	return c.Socks5Username != "" && c.Socks5Password != ""
}
