package relay

import (
	"fmt"
	"net"
	"strings"
)

// EndpointURL builds the "tcp://host:port" session/endpoint URL form used
// throughout the control and data protocols.
func EndpointURL(host string, port uint16) string {
	return fmt.Sprintf("tcp://%s", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
}

// DialAddr strips the "tcp://" scheme so the result can be passed to
// net.Dial directly.
func DialAddr(endpointURL string) (string, error) {
	hostport := strings.TrimPrefix(endpointURL, "tcp://")
	if hostport == endpointURL {
		return "", fmt.Errorf("relay: endpoint %q is missing the tcp:// scheme", endpointURL)
	}
	return hostport, nil
}
