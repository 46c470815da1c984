// Command detour-client runs the SOCKS5/Shadowsocks ingress, tunneling
// each accepted connection to one of the configured detour-server
// endpoints.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/detour-relay/detour/internal/codec"
	"github.com/detour-relay/detour/internal/config"
	"github.com/detour-relay/detour/internal/dlog"
	"github.com/detour-relay/detour/internal/relay"
)

func main() {
	unsafeLogging := flag.Bool("unsafeLogging", false, "Disable the address scrubber")
	debug := flag.Bool("debug", false, "Enable debug-level logging")
	flag.Parse()

	dlog.SetUnsafeLogging(*unsafeLogging)
	dlog.SetDebug(*debug)

	cfg, err := config.LoadClient()
	if err != nil {
		dlog.Errorf("client: %v", err)
		os.Exit(1)
	}

	obfs, err := codec.NewObfuscator(cfg.Token)
	if err != nil {
		dlog.Errorf("client: %v", err)
		os.Exit(1)
	}

	client, err := relay.NewClient(cfg, obfs)
	if err != nil {
		dlog.Errorf("client: %v", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		dlog.Infof("client: received termination signal, shutting down")
		close(stop)
	}()

	dlog.Infof("client: launched")
	if err := client.Start(stop); err != nil {
		dlog.Errorf("client: %v", err)
		os.Exit(1)
	}
	dlog.Infof("client: terminated")
}
