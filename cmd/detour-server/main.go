// Command detour-server accepts tunnelled CONNECT requests and proxies
// bytes to the requested upstream TCP target.
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

	cfg, err := config.LoadServer()
	if err != nil {
		dlog.Errorf("server: %v", err)
		os.Exit(1)
	}

	obfs, err := codec.NewObfuscator(cfg.Token)
	if err != nil {
		dlog.Errorf("server: %v", err)
		os.Exit(1)
	}

	server := relay.NewServer(cfg, obfs)

	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		dlog.Infof("server: received termination signal, shutting down")
		close(stop)
	}()

	dlog.Infof("server: launched")
	if err := server.Start(stop); err != nil {
		dlog.Errorf("server: %v", err)
		os.Exit(1)
	}
	dlog.Infof("server: terminated")
}
