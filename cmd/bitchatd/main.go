package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"bitchatmesh/internal/logging"
	"bitchatmesh/internal/mesh"
	"bitchatmesh/internal/router"
	"bitchatmesh/internal/state"
	"bitchatmesh/internal/transport"
	"bitchatmesh/internal/wire"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runNode(args[1:], stdout, stderr)
	case "identity":
		return runIdentity(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "peers":
		return runPeers(args[1:], stdout, stderr)
	case "send":
		return runSend(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: bitchatd <run|identity|status|peers|send> [args]")
	fmt.Fprintln(w, "  run      --listen <ip:port> [--peer <ip:port>]... [--nick <name>] [--debug]")
	fmt.Fprintln(w, "  identity show")
	fmt.Fprintln(w, "  status")
	fmt.Fprintln(w, "  peers")
	fmt.Fprintln(w, "  send --listen <ip:port> --peer <ip:port> [--channel <#chan>] <message>")
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".bitchatmesh")
}

type stringSlice []string

func (s *stringSlice) String() string     { return strings.Join(*s, ",") }
func (s *stringSlice) Set(v string) error { *s = append(*s, v); return nil }

func runNode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "", "QUIC listen addr (host:port)")
	nick := fs.String("nick", "", "display nickname")
	debug := fs.Bool("debug", false, "enable debug logging")
	var peers stringSlice
	fs.Var(&peers, "peer", "peer address to dial (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *listen == "" {
		fmt.Fprintln(stderr, "missing --listen")
		return 1
	}
	if *debug {
		_ = os.Setenv("BITCHAT_DEBUG", "1")
	}

	tr := transport.NewStreamTransport(*listen, peers)
	e, err := mesh.New(mesh.Options{
		IdentityDir: homeDir(),
		Nickname:    *nick,
		Transport:   tr,
		Callbacks: router.Callbacks{
			OnMessage: func(msg wire.ChatMessage, senderID [wire.PeerIDSize]byte, channel string) {
				fmt.Fprintf(stdout, "[%s] %s: %s\n", channel, msg.SenderNickname, msg.Content)
			},
			OnPeerAnnounce: func(rec state.PeerRecord) {
				logging.Debugf("peer announced: %s (%s)", rec.Nickname, wire.PeerIDHex(rec.PeerID))
			},
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "start: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "bitchatd: peer id %s, listening on %s\n", e.Identity().PeerIDHex(), *listen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := e.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	return 0
}

// runStatus prints the counters a running daemon last wrote to
// metrics.json, following the teacher's status subcommand of reading a
// persisted on-disk snapshot rather than talking to a live process.
func runStatus(args []string, stdout, _ io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	snap := readMetricsSnapshot(filepath.Join(homeDir(), mesh.MetricsFileName))
	fmt.Fprintln(stdout, "bitchatd status (last snapshot, not live):")
	fmt.Fprintf(stdout, "  generated at:      %s\n", snap.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(stdout, "  packets sent:      %d\n", snap.PacketsSent)
	fmt.Fprintf(stdout, "  packets relayed:   %d\n", snap.PacketsRelayed)
	fmt.Fprintf(stdout, "  packets deduped:   %d\n", snap.PacketsDedup)
	fmt.Fprintf(stdout, "  packets dropped:   %d\n", snap.PacketsDropped)
	fmt.Fprintf(stdout, "  handshakes ok:     %d\n", snap.HandshakesOK)
	fmt.Fprintf(stdout, "  handshakes failed: %d\n", snap.HandshakesFailed)
	fmt.Fprintf(stdout, "  peers evicted:     %d\n", snap.PeersEvicted)
	return 0
}

func readMetricsSnapshot(path string) mesh.Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		return mesh.Snapshot{}
	}
	var snap mesh.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return mesh.Snapshot{}
	}
	return snap
}

// runPeers prints the peer table a running daemon last wrote to
// peers.json.
func runPeers(args []string, stdout, _ io.Writer) int {
	fs := flag.NewFlagSet("peers", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	data, err := os.ReadFile(filepath.Join(homeDir(), mesh.PeersFileName))
	if err != nil {
		fmt.Fprintln(stdout, "peers: no snapshot yet (is bitchatd running?)")
		return 0
	}
	var peers []mesh.PeerSnapshot
	if err := json.Unmarshal(data, &peers); err != nil {
		fmt.Fprintf(stdout, "peers: bad snapshot: %v\n", err)
		return 1
	}
	if len(peers) == 0 {
		fmt.Fprintln(stdout, "peers: none known")
		return 0
	}
	for _, p := range peers {
		fmt.Fprintf(stdout, "%s nick=%s channel=%q link=%s rssi=%d\n", p.PeerID, p.Nickname, p.Channel, p.LinkID, p.RSSI)
	}
	return 0
}

// runSend starts a short-lived node, dials one peer, sends a single
// channel message once connected, and exits.
func runSend(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "127.0.0.1:0", "ephemeral QUIC listen addr")
	peer := fs.String("peer", "", "peer address to dial")
	channel := fs.String("channel", "", "channel to send to (empty for public)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *peer == "" {
		fmt.Fprintln(stderr, "missing --peer")
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "missing message text")
		return 1
	}
	content := strings.Join(rest, " ")

	tr := transport.NewStreamTransport(*listen, []string{*peer})
	e, err := mesh.New(mesh.Options{IdentityDir: homeDir(), Transport: tr})
	if err != nil {
		fmt.Fprintf(stderr, "send: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go e.Run(ctx)

	for ctx.Err() == nil && tr.ConnectedCount() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if tr.ConnectedCount() == 0 {
		fmt.Fprintln(stderr, "send: timed out waiting to connect to peer")
		return 1
	}
	if err := e.SendChannelMessage(*channel, content); err != nil {
		fmt.Fprintf(stderr, "send: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "sent")
	return 0
}

func runIdentity(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "show" {
		fmt.Fprintln(stderr, "usage: bitchatd identity show")
		return 1
	}
	tr := transport.NewMemoryTransport(transport.NewHub(), "local")
	e, err := mesh.New(mesh.Options{IdentityDir: homeDir(), Transport: tr})
	if err != nil {
		fmt.Fprintf(stderr, "identity: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "peer id: %s\n", e.Identity().PeerIDHex())
	return 0
}
