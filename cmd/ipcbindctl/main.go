// Command ipcbindctl is a small interactive console over a self-hosted
// binding instance: offer/stop-offer a demo service, connect to required
// instances, call methods and subscribe to events, all resolved through an
// in-process discovery.Loopback since no external multicast implementation
// is available outside a full deployment. termutil decides whether stdin
// is a terminal (print prompts, echo results) or a script (read commands
// to EOF without prompting).
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/andrew-d/go-termutil"

	"github.com/ara-ipc/binding/internal/binding"
	"github.com/ara-ipc/binding/internal/config"
	"github.com/ara-ipc/binding/internal/diag"
	"github.com/ara-ipc/binding/internal/discovery"
	"github.com/ara-ipc/binding/internal/proxy"
	"github.com/ara-ipc/binding/internal/reactor"
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/skeleton"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

var help = `
  Usage: ipcbindctl [--base-dir <dir>] [--diag <host:port>]

  An interactive console for a single binding instance. Commands:

    offer <provided> <domain> <port> <integrity>
    stop-offer <provided>
    connect <required> <integrity>
    call <provided> <method-id> <client-id> <hex-payload>
    subscribe <provided> <event-id> <client-id>
    status
    help
    quit

  <provided>/<required> use the form IpcBinding:<service>:<instance>:<major>:<minor>
  (required may use * for instance). <integrity> is one of
  untrusted|low|medium|high|system.

  Without a terminal on stdin, commands are read as a script until EOF
  instead of prompting.
`

func main() {
	baseDir := ""
	diagAddr := ""
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--base-dir":
			i++
			if i < len(args) {
				baseDir = args[i]
			}
		case "--diag":
			i++
			if i < len(args) {
				diagAddr = args[i]
			}
		case "--help", "-h":
			fmt.Print(help)
			return
		}
	}

	lg, err := logger.New(logger.WithWriter(os.Stderr), logger.WithLogLevel(logger.LogLevelInfo), logger.WithPrefix("ipcbindctl"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %s\n", err)
		os.Exit(1)
	}

	disc := discovery.NewLoopback()
	rx := reactor.NewGoReactor(64)
	b := binding.New(lg, binding.Config{BaseDir: baseDir}, disc, rx)
	// Deinitialize requires a stopped reactor; defers run LIFO.
	defer b.Deinitialize()
	defer rx.Stop()

	c := newConsole(b)

	if diagAddr != "" {
		d := diag.New(lg, diagAddr, diag.Sources{Proxy: b.ProxyManager(), RemoteServers: b.RemoteServerManager()})
		if err := d.DoOnceActivate(nil, false); err != nil {
			fmt.Fprintf(os.Stderr, "diag server: %s\n", err)
		} else {
			defer d.StartShutdown(nil)
			fmt.Fprintf(os.Stderr, "diag server listening on %s\n", diagAddr)
		}
	}

	interactive := termutil.Isatty(os.Stdin.Fd())
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("ipcbindctl> ")
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if out, err := c.run(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		} else if out != "" {
			fmt.Println(out)
		}
	}
}

// console holds the demo backend state a REPL session accumulates: offered
// services, keyed so stop-offer can find them again.
type console struct {
	b *binding.Binding

	backends map[wire.ProvidedServiceInstanceID]*skeleton.Backend
}

func newConsole(b *binding.Binding) *console {
	return &console{
		b:        b,
		backends: make(map[wire.ProvidedServiceInstanceID]*skeleton.Backend),
	}
}

func (c *console) run(line string) (string, error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		return help, nil
	case "offer":
		return "", c.offer(args)
	case "stop-offer":
		return "", c.stopOffer(args)
	case "connect":
		return "", c.connect(args)
	case "call":
		return c.call(args)
	case "subscribe":
		return "", c.subscribe(args)
	case "status":
		return "status reporting is served over --diag; no HTTP client is built into this console", nil
	default:
		return "", fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
}

func (c *console) offer(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: offer <provided> <domain> <port> <integrity>")
	}
	provided, err := wire.ParseProvidedServiceInstanceID(args[0])
	if err != nil {
		return err
	}
	domain, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("domain: %w", err)
	}
	port, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}
	integrity, err := config.ParseIntegrityLevel(args[3])
	if err != nil {
		return err
	}

	backend := skeleton.NewBackend(provided)
	backend.RegisterMethod(1, func(payload []byte) []byte {
		// Demo echo method: any call to method 1 echoes its payload back.
		return payload
	})
	addr := wire.IpcUnicastAddress{Domain: uint32(domain), Port: uint32(port)}
	if _, err := c.b.OfferService(addr, provided, integrity, backend); err != nil {
		return err
	}
	c.backends[provided] = backend
	return nil
}

func (c *console) stopOffer(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: stop-offer <provided>")
	}
	provided, err := wire.ParseProvidedServiceInstanceID(args[0])
	if err != nil {
		return err
	}
	delete(c.backends, provided)
	return c.b.WithdrawService(provided)
}

type consoleStateHandler struct{ console *console }

var _ proxy.StateChangeHandler = (*consoleStateHandler)(nil)

func (h *consoleStateHandler) OnConnected(provided wire.ProvidedServiceInstanceID) {
	fmt.Printf("[connected] %s\n", provided)
}

func (h *consoleStateHandler) OnDisconnected(provided wire.ProvidedServiceInstanceID, reason error) {
	fmt.Printf("[disconnected] %s: %v\n", provided, reason)
}

func (c *console) connect(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: connect <required> <integrity>")
	}
	required, err := parseRequired(args[0])
	if err != nil {
		return err
	}
	integrity, err := config.ParseIntegrityLevel(args[1])
	if err != nil {
		return err
	}
	_, err = c.b.RequestRequiredService(required, integrity, &consoleStateHandler{console: c})
	return err
}

type consolePrintHandler struct{}

func (consolePrintHandler) HandleResponse(msg *wire.Message)         { printMessage("response", msg) }
func (consolePrintHandler) HandleErrorResponse(msg *wire.Message)    { printMessage("error-response", msg) }
func (consolePrintHandler) HandleApplicationError(msg *wire.Message) { printMessage("application-error", msg) }
func (consolePrintHandler) HandleNotification(msg *wire.Message)     { printMessage("notification", msg) }
func (consolePrintHandler) HandleSubscribeAck(msg *wire.Message)     { printMessage("subscribe-ack", msg) }
func (consolePrintHandler) HandleSubscribeNAck(msg *wire.Message)    { printMessage("subscribe-nack", msg) }

func printMessage(label string, msg *wire.Message) {
	fmt.Printf("[%s] %x\n", label, msg.Payload)
}

var _ router.ProxyHandler = consolePrintHandler{}

func (c *console) call(args []string) (string, error) {
	if len(args) != 4 {
		return "", fmt.Errorf("usage: call <provided> <method-id> <client-id> <hex-payload>")
	}
	provided, err := wire.ParseProvidedServiceInstanceID(args[0])
	if err != nil {
		return "", err
	}
	rs, ok := c.b.RemoteServerManager().Lookup(provided)
	if !ok {
		return "", fmt.Errorf("no resolved remote server for %s; run connect first", provided)
	}
	method, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return "", fmt.Errorf("method-id: %w", err)
	}
	clientID, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return "", fmt.Errorf("client-id: %w", err)
	}
	payload, err := parseHexPayload(args[3])
	if err != nil {
		return "", err
	}

	c.b.RouterMapper().Register(provided, wire.ClientID(clientID), consolePrintHandler{})
	ok2 := rs.Conn.SendRequest(wire.RRRHeader{
		Service: provided.Service, Instance: provided.Instance, Major: provided.Major,
		Method: wire.MethodID(method), Client: wire.ClientID(clientID), Session: 1,
	}, payload)
	if !ok2 {
		return "", fmt.Errorf("connection to %s is not usable", provided)
	}
	return "request sent; watch for an asynchronous [response]/[error-response] line", nil
}

func (c *console) subscribe(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: subscribe <provided> <event-id> <client-id>")
	}
	provided, err := wire.ParseProvidedServiceInstanceID(args[0])
	if err != nil {
		return err
	}
	rs, ok := c.b.RemoteServerManager().Lookup(provided)
	if !ok {
		return fmt.Errorf("no resolved remote server for %s; run connect first", provided)
	}
	eventID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("event-id: %w", err)
	}
	clientID, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("client-id: %w", err)
	}
	if !rs.Conn.SubscribeEvent(provided, wire.EventID(eventID), wire.ClientID(clientID), consolePrintHandler{}) {
		return fmt.Errorf("connection to %s is not usable", provided)
	}
	return nil
}

func parseRequired(s string) (wire.RequiredServiceInstanceID, error) {
	const prefix = "IpcBinding:"
	if !strings.HasPrefix(s, prefix) {
		return wire.RequiredServiceInstanceID{}, fmt.Errorf("required instance id %q: missing %q prefix", s, prefix)
	}
	parts := strings.Split(s[len(prefix):], ":")
	if len(parts) != 4 {
		return wire.RequiredServiceInstanceID{}, fmt.Errorf("required instance id %q: expected 4 fields", s)
	}
	service, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return wire.RequiredServiceInstanceID{}, fmt.Errorf("service: %w", err)
	}
	instance := wire.InstanceIDWildcard
	if parts[1] != "*" {
		n, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return wire.RequiredServiceInstanceID{}, fmt.Errorf("instance: %w", err)
		}
		instance = wire.InstanceID(n)
	}
	major, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return wire.RequiredServiceInstanceID{}, fmt.Errorf("major: %w", err)
	}
	minor, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return wire.RequiredServiceInstanceID{}, fmt.Errorf("minor: %w", err)
	}
	return wire.RequiredServiceInstanceID{
		Service:  wire.ServiceID(service),
		Instance: instance,
		Major:    wire.MajorVersion(major),
		Minor:    wire.MinorVersion(minor),
	}, nil
}

func parseHexPayload(s string) ([]byte, error) {
	if s == "-" {
		return nil, nil
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hex payload: %w", err)
	}
	return out, nil
}
