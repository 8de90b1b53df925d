package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/user/ventana-link/config"
	"github.com/user/ventana-link/hub"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/netprobe"
	"github.com/user/ventana-link/notify"
	"github.com/user/ventana-link/protocol"
	"github.com/user/ventana-link/session"
	"github.com/user/ventana-link/store"
	"github.com/user/ventana-link/syncstore"
	"github.com/user/ventana-link/transport"
	"github.com/user/ventana-link/transport/bluez"
	"github.com/user/ventana-link/transport/goble"
	"github.com/user/ventana-link/transport/sim"
	"github.com/user/ventana-link/util"
)

// simAddress is used when the simulated transport runs without an address
const simAddress = "AA:BB:CC:DD:EE:FF"

// stack is everything run builds around the session
type stack struct {
	cfg        *config.Config
	db         *store.DB
	dial       transport.Factory
	gate       session.CapabilityGate
	peripheral *sim.Peripheral
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	for flag, dst := range map[string]*string{
		"transport": &cfg.Transport,
		"addr":      &cfg.Address,
		"adapter":   &cfg.Adapter,
		"hub":       &cfg.HubAddr,
		"remote":    &cfg.RemoteURL,
	} {
		if v := c.String(flag); v != "" {
			*dst = v
		}
	}
	if cfg.Address == "" && cfg.Transport == config.TransportSim {
		cfg.Address = simAddress
	}
	if cfg.Address == "" {
		return errors.New("no peripheral address; use --addr or VENTANA_ADDRESS")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	st := &stack{cfg: cfg}
	if err := st.buildTransport(); err != nil {
		return err
	}

	if err := util.EnsureDir(util.DataDir()); err != nil {
		return err
	}
	st.db, err = store.OpenMigrated(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	mirror := syncstore.NewSQLite(st.db)
	opts := session.Options{
		Dial:      st.dial,
		Codec:     protocol.NewCodec(cfg.SecretByte()),
		Reconnect: cfg.Reconnect(),
		Sync:      mirror,
		Gate:      st.gate,
	}
	if cfg.RemoteURL != "" {
		probe := netprobe.New(cfg.ProbeHost)
		probe.Interface = cfg.ProbeInterface
		rep := syncstore.NewReplicator(mirror, syncstore.NewHTTPRemote(cfg.RemoteURL), probe, cfg.ProbeInterval())
		go rep.Run(ctx)
		opts.Sync = rep
		opts.Network = rep
	}
	if !c.Bool("no-lifecycle") {
		dir := util.DeviceDir(cfg.Address)
		if err := util.EnsureDir(dir); err != nil {
			return err
		}
		opts.Lifecycle = session.NewLifecycleLog(dir)
	}

	var h *hub.Hub
	opts.Notifier = notify.Multi{notify.Log{}, notify.Func(func(title, body string) {
		if h != nil {
			h.Notify(title, body)
		}
	})}
	sess := session.New(opts)
	if cfg.HubAddr != "" {
		h = hub.New(sess)
	}

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Close()

	updates, unsub := sess.Updates()
	defer unsub()
	go printUpdates(updates)

	if h != nil {
		hubUpdates, hubUnsub := sess.Updates()
		defer hubUnsub()
		go h.Run(ctx, hubUpdates)
		srv := serveHub(cfg.HubAddr, h)
		defer func() {
			h.Close()
			shutdown, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			srv.Shutdown(shutdown)
		}()
	}

	service, control, telem := cfg.UUIDs()
	id := session.DeviceIdentity{
		Address:         cfg.Address,
		ServiceID:       service,
		ControlCharID:   control,
		TelemetryCharID: telem,
	}
	if err := sess.Connect(id); err != nil {
		return err
	}
	logger.Info("main", "🪟 %s via %s; type help for commands", cfg.Address, cfg.Transport)

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := st.exec(sess, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// buildTransport picks the transport factory and the capability gate
func (st *stack) buildTransport() error {
	cfg := st.cfg
	switch cfg.Transport {
	case config.TransportSim:
		service, control, telem := cfg.UUIDs()
		radio := sim.NewRadio(sim.DefaultSimulationConfig())
		st.peripheral = sim.NewPeripheral(cfg.Address, sim.Profile{Service: service, Control: control, Telemetry: telem}, cfg.SecretByte())
		radio.Add(st.peripheral)
		st.dial = radio.Factory()
		st.gate = session.AllowAll{}
	case config.TransportBlueZ:
		st.dial = bluez.Factory(cfg.Adapter)
		st.gate = session.RequireAdapter(adapterPresent)
	case config.TransportGoBLE:
		if err := setupDevice(); err != nil {
			return err
		}
		st.dial = goble.Factory()
		st.gate = session.RequireAdapter(adapterPresent)
	default:
		return errors.Errorf("unknown transport %q", cfg.Transport)
	}
	return nil
}

// adapterPresent reports whether the kernel knows any bluetooth controller
func adapterPresent() bool {
	entries, err := os.ReadDir("/sys/class/bluetooth")
	return err == nil && len(entries) > 0
}

const help = `commands:
  open | close        send a window command
  connect             reconnect after teardown or exhaustion
  teardown            disconnect and stop retrying
  state               print the connection state
  history             print state transitions
  rain                (sim) the peripheral senses rain and closes
  drop                (sim) the peripheral drops the link
  quit`

// exec runs one console command
func (st *stack) exec(sess *session.Session, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Println(help)
	case "connect":
		return false, sess.Reconnect()
	case "teardown":
		return false, sess.Teardown()
	case "state":
		attempt, _ := sess.Attempt()
		fmt.Printf("%s (retry attempt %d)\n", sess.CurrentState(), attempt)
	case "history":
		history, err := sess.History()
		if err != nil {
			return false, err
		}
		for _, t := range history {
			fmt.Println(t)
		}
	case "rain", "drop":
		if st.peripheral == nil {
			return false, errors.Errorf("%s needs the sim transport", line)
		}
		if line == "rain" {
			st.peripheral.SenseRain()
		} else {
			st.peripheral.DropLinks(errors.New("dropped from console"))
		}
	default:
		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			return false, err
		}
		return false, sess.RequestCommand(cmd)
	}
	return false, nil
}

func printUpdates(updates <-chan session.Update) {
	for u := range updates {
		fmt.Println(u)
	}
}

func readLines(f *os.File) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func serveHub(addr string, h *hub.Hub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("hub", "🌐 listening on %s/ws", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("hub", "❌ %v", err)
		}
	}()
	return srv
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			logger.Info("main", "received %s, shutting down", s)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sig)
	}()
	return ctx, cancel
}
