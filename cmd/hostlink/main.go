// Command hostlink finds the peripheral by its USB serial number and keeps it
// supplied with host telemetry over the serial link.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/hostlink/internal/config"
	"github.com/banshee-data/hostlink/internal/db"
	"github.com/banshee-data/hostlink/internal/serialport"
	"github.com/banshee-data/hostlink/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (optional)")
	serialNum   = flag.String("serial", "", "USB serial number of the peripheral (overrides config)")
	portPath    = flag.String("port", "", "Serial device path; skips discovery (overrides config)")
	baudRate    = flag.Int("baud", 0, "Baud rate (overrides config, default 115200)")
	dbPath      = flag.String("db", "", "SQLite file for link history (optional)")
	listen      = flag.String("listen", "", "Address for the debug HTTP server, e.g. localhost:8080 (optional)")
	listPorts   = flag.Bool("list", false, "List candidate serial ports and exit")
	reconnect   = flag.Bool("reconnect", false, "Locate and reopen the device after the link fails instead of exiting")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *listPorts {
		if err := printPorts(os.Stdout, serialport.NewLocator()); err != nil {
			log.Fatalf("failed to list ports: %v", err)
		}
		return
	}

	cfg := &config.BridgeConfig{}
	if *configPath != "" {
		loaded, err := config.LoadBridgeConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	applyFlags(cfg, flagOverrides{
		serial: *serialNum,
		port:   *portPath,
		baud:   *baudRate,
		db:     *dbPath,
		listen: *listen,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if flag.NArg() > 0 {
		if err := runSubcommand(os.Stdout, flag.Args(), cfg); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *reconnect, defaultDeps()); err != nil {
		log.Fatalf("hostlink: %v", err)
	}
	log.Printf("graceful shutdown complete")
}

// flagOverrides holds command-line values that replace config file entries.
// Zero values mean "not given".
type flagOverrides struct {
	serial string
	port   string
	baud   int
	db     string
	listen string
}

func applyFlags(cfg *config.BridgeConfig, f flagOverrides) {
	if f.serial != "" {
		cfg.SerialNumber = &f.serial
	}
	if f.port != "" {
		cfg.PortPath = &f.port
	}
	if f.baud != 0 {
		cfg.BaudRate = &f.baud
	}
	if f.db != "" {
		cfg.DBPath = &f.db
	}
	if f.listen != "" {
		cfg.Listen = &f.listen
	}
}

// runSubcommand dispatches the positional arguments. Only 'migrate' is
// known.
func runSubcommand(w io.Writer, args []string, cfg *config.BridgeConfig) error {
	switch args[0] {
	case "migrate":
		path := cfg.GetDBPath()
		if path == "" {
			return fmt.Errorf("migrate needs a database: pass -db or set db_path")
		}
		return db.RunMigrateCommand(w, args[1:], path)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printPorts(w io.Writer, locator *serialport.Locator) error {
	ports, err := locator.List()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, serialport.Describe(p))
	}
	return nil
}
