package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/celerix-dev/celerix-presence/internal/store"
	"github.com/celerix-dev/celerix-presence/internal/vault"
	"github.com/celerix-dev/celerix-presence/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]

	// MIGRATE works on stores directly and needs no daemon.
	if command == "MIGRATE" {
		if err := runMigrate(args); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")
		return
	}

	addr := sdk.Addr()
	client, err := sdk.Connect(addr)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	defer client.Close()

	switch command {
	case "PING":
		if err := client.Ping(); err != nil {
			log.Fatal(err)
		}
		fmt.Println("PONG")

	case "STATE":
		st, err := client.State()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(st)

	case "PERIOD":
		if len(args) < 1 {
			log.Fatal("Usage: celerix PERIOD <1-6>")
		}
		period, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatalf("Invalid period %q", args[0])
		}
		st, err := client.SelectPeriod(period)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(st)

	case "SCAN":
		period := 0
		if len(args) > 0 {
			if period, err = strconv.Atoi(args[0]); err != nil {
				log.Fatalf("Invalid period %q", args[0])
			}
		}
		res, err := client.Scan(period)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(res)

	case "EVENTS":
		person := ""
		if len(args) > 0 {
			person = args[0]
		}
		events, err := client.Events(person)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(events)

	case "EVAL":
		results, err := client.Evaluate()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(results)

	case "SUMMARY":
		sum, err := client.Summary()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(sum)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

// runMigrate copies the roster and the ledger from one store to another.
func runMigrate(arguments []string) error {
	flagSet := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var from, fromDir, fromDSN, to, toDir, toDSN, keyHex string
	flagSet.StringVar(&from, "from", "file", "source driver: file or postgres")
	flagSet.StringVar(&fromDir, "from-dir", "./data", "source data directory (file driver)")
	flagSet.StringVar(&fromDSN, "from-dsn", "", "source database DSN (postgres driver)")
	flagSet.StringVar(&to, "to", "postgres", "destination driver: file or postgres")
	flagSet.StringVar(&toDir, "to-dir", "", "destination data directory (file driver)")
	flagSet.StringVar(&toDSN, "to-dsn", "", "destination database DSN (postgres driver)")
	flagSet.StringVar(&keyHex, "vault-key", os.Getenv("CELERIX_VAULT_KEY"), "hex key for sealed file stores")

	if err := flagSet.Parse(arguments); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	key, err := vault.ParseKey(keyHex)
	if err != nil {
		return err
	}

	src, err := store.Open(store.Options{Driver: from, DataDir: fromDir, DSN: fromDSN, VaultKey: key})
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()
	dst, err := store.Open(store.Options{Driver: to, DataDir: toDir, DSN: toDSN, VaultKey: key})
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dst.Close()

	return store.Migrate(src, dst)
}

func printUsage() {
	fmt.Println("Celerix CLI - Interface for celerix-presence")
	fmt.Println("\nUsage:")
	fmt.Println("  celerix PING")
	fmt.Println("  celerix STATE")
	fmt.Println("  celerix PERIOD <1-6>")
	fmt.Println("  celerix SCAN [period]")
	fmt.Println("  celerix EVENTS [personID]")
	fmt.Println("  celerix EVAL")
	fmt.Println("  celerix SUMMARY")
	fmt.Println("  celerix MIGRATE [-from file|postgres] [-from-dir DIR] [-from-dsn DSN] [-to file|postgres] [-to-dir DIR] [-to-dsn DSN]")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  CELERIX_ADDR          Address of the daemon (default: localhost:7001)")
	fmt.Println("  CELERIX_DISABLE_TLS   Set to true to disable TLS")
	fmt.Println("  CELERIX_VAULT_KEY     Hex key for sealed file stores (MIGRATE)")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
