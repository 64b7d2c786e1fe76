// Command kvs-client issues one request against a kvs-server and prints
// the reply per the wire protocol's stdout conventions.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/epokhe/kvs/internal/client"
)

// version is the package version the V subcommand prints; it intentionally
// has no build-time injection machinery, matching the distilled spec's
// "prints the package version" requirement with nothing more.
const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  kvs-client get [--addr <host:port>] <key>\n")
	fmt.Fprintf(os.Stderr, "  kvs-client set [--addr <host:port>] <key> <value>\n")
	fmt.Fprintf(os.Stderr, "  kvs-client rm [--addr <host:port>] <key>\n")
	fmt.Fprintf(os.Stderr, "  kvs-client V\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	if command == "V" {
		fmt.Printf("kvs version %s\n", version)
		return
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:4000", "server address")
	if err := fs.Parse(os.Args[2:]); err != nil {
		usage()
	}
	args := fs.Args()

	c, err := client.Connect(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer c.Close()

	switch command {
	case "get":
		if len(args) != 1 {
			usage()
		}
		resp, err := c.Get(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp)

	case "set":
		if len(args) != 2 {
			usage()
		}
		resp, err := c.Set(args[0], args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "set failed: %v\n", err)
			os.Exit(1)
		}
		if resp != "" {
			fmt.Println(resp)
		}

	case "rm":
		if len(args) != 1 {
			usage()
		}
		resp, err := c.Remove(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "rm failed: %v\n", err)
			os.Exit(1)
		}
		if resp != "" {
			fmt.Println(resp)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		usage()
	}
}
