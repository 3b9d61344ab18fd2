// ABOUTME: Command line remote control for AirPlay senders
// ABOUTME: Lists receivers on the network and sends DACP commands to a sender
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/discovery"
)

var (
	host         = flag.String("host", "", "Sender address (skip DNS-SD resolution)")
	port         = flag.Int("port", 3689, "Sender DACP port, used with -host")
	dacpID       = flag.String("dacp-id", "", "Sender DACP-ID, resolved over DNS-SD")
	activeRemote = flag.String("active-remote", "", "Active-Remote token announced by the sender")
	timeout      = flag.Duration("timeout", 5*time.Second, "Discovery and request timeout")
	debug        = flag.Bool("debug", false, "Enable debug logging")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s [flags] list [raop|dacp]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [flags] send <command>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands: ")
	names := make([]string, 0, len(dacp.Commands))
	for _, c := range dacp.Commands {
		names = append(names, string(c))
	}
	fmt.Fprintf(os.Stderr, "%s\n\nFlags:\n", strings.Join(names, ", "))
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	log.SetFlags(0)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch args[0] {
	case "list":
		kind := "raop"
		if len(args) > 1 {
			kind = args[1]
		}
		err = list(ctx, kind)
	case "send":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = send(ctx, args[1])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func list(ctx context.Context, kind string) error {
	service := airstream.RAOPServiceType
	switch kind {
	case "raop":
	case "dacp":
		service = dacp.ServiceType
	default:
		return fmt.Errorf("unknown service kind %q (want raop or dacp)", kind)
	}

	found, err := discovery.Browse(ctx, service, *timeout)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if len(found) == 0 {
		fmt.Println("No services found")
		return nil
	}
	for _, s := range found {
		fmt.Printf("%-40s %s:%d\n", s.Instance, s.Host, s.Port)
		if *debug {
			for _, txt := range s.TXT {
				fmt.Printf("    %s\n", txt)
			}
		}
	}
	return nil
}

func send(ctx context.Context, name string) error {
	cmd, err := dacp.ParseCommand(name)
	if err != nil {
		return err
	}
	if *activeRemote == "" {
		return fmt.Errorf("-active-remote is required")
	}

	config := dacp.ClientConfig{ResolveTimeout: *timeout, MaxAttempts: 1, Debug: *debug}

	var client *dacp.Client
	switch {
	case *host != "":
		client = dacp.NewResolvedClient(dacp.Endpoint{
			Host:     *host,
			Port:     *port,
			Identity: dacp.Identity{ActiveRemote: *activeRemote},
		}, config)
	case *dacpID != "":
		identity := dacp.Identity{DACPID: *dacpID, ActiveRemote: *activeRemote}
		client = dacp.NewClient(identity, discovery.NewZeroconfResolver(), config)
		client.Start()

		select {
		case <-client.Ready():
		case <-ctx.Done():
			client.Close()
			return fmt.Errorf("could not resolve %s: %w", identity.Instance(), dacp.ErrRemoteUnavailable)
		}
	default:
		return fmt.Errorf("either -host or -dacp-id is required")
	}
	defer client.Close()

	if err := client.Send(ctx, cmd); err != nil {
		return err
	}
	fmt.Printf("Sent %s\n", cmd)
	return nil
}
