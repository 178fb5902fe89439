package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dougsko/k5link/pkg/client"
	"github.com/dougsko/k5link/pkg/protocol"
)

var (
	serverURL = flag.String("server", "http://localhost:8080", "k5d base URL")
	command   = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'READ:before-trip')")
	wait      = flag.Bool("wait", true, "Wait for READ and WRITE transfers to finish")
)

func main() {
	flag.Parse()

	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	cmd, err := protocol.ParseCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	api := client.NewAPIClient(*serverURL)

	result, err := api.Execute(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *wait && (cmd.Type == protocol.CmdRead || cmd.Type == protocol.CmdWrite) {
		result, err = api.WaitTransfer(context.Background(), 250*time.Millisecond, func(p protocol.TransferProgress) {
			fmt.Fprintf(os.Stderr, "\r%s %5.1f%%", p.State, p.Percent)
		})
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", out)

	if p, ok := result.(*protocol.TransferProgress); ok && p.State == protocol.TransferFailed {
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println("k5ctl - k5d control tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -server <url>     k5d base URL (default: http://localhost:8080)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println("  -wait=false       Return as soon as a transfer starts")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                    Get daemon status")
	fmt.Println("  PROFILES                  List firmware profiles")
	fmt.Println("  PROFILE                   Show the active profile")
	fmt.Println("  PROFILE:<id>              Select a profile (stock, extended)")
	fmt.Println("  TELEMETRY                 Read battery voltage and current")
	fmt.Println("  READ[:<name>]             Read all channels into a new snapshot")
	fmt.Println("  WRITE:<snapshot-id>       Write a snapshot back to the radio")
	fmt.Println("  TRANSFER                  Show transfer progress")
	fmt.Println("  SNAPSHOTS[:<limit>]       List stored snapshots")
	fmt.Println("  SNAPSHOT:<id>             Show a snapshot with its channels")
	fmt.Println("  DELETE:<id>               Delete a snapshot")
	fmt.Println("  SCREENCAST:start|stop     Start or stop the display mirror")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s READ:before-trip\n", os.Args[0])
	fmt.Printf("  %s -server http://radio-pi:8080 WRITE:3\n", os.Args[0])
}
