// Package main is the entrypoint for the serveapi demo service.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/morezero/serveapi/internal/server"
)

const usage = `Usage: serveapi [command]
       serveapi serve     Start the demo service on the configured transport.
       serveapi routes    List the routes of the demo service.
       serveapi events    Print outcome events published to COMMS.

Commands:
  serve   (default) Start the service (tcp, udp or nats).
  routes  Print every registered route pattern with its input type.
  events  Subscribe to SERVEAPI_EVENTS_SUBJECT and print each outcome.

Environment: SERVEAPI_PROTOCOL (tcp|udp|nats), SERVEAPI_HOST, SERVEAPI_PORT,
SERVEAPI_CODEC (simple|id|hashed|header|json-header|json|cbor),
SERVEAPI_FIRE_AND_FORGET, SERVEAPI_ACK, SERVEAPI_REQUEST_TIMEOUT,
SERVEAPI_HTTP_ADDR, SERVEAPI_SHUTDOWN_TIMEOUT, SERVEAPI_SUBJECT,
SERVEAPI_EVENTS_SUBJECT, COMMS_URL, COMMS_CREDS, SERVICE_NAME, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "routes":
		if err := printRoutes(os.Stdout); err != nil {
			log.Fatalf("serveapi routes: %v", err)
		}
		return
	case "events":
		if err := runEvents(); err != nil {
			log.Fatalf("serveapi events: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(demoSetup()); err != nil {
		log.Fatalf("serveapi: %v", err)
	}
}
