package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/marmos91/oncrpc/internal/echo"
	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/pkg/client"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
)

const usage = `Usage:
  rpcinfo -p [host]                 list the port mapper's registrations
  rpcinfo -t host prog vers         call NULL over TCP
  rpcinfo -u host prog vers         call NULL over UDP
  rpcinfo -b prog vers              broadcast NULL through every port mapper
  rpcinfo -e host text              call the echo program's DOUBLE procedure
`

func main() {
	dump := flag.Bool("p", false, "Dump the port mapper's registrations")
	tcp := flag.Bool("t", false, "Call NULL over TCP")
	udp := flag.Bool("u", false, "Call NULL over UDP")
	bcast := flag.Bool("b", false, "Broadcast NULL")
	echoCall := flag.Bool("e", false, "Call the echo program")
	bcastAddr := flag.String("broadcast-addr", "255.255.255.255", "Broadcast address used by -b")
	timeout := flag.Duration("timeout", 10*time.Second, "Overall call timeout")
	logLevel := flag.String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger.SetLevel(*logLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	args := flag.Args()
	var err error
	switch {
	case *dump:
		host := "localhost"
		if len(args) > 0 {
			host = args[0]
		}
		err = runDump(ctx, host)
	case *tcp || *udp:
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		err = runNull(ctx, *udp, args[0], args[1], args[2])
	case *bcast:
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = runBroadcast(ctx, *bcastAddr, *timeout, args[0], args[1])
	case *echoCall:
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = runEcho(ctx, args[0], args[1])
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("rpcinfo: %v", err)
	}
}

func runDump(ctx context.Context, host string) error {
	pm, err := client.NewTCPPortMapper(ctx, host)
	if err != nil {
		return err
	}
	defer pm.Close()

	mappings, err := pm.Dump(ctx)
	if err != nil {
		return fmt.Errorf("dump %s: %w", host, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "program\tvers\tproto\tport")
	for _, m := range mappings {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\n", m.Prog, m.Vers, xdr.ProtocolName(m.Prot), m.Port)
	}
	return w.Flush()
}

func runNull(ctx context.Context, overUDP bool, host, progArg, versArg string) error {
	prog, vers, err := parseProgVers(progArg, versArg)
	if err != nil {
		return err
	}

	var c *client.Client
	if overUDP {
		c, err = client.NewUDPClient(ctx, host, prog, vers)
	} else {
		c, err = client.NewTCPClient(ctx, host, prog, vers)
	}
	if err != nil {
		return fmt.Errorf("program %d version %d is not available: %w", prog, vers, err)
	}
	defer c.Close()

	if err := c.Null(ctx); err != nil {
		return fmt.Errorf("program %d version %d is not available: %w", prog, vers, err)
	}
	fmt.Printf("program %d version %d ready and waiting\n", prog, vers)
	return nil
}

func runBroadcast(ctx context.Context, addr string, window time.Duration, progArg, versArg string) error {
	prog, vers, err := parseProgVers(progArg, versArg)
	if err != nil {
		return err
	}

	b, err := client.ListenBroadcast(addr, xdr.Port, xdr.Program, xdr.Version)
	if err != nil {
		return err
	}
	defer b.Close()
	b.Timeout = window

	replies, err := client.BroadcastCallIt(ctx, b, &xdr.CallArgs{Prog: prog, Vers: vers},
		func(r client.BroadcastReply[*xdr.CallResult]) {
			fmt.Printf("%s\tport %d\n", r.Addr, r.Result.Port)
		})
	if err != nil {
		return err
	}
	if len(replies) == 0 {
		return fmt.Errorf("no answer for program %d version %d", prog, vers)
	}
	return nil
}

func runEcho(ctx context.Context, host, text string) error {
	c, err := client.NewTCPClient(ctx, host, echo.Program, echo.Version)
	if err != nil {
		return err
	}
	defer c.Close()

	out, err := echo.Double(ctx, c, text)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func parseProgVers(progArg, versArg string) (uint32, uint32, error) {
	prog, err := strconv.ParseUint(progArg, 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid program number %q", progArg)
	}
	vers, err := strconv.ParseUint(versArg, 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid version number %q", versArg)
	}
	return uint32(prog), uint32(vers), nil
}
