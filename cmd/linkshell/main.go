// SPDX-License-Identifier: GPL-3.0-or-later

// Command linkshell runs a command behind an emulated network link.
//
// The command's UDP traffic is relayed across a link shaped by two
// bandwidth traces, one per direction, each with its own queue
// discipline. Datagrams sent to the listen address traverse the
// uplink and come out toward the forward address; replies traverse
// the downlink. linkshell exits with the exit code of the command.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"sync"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/bassosimone/linkem"
	"github.com/bassosimone/runtimex"
)

var (
	// args contains the command line arguments (overridable in tests).
	args = os.Args

	// exitfunc terminates the process (overridable in tests).
	exitfunc = os.Exit
)

// direction groups the per-direction command line flags.
type direction struct {
	trace     *string
	queue     *string
	queueArgs *string
}

// newDirection registers the flags of one direction.
func newDirection(fset *flag.FlagSet, name string) *direction {
	return &direction{
		trace:     fset.String(name, "", "Trace file for the "+name+" direction."),
		queue:     fset.String(name+"-queue", "droptail", "Queue discipline: droptail or codel."),
		queueArgs: fset.String(name+"-queue-args", "", "Queue arguments, e.g. target=20,interval=500,packets=2000."),
	}
}

// configure builds the [linkem.DirectionConfig] from the flags.
func (d *direction) configure(name string, once bool) (linkem.DirectionConfig, error) {
	if *d.trace == "" {
		return linkem.DirectionConfig{}, errors.New("missing required -" + name + " trace file")
	}
	var options []linkem.ScheduleOption
	if once {
		options = append(options, linkem.ScheduleOptionOnce())
	}
	sched, err := linkem.LoadSchedule(*d.trace, options...)
	if err != nil {
		return linkem.DirectionConfig{}, err
	}
	qdisc, err := linkem.ParseQdisc(*d.queue, *d.queueArgs)
	if err != nil {
		return linkem.DirectionConfig{}, err
	}
	return linkem.DirectionConfig{Schedule: sched, Qdisc: qdisc}, nil
}

// runCommand runs the downstream command and returns its exit code.
func runCommand(ctx context.Context, cmdline []string) int {
	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		log.WithError(err).Error("linkshell: cannot run command")
		return 1
	}
	return 0
}

// logSummary logs the end-of-run statistics of one direction.
func logSummary(name string, stats *linkem.DirectionStats) {
	summary := stats.Summary()
	log.Infof("%s: forwarded %d packets (%d bytes), %d codel drops, %d tail drops, %d ingress drops",
		name, summary.ForwardedPackets, summary.ForwardedBytes,
		summary.AQMDrops, summary.TailDrops, summary.IngressDrops)
	if summary.ForwardedPackets > 0 {
		log.Infof("%s: sojourn mean=%s median=%s p95=%s",
			name, summary.SojournMean, summary.SojournMedian, summary.SojournP95)
	}
}

func realMain() int {
	// 1. create command line parser
	fset := flag.NewFlagSet("linkshell", flag.ExitOnError)

	// 2. add flags to parse
	var (
		uplink      = newDirection(fset, "uplink")
		downlink    = newDirection(fset, "downlink")
		listenAddr  = fset.String("listen", "127.0.0.1:5001", "UDP address where to accept application datagrams.")
		forwardAddr = fset.String("forward", "127.0.0.1:5002", "UDP address where to forward shaped datagrams.")
		once        = fset.Bool("once", false, "Replay each trace a single time instead of cyclically.")
		pcapFile    = fset.String("pcap-file", "", "Write PCAP of shaped frames at the given file.")
		pcapSnaplen = fset.Int("pcap-snaplen", linkem.MTUEthernet, "PCAP snapshot length in bytes.")
		verbose     = fset.Bool("verbose", false, "Log per-packet drop decisions.")
	)

	// 3. parse command line
	runtimex.PanicOnError0(fset.Parse(args[1:]))
	log.SetHandler(cli.New(os.Stderr))
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	// 4. configure both directions (configuration errors are fatal
	// before any data flows)
	upConfig, err := uplink.configure("uplink", *once)
	if err != nil {
		log.WithError(err).Error("linkshell: invalid uplink configuration")
		return 2
	}
	downConfig, err := downlink.configure("downlink", *once)
	if err != nil {
		log.WithError(err).Error("linkshell: invalid downlink configuration")
		return 2
	}

	// 5. create the link options
	options := []linkem.LinkOption{linkem.LinkOptionLogger(log.Log)}
	var trace *linkem.PCAPTrace
	if *pcapFile != "" {
		filep := runtimex.PanicOnError1(os.Create(*pcapFile))
		trace = linkem.NewPCAPTrace(filep, uint16(*pcapSnaplen))
		options = append(options, linkem.LinkOptionPCAP(trace))
	}

	// 6. create the link and the relay sockets
	link := linkem.NewLink(upConfig, downConfig, options...)
	ingress := runtimex.PanicOnError1(net.ListenPacket("udp", *listenAddr))
	egress := runtimex.PanicOnError1(net.ListenPacket("udp", "127.0.0.1:0"))
	forward := runtimex.PanicOnError1(net.ResolveUDPAddr("udp", *forwardAddr))
	relay := linkem.NewRelay(link, ingress, egress, forward)

	// 7. run the relay in the background
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	wg := &sync.WaitGroup{}
	wg.Go(func() {
		relay.Run(ctx)
	})

	// 8. run the downstream command in the foreground and adopt its
	// exit code; without a command, relay until interrupted
	code := 0
	if fset.NArg() > 0 {
		code = runCommand(ctx, fset.Args())
	} else {
		<-ctx.Done()
	}

	// 9. stop the relay and wait for it to join
	cancel()
	wg.Wait()

	// 10. emit statistics and finish the capture
	logSummary("uplink", link.UplinkStats())
	logSummary("downlink", link.DownlinkStats())
	if trace != nil {
		runtimex.PanicOnError0(trace.Close())
	}
	return code
}

func main() {
	exitfunc(realMain())
}
