// SPDX-License-Identifier: GPL-3.0-or-later

// Command benchmark measures TCP throughput across an emulated path.
//
// The server stack writes bytes as fast as possible and the client
// stack reads them, while the link shapes both directions according to
// the given traces. The printed receive speed should converge to the
// capacity profile the uplink trace encodes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/bassosimone/linkem"
	"github.com/bassosimone/runtimex"
)

var (
	// args contains the command line arguments (overridable in tests).
	args = os.Args

	// output is the writer for benchmark output (overridable in tests).
	output io.Writer = os.Stdout
)

// serverMain accepts once and writes bytes until the conn is closed.
func serverMain(listener net.Listener, total *atomic.Uint64) {
	// 1. accept a single client conn
	conn := runtimex.PanicOnError1(listener.Accept())
	defer conn.Close()

	// 2. loop writing data to the client
	data := make([]byte, 65535)
	for {
		count, err := conn.Write(data)
		if err != nil {
			log.Infof("server: Write failed: %s", err.Error())
			return
		}
		total.Add(uint64(count))
	}
}

// clientMain connects and reads bytes until the conn is closed.
func clientMain(ctx context.Context, connector *linkem.Connector, remote string, total *atomic.Uint64) {
	// 1. connect to the server address
	conn := runtimex.PanicOnError1(connector.DialContext(ctx, "tcp", remote))
	defer conn.Close()

	// 2. read until possible
	data := make([]byte, 65535)
	for {
		count, err := conn.Read(data)
		if err != nil {
			log.Infof("client: Read failed: %s", err.Error())
			return
		}
		total.Add(uint64(count))
	}
}

// printerMain prints receive speed stats every 250 millisecond.
func printerMain(ctx context.Context, total *atomic.Uint64) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	t0 := time.Now()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(output, "\n")
			return
		case t := <-ticker.C:
			elapsed := t.Sub(t0).Seconds()
			nbytes := total.Load()
			speed := (8 * float64(nbytes) / elapsed) / (1000 * 1000)
			fmt.Fprintf(output, "\r\t%10.3f Mbit/s", speed)
		}
	}
}

// loadOrSynthesizeSchedule loads the given trace file or, with the
// empty string, synthesizes a constant-rate trace with one MTU-sized
// opportunity per millisecond (12 Mbit/s).
func loadOrSynthesizeSchedule(path string) *linkem.Schedule {
	if path != "" {
		return runtimex.PanicOnError1(linkem.LoadSchedule(path))
	}
	offsets := make([]time.Duration, 1000)
	for idx := range offsets {
		offsets[idx] = time.Duration(idx+1) * time.Millisecond
	}
	return runtimex.PanicOnError1(linkem.NewSchedule(offsets))
}

func main() {
	// 1. create command line parser
	fset := flag.NewFlagSet("benchmark", flag.ExitOnError)

	// 2. add flags to parse
	var (
		downlinkTrace = fset.String("downlink", "", "Trace file for the downlink direction.")
		duration      = fset.Duration("duration", 10*time.Second, "Benchmark duration.")
		pcapFile      = fset.String("pcap-file", "", "Write PCAP at the given file.")
		pcapSnaplen   = fset.Int("pcap-snaplen", linkem.MTUEthernet, "PCAP snapshot length in bytes.")
		queue         = fset.String("queue", "droptail", "Queue discipline: droptail or codel.")
		queueArgs     = fset.String("queue-args", "", "Queue arguments, e.g. target=20,interval=500,packets=2000.")
		serverPort    = fset.String("server-port", "443", "Select server port.")
		uplinkTrace   = fset.String("uplink", "", "Trace file for the uplink direction.")
	)

	// 3. parse command line
	runtimex.PanicOnError0(fset.Parse(args[1:]))
	log.SetHandler(cli.New(os.Stderr))

	// 4. create context with a timeout
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	// 5. configure both directions with the same queue discipline
	qdisc := runtimex.PanicOnError1(linkem.ParseQdisc(*queue, *queueArgs))
	upConfig := linkem.DirectionConfig{
		Schedule: loadOrSynthesizeSchedule(*uplinkTrace),
		Qdisc:    qdisc,
	}
	downConfig := linkem.DirectionConfig{
		Schedule: loadOrSynthesizeSchedule(*downlinkTrace),
		Qdisc:    qdisc,
	}

	// 6. create the link options
	options := []linkem.LinkOption{}
	var trace *linkem.PCAPTrace
	if *pcapFile != "" {
		filep := runtimex.PanicOnError1(os.Create(*pcapFile))
		trace = linkem.NewPCAPTrace(filep, uint16(*pcapSnaplen))
		options = append(options, linkem.LinkOptionPCAP(trace))
	}

	// 7. create the emulated path; the server lives on the left stack
	// so that its bytes traverse the uplink direction
	path := runtimex.PanicOnError1(linkem.NewPath(linkem.PathConfig{
		Uplink:   upConfig,
		Downlink: downConfig,
		Options:  options,
	}))
	defer path.Close()

	// 8. create the server listener
	serverEpnt := net.JoinHostPort(linkem.DefaultLeftAddr.String(), *serverPort)
	lc := linkem.NewListenConfig(path.Left)
	listener := runtimex.PanicOnError1(lc.Listen(ctx, "tcp", serverEpnt))
	defer listener.Close()

	// 9. spawn the server goroutine
	wg := &sync.WaitGroup{}
	totalSent := &atomic.Uint64{}
	wg.Go(func() {
		serverMain(listener, totalSent)
	})

	// 10. spawn the client goroutine
	totalRecv := &atomic.Uint64{}
	connector := linkem.NewConnector(path.Right)
	wg.Go(func() {
		clientMain(ctx, connector, serverEpnt, totalRecv)
	})

	// 11. spawn the goroutine counting bytes
	wg.Go(func() {
		printerMain(ctx, totalRecv)
	})

	// 12. shape packets until done
	path.Link.Run(ctx)

	// 13. shut down the stacks explicitly
	path.Close()

	// 14. wait for goroutines to finish
	wg.Wait()

	// 15. emit the shaping statistics
	up := path.Link.UplinkStats().Summary()
	log.Infof("uplink: %d packets forwarded, %d codel drops, %d tail drops",
		up.ForwardedPackets, up.AQMDrops, up.TailDrops)
	if trace != nil {
		runtimex.PanicOnError0(trace.Close())
	}
}
