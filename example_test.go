// SPDX-License-Identifier: GPL-3.0-or-later

package linkem_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bassosimone/linkem"
	"github.com/bassosimone/runtimex"
)

// fastSchedule builds a cyclic schedule with one thousand transmission
// opportunities per second, plenty for the examples below.
func fastSchedule() *linkem.Schedule {
	offsets := make([]time.Duration, 10)
	for idx := range offsets {
		offsets[idx] = time.Duration(idx+1) * time.Millisecond
	}
	return runtimex.PanicOnError1(linkem.NewSchedule(offsets))
}

// This example creates a shaped path where the client downloads a
// small number of bytes from the server over TCP, capturing the
// shaped traffic into a pcap file.
func Example_tcpDownload() {
	// create the packet capture
	traceFile := runtimex.PanicOnError1(os.Create("tcpDownload.pcap"))
	trace := linkem.NewPCAPTrace(traceFile, linkem.MTUEthernet)

	// create the path with CoDel on both directions
	path := runtimex.PanicOnError1(linkem.NewPath(linkem.PathConfig{
		Uplink: linkem.DirectionConfig{
			Schedule: fastSchedule(),
			Qdisc:    runtimex.PanicOnError1(linkem.NewQdisc(linkem.QdiscCoDel)),
		},
		Downlink: linkem.DirectionConfig{
			Schedule: fastSchedule(),
			Qdisc:    runtimex.PanicOnError1(linkem.NewQdisc(linkem.QdiscCoDel)),
		},
		Options: []linkem.LinkOption{linkem.LinkOptionPCAP(trace)},
	}))
	defer path.Close()

	// shape packets in the background
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	linkDone := make(chan struct{})
	go func() {
		defer close(linkDone)
		path.Run(runCtx)
	}()

	// create a context used by connector and listener
	ctx := context.Background()

	// run the server in the background
	wg := &sync.WaitGroup{}
	ready := make(chan struct{})
	wg.Go(func() {
		listenCfg := linkem.NewListenConfig(path.Left)
		listener := runtimex.PanicOnError1(listenCfg.Listen(ctx, "tcp", "10.0.0.1:80"))
		close(ready)
		conn := runtimex.PanicOnError1(listener.Accept())
		message := []byte("Hello, world!\n")
		_ = runtimex.PanicOnError1(conn.Write(message))
		runtimex.PanicOnError0(conn.Close())
		runtimex.PanicOnError0(listener.Close())
	})

	// run the client in the background
	messagech := make(chan []byte, 1)
	wg.Go(func() {
		<-ready
		connector := linkem.NewConnector(path.Right)
		conn := runtimex.PanicOnError1(connector.DialContext(ctx, "tcp", "10.0.0.1:80"))
		buffer := make([]byte, 1024)
		count := runtimex.PanicOnError1(conn.Read(buffer))
		messagech <- buffer[:count]
		runtimex.PanicOnError0(conn.Close())
	})
	wg.Wait()

	// stop the link and finalize the capture
	cancel()
	<-linkDone
	runtimex.PanicOnError0(trace.Close())

	// receive and print the server message
	message := <-messagech
	fmt.Printf("%s", string(message))

	// Output:
	// Hello, world!
	//
}

// This example creates a shaped path where the server echoes back
// whatever it receives over UDP.
func Example_udpEcho() {
	// create the path with the default drop-tail queues
	path := runtimex.PanicOnError1(linkem.NewPath(linkem.PathConfig{
		Uplink: linkem.DirectionConfig{
			Schedule: fastSchedule(),
			Qdisc:    runtimex.PanicOnError1(linkem.NewQdisc(linkem.QdiscDropTail)),
		},
		Downlink: linkem.DirectionConfig{
			Schedule: fastSchedule(),
			Qdisc:    runtimex.PanicOnError1(linkem.NewQdisc(linkem.QdiscDropTail)),
		},
	}))
	defer path.Close()

	// shape packets in the background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go path.Run(ctx)

	// run the server in the background
	wg := &sync.WaitGroup{}
	ready := make(chan struct{})
	wg.Go(func() {
		listenCfg := linkem.NewListenConfig(path.Left)
		pconn := runtimex.PanicOnError1(listenCfg.ListenPacket(context.Background(), "udp", "10.0.0.1:53"))
		defer pconn.Close()
		close(ready)
		buffer := make([]byte, 2048)
		count, addr := runtimex.PanicOnError2(pconn.ReadFrom(buffer))
		_ = runtimex.PanicOnError1(pconn.WriteTo(buffer[:count], addr))
	})

	// run the client in the background
	messagech := make(chan []byte, 1)
	wg.Go(func() {
		<-ready
		connector := linkem.NewConnector(path.Right)
		conn := runtimex.PanicOnError1(connector.DialContext(context.Background(), "udp", "10.0.0.1:53"))
		message := []byte("Hello, shaped world!\n")
		_ = runtimex.PanicOnError1(conn.Write(message))
		buffer := make([]byte, 1024)
		count := runtimex.PanicOnError1(conn.Read(buffer))
		messagech <- buffer[:count]
		runtimex.PanicOnError0(conn.Close())
	})
	wg.Wait()

	// receive and print the echoed message
	message := <-messagech
	fmt.Printf("%s", string(message))

	// Output:
	// Hello, shaped world!
	//
}
