package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/encoding"
	"github.com/brainlesscar/rerelay/hlc"
)

const (
	dialTimeout = 5 * time.Second
	// maxFrameSize bounds the length prefix so a corrupt stream can't
	// make a viewer allocate unbounded memory
	maxFrameSize = 256 << 20
)

// Pool spreads viewer connections across relays with round-robin distribution.
type Pool struct {
	hosts []string
	stats *Stats
}

// NewPool creates a viewer pool across the given relays.
func NewPool(hosts []string, stats *Stats) (*Pool, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts provided")
	}
	return &Pool{hosts: hosts, stats: stats}, nil
}

// Size returns the number of relays in the pool.
func (p *Pool) Size() int {
	return len(p.hosts)
}

// Watch connects n viewers and reads frames until ctx ends.
func (p *Pool) Watch(ctx context.Context, n int) error {
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		host := p.hosts[i%len(p.hosts)]
		conn, err := dialViewer(ctx, host)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return fmt.Errorf("viewer %d: %w", i, err)
		}
		conns = append(conns, conn)
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			p.read(ctx, conn)
		}(conn)
	}

	<-ctx.Done()
	for _, conn := range conns {
		conn.Close()
	}
	wg.Wait()
	return nil
}

// dialViewer opens a TCP viewer connection and sends the protocol marker
func dialViewer(ctx context.Context, host string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	if _, err := conn.Write(encoding.Magic[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send hello to %s: %w", host, err)
	}
	return conn, nil
}

func (p *Pool) read(ctx context.Context, conn net.Conn) {
	order := newOrderTracker()
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				p.stats.RecordDisconnect()
			}
			return
		}

		msg, err := decodeFrame(frame)
		if err != nil {
			p.stats.RecordDecodeError()
			continue
		}
		p.stats.RecordFrame(len(frame), frameLatency(msg, time.Now()))
		switch order.observe(msg) {
		case orderDuplicate:
			p.stats.RecordDuplicate()
		case orderReversed:
			p.stats.RecordReordered()
		}
	}
}

const (
	orderOK = iota
	orderDuplicate
	orderReversed
)

// orderTracker checks that the records of each entity reach one viewer in
// the order they were logged
type orderTracker struct {
	last map[string]hlc.Timestamp
}

func newOrderTracker() *orderTracker {
	return &orderTracker{last: make(map[string]hlc.Timestamp)}
}

func (o *orderTracker) observe(msg common.Msg) int {
	if msg.Kind != common.KindArrow || msg.StoreKind != common.StoreRecording {
		return orderOK
	}

	key := msg.StoreID + "/" + msg.EntityPath
	ts := hlc.Timestamp{LogTime: msg.LogTime, LogTick: msg.LogTick}
	prev, seen := o.last[key]
	if !seen {
		o.last[key] = ts
		return orderOK
	}

	switch c := hlc.Compare(ts, prev); {
	case c == 0:
		return orderDuplicate
	case c < 0:
		return orderReversed
	}
	o.last[key] = ts
	return orderOK
}

// readFrame reads one length-prefixed frame
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func decodeFrame(frame []byte) (common.Msg, error) {
	body, err := encoding.DecodeFrame(frame)
	if err != nil {
		return common.Msg{}, err
	}
	return encoding.UnmarshalMsg(body)
}

// frameLatency is the time between logging and receipt of a data record.
// Store descriptions and blueprints are replayed from the relay's history and
// don't count.
func frameLatency(msg common.Msg, now time.Time) time.Duration {
	if msg.Kind != common.KindArrow || msg.StoreKind != common.StoreRecording || msg.LogTime == 0 {
		return 0
	}
	return now.Sub(hlc.Timestamp{LogTime: msg.LogTime, LogTick: msg.LogTick}.PhysicalTime())
}

// executeWatch runs the watch phase.
func executeWatch(ctx context.Context, cfg *Config) error {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║            Pika Watch Phase                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Hosts:       %s\n", cfg.Hosts)
	fmt.Printf("Viewers:     %d\n", cfg.Viewers)
	if cfg.Duration > 0 {
		fmt.Printf("Duration:    %s\n", cfg.Duration)
	}
	fmt.Println()

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	stats := NewStats()
	pool, err := NewPool(cfg.HostList(), stats)
	if err != nil {
		return err
	}

	fmt.Printf("Connecting %d viewers to %d relays\n", cfg.Viewers, pool.Size())

	reporterCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()
	go reportProgress(reporterCtx, stats, true)

	start := time.Now()
	if err := pool.Watch(ctx, cfg.Viewers); err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("                   WATCH COMPLETE                      ")
	fmt.Println("═══════════════════════════════════════════════════════")
	stats.PrintWatch(elapsed)

	return nil
}
