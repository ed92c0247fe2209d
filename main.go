package main

// A domain-kernel node wires together PKT, RIP, DIR, and APP: it opens
// its netbuf pool and socket table, discovers (or, when diskless,
// bootstraps) its routing ports, runs the RIP server loop, and serves
// the directory dispatcher and application demultiplexer over a
// single-node loopback link until told to quit.

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	_ "net/http/pprof" // Support profiling

	"github.com/m-lab/domain-kernel/app"
	"github.com/m-lab/domain-kernel/audit"
	"github.com/m-lab/domain-kernel/dir"
	"github.com/m-lab/domain-kernel/dirstore"
	"github.com/m-lab/domain-kernel/ec"
	"github.com/m-lab/domain-kernel/eventsocket"
	"github.com/m-lab/domain-kernel/hint"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/netio"
	"github.com/m-lab/domain-kernel/pkt"
	"github.com/m-lab/domain-kernel/rip"
	"github.com/m-lab/domain-kernel/socket"
	"github.com/m-lab/domain-kernel/status"
	"github.com/m-lab/domain-kernel/uid"
	"github.com/m-lab/domain-kernel/uuid"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	nodeMe      = flag.Uint64("NODE_ME", 1, "This node's 32-bit network node id.")
	motherNode  = flag.Uint64("NETWORK_MOTHER_NODE", 0, "The diskless bootstrap mother node's id, consulted only when -diskless is set.")
	diskless    = flag.Bool("diskless", false, "Boot diskless: send a bootstrap request to -NETWORK_MOTHER_NODE instead of discovering ports locally.")
	promPort    = flag.String("prom", ":9090", "Prometheus metrics export address and port.")
	headerPages = flag.Int("header_pages", 512, "Number of netbuf header pages in the pool.")
	dataPages   = flag.Int("data_pages", 2048, "Number of netbuf data pages in the pool.")
	auditDir    = flag.String("audit_dir", ".", "Directory in which to write rotated audit log files.")
	auditEvery  = flag.Duration("audit_rotate", 10*time.Minute, "How often to rotate the audit log.")
	ripInterval = flag.Duration("rip_interval", 30*time.Second, "Interval between unsolicited RIP table broadcasts.")
	quitAfter   = flag.Duration("quit_after", 0, "If positive, exit automatically after this duration (used by tests and smoke runs).")
)

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = sigCtx

	if *quitAfter > 0 {
		time.AfterFunc(*quitAfter, cancel)
	}

	// Expose prometheus and pprof metrics on a separate port.
	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	k, table, link := buildKernel(uint32(*nodeMe))

	if *diskless {
		rtx.Must(rip.Init(ctx, k, table, true, uint32(*motherNode), 2*time.Second), "Could not complete diskless bootstrap")
	} else {
		discovered, err := netio.DiscoverPorts(ctx)
		rtx.Must(err, "Could not discover host ports")
		for _, d := range discovered {
			table.AddPort(rip.Port{Port: d.Port, Network: d.Network})
		}
	}

	auditPipeline := audit.NewPipeline(2, *auditEvery, func(t time.Time) string {
		return *auditDir + "/audit-" + t.UTC().Format("20060102T150405Z") + ".gob.zst"
	})
	defer auditPipeline.Close()

	dispatcher := buildDispatcher(k, auditPipeline)

	events := eventsocket.New(*auditDir + "/kernel.eventsocket")
	rtx.Must(events.Listen(), "Could not listen on the kernel event socket")
	go events.Serve(ctx)

	appDispatcher := app.NewDispatcher(k.Pool, k.Sockets)
	rtx.Must(appDispatcher.Open(link), "Could not open the APP demultiplexer")

	ripServer := rip.NewServer(k, table)
	go ripServer.Run(ctx)
	go ripServer.RunTimer(ctx, *ripInterval)

	go func() {
		if err := pkt.RunPingServer(ctx, k); err != nil && ctx.Err() == nil {
			log.Printf("ping server exited: %v", err)
		}
	}()

	log.Printf("domain-kernel node %d running (diskless=%v); dispatcher ready for %d opcodes", k.NodeMe, *diskless, len(dispatcher.Handlers))

	<-ctx.Done()
	k.QuitEC.Advance()
	log.Println("domain-kernel shutting down")
}

// buildKernel allocates the netbuf pool, socket table, and the
// single-node loopback link that stands in for the MAC driver this
// module does not implement (spec.md §1's explicit non-goal), and
// bundles them into a pkt.Kernel for nodeMe.
func buildKernel(nodeMe uint32) (*pkt.Kernel, *rip.Table, *netio.Loopback) {
	pool := netbuf.NewPool(*headerPages, *dataPages)
	sockets := socket.NewTable()
	table := rip.NewTable(nodeMe)
	link := netio.NewLoopback()

	k := &pkt.Kernel{
		Pool:       pool,
		Sockets:    sockets,
		IDs:        pkt.NewIDGenerator(),
		Router:     table,
		NetIO:      link,
		NodeMe:     nodeMe,
		QuitEC:     ec.New(),
		Visibility: pkt.NewVisibilityTracker(),
	}
	return k, table, link
}

// buildDispatcher wires the directory dispatcher: a hint cache, a
// PKT-backed remote sender, the default local opcode handlers bound
// to a fresh in-memory store, and an audit hook writing through
// pipeline.
func buildDispatcher(k *pkt.Kernel, pipeline *audit.Pipeline) *dir.Dispatcher {
	hints := hint.NewCache()
	sender := &dir.PktSender{Kernel: k}
	dispatcher := dir.NewDispatcher(k.NodeMe, hints, sender)

	store := dirstore.NewStore()
	dir.RegisterDefaultHandlers(dispatcher, store)

	gen := uuid.NewGenerator()
	dispatcher.Audit = dir.NewAuditFunc(pipeline, gen)

	// AST_$COND_FLUSH has no stale-attribute-cache collaborator in this
	// module (there is no separate attribute cache, only the route
	// hint cache); a flush notification simply drops the hint so the
	// next dispatch re-resolves it from scratch.
	dispatcher.Flush = func(ctx context.Context, flushUID uid.UID) status.Status {
		hints.Invalidate(flushUID)
		return status.OK
	}

	return dispatcher
}
