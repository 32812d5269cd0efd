// Command cloudmotion receives lidar point clouds and sensor poses, extracts
// the points that changed between consecutive frames and estimates the
// velocity of every detected object.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/cloudmotion/internal/config"
	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
	"github.com/banshee-data/cloudmotion/internal/lidar/l3grid"
	"github.com/banshee-data/cloudmotion/internal/lidar/l4perception"
	"github.com/banshee-data/cloudmotion/internal/lidar/network"
	"github.com/banshee-data/cloudmotion/internal/lidar/pipeline"
	"github.com/banshee-data/cloudmotion/internal/lidar/posebuffer"
	"github.com/banshee-data/cloudmotion/internal/lidar/storage/sqlite"
	"github.com/banshee-data/cloudmotion/internal/lidar/visualiser"
	"github.com/banshee-data/cloudmotion/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the pipeline tuning JSON file")
	listen      = flag.String("listen", ":8082", "HTTP listen address (/metrics, /scene, /debug/)")
	udpAddress  = flag.String("udp-addr", ":2370", "UDP bind address for frame and pose datagrams")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	logInterval = flag.Duration("log-interval", 10*time.Second, "Statistics logging interval")

	pcapFile  = flag.String("pcap", "", "Replay datagrams from this PCAP file instead of listening on UDP")
	pcapPort  = flag.Int("pcap-port", 2370, "UDP port to replay from the PCAP file (0 for all)")
	pcapSpeed = flag.Float64("pcap-speed", 1, "PCAP replay speed multiplier (0 replays as fast as possible)")

	forwardAddr  = flag.String("forward-addr", "", "Send dynamic clouds to this UDP address (disabled when empty)")
	grpcListen   = flag.String("grpc-listen", "localhost:50051", "gRPC scene stream address (disabled when empty)")
	recordDB     = flag.String("record", "", "Record runs to this SQLite database (disabled when empty)")
	notes        = flag.String("notes", "", "Free-form notes stored with the recorded run")
	frameQueue   = flag.Int("frame-queue", 4, "Frames buffered per pipeline before dropping")
	sceneQueue   = flag.Int("scene-queue", visualiser.DefaultConfig().QueueSize, "Scenes buffered ahead of the gRPC broadcaster")
	recordQueue  = flag.Int("record-queue", sqlite.DefaultRecorderQueue, "Cycles buffered ahead of the database writer")
	forwardQueue = flag.Int("forward-queue", network.DefaultForwardQueue, "Dynamic clouds buffered ahead of the forwarder")

	logOps   = flag.String("log-ops", "stderr", "Ops log destination: stderr, stdout, off or a file path")
	logDiag  = flag.String("log-diag", "off", "Diag log destination: stderr, stdout, off or a file path")
	logTrace = flag.String("log-trace", "off", "Trace log destination: stderr, stdout, off or a file path")

	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	streams, err := openLogStreams(*logOps, *logDiag, *logTrace)
	if err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	defer streams.Close()
	streams.apply()

	log.Print(version.String())
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.LoadPipelineConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("config %s: parent=%s child=%s voxel=%.3f tolerance=%.3f clusters=[%d,%d] association=%.3f reference=%s units=%s",
		*configPath, cfg.GetParentFrameName(), cfg.GetChildFrameName(), cfg.GetVoxelSize(),
		cfg.GetClusterTolerance(), cfg.GetMinClusterSize(), cfg.GetMaxClusterSize(),
		cfg.GetAssociationDistance(), cfg.GetVelocityReference(), cfg.GetDisplayUnits())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := pipeline.NewMetrics(reg)
	networkMetrics := network.NewMetrics(reg)

	poses := posebuffer.New(posebuffer.Config{Timeout: cfg.GetPoseTimeout()})

	var wg sync.WaitGroup

	// Scenes are always published so /scene works without a gRPC listener.
	vcfg := visualiser.DefaultConfig()
	vcfg.ListenAddr = *grpcListen
	vcfg.QueueSize = *sceneQueue
	publisher := visualiser.NewPublisher(vcfg, reg)
	if *grpcListen != "" {
		if err := publisher.Start(); err != nil {
			return err
		}
		defer publisher.Stop()
	}
	adapter := visualiser.NewAdapter(publisher, cfg.GetDisplayUnits())
	dynObservers := []pipeline.DynamicObserver{adapter}
	detObservers := []pipeline.DetectionObserver{adapter}

	var db *sqlite.DB
	if *recordDB != "" {
		db, err = sqlite.Open(*recordDB)
		if err != nil {
			return err
		}
		defer db.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		rn, err := db.CreateRun(ctx, time.Now(), string(cfgJSON), *notes)
		if err != nil {
			return err
		}
		log.Printf("recording run %s to %s", rn.RunID, *recordDB)
		rec := sqlite.NewRecorder(db, rn.RunID, *recordQueue)
		rec.Start(context.WithoutCancel(ctx))
		// Runs after the pipelines stop so the final cycles are flushed.
		defer func() {
			rec.Close()
			log.Printf("run %s: %+v", rn.RunID, rec.Stats())
		}()
		dynObservers = append(dynObservers, rec)
		detObservers = append(detObservers, rec)
	}

	dcfg := pipeline.DynamicConfig{
		ParentFrame: cfg.GetParentFrameName(),
		ChildFrame:  cfg.GetChildFrameName(),
		Change: l3grid.ChangeParams{
			VoxelSize:        cfg.GetVoxelSize(),
			MinPointsPerLeaf: cfg.GetMinPointsPerLeaf(),
		},
		Poses:     poses,
		Observers: dynObservers,
		Metrics:   pipelineMetrics,
	}
	if *forwardAddr != "" {
		fwd, err := network.NewCloudForwarder(*forwardAddr, *forwardQueue, *logInterval, networkMetrics)
		if err != nil {
			return err
		}
		defer fwd.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			fwd.Start(ctx)
		}()
		dcfg.Output = fwd
	}
	dynamic, err := pipeline.NewDynamicExtractor(dcfg)
	if err != nil {
		return err
	}
	detector, err := pipeline.NewVehicleDetector(pipeline.DetectionConfig{
		ParentFrame: cfg.GetParentFrameName(),
		ChildFrame:  cfg.GetChildFrameName(),
		Extract: l4perception.ExtractParams{
			Tolerance:      cfg.GetClusterTolerance(),
			MinClusterSize: cfg.GetMinClusterSize(),
			MaxClusterSize: cfg.GetMaxClusterSize(),
		},
		AssociationDistance: cfg.GetAssociationDistance(),
		VelocityReference:   cfg.GetVelocityReference(),
		Poses:               poses,
		Observers:           detObservers,
		Metrics:             pipelineMetrics,
	})
	if err != nil {
		return err
	}

	frames := make(chan *l2frames.PointCloudFrame, *frameQueue)
	assembler := l2frames.NewFrameAssembler(l2frames.AssemblerConfig{})
	receiver, err := network.NewReceiver(network.ReceiverConfig{
		Poses:     poses,
		Assembler: assembler,
		Frames:    frames,
		Metrics:   networkMetrics,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/scene", publisher.HandleScene)
	mux.Handle("/api/status", statusHandler(receiver, assembler, publisher))
	if db != nil {
		if err := db.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}
	server := &http.Server{Addr: *listen, Handler: mux}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP server listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()
	defer func() {
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		wg.Wait()
	}()

	// The source closes frames when it is done, which drains the pipelines.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(frames)
		if err := runSource(ctx, receiver); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("input error: %v", err)
		}
		log.Printf("receiver stats: %+v", receiver.Stats())
	}()

	err = pipeline.Fanout(ctx, frames, *frameQueue, pipelineMetrics, dynamic, detector)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("pipelines stopped")
	stop()
	return nil
}

// runSource feeds datagrams to h from the PCAP file or the UDP socket.
func runSource(ctx context.Context, h *network.Receiver) error {
	if *pcapFile != "" {
		stats, err := network.ReplayPCAPFile(ctx, *pcapFile, network.ReplayConfig{
			UDPPort:         *pcapPort,
			SpeedMultiplier: *pcapSpeed,
		}, h)
		log.Printf("replay of %s: %+v", *pcapFile, stats)
		return err
	}
	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:     *udpAddress,
		RcvBuf:      *rcvBuf,
		LogInterval: *logInterval,
		Handler:     h,
	})
	return listener.Start(ctx)
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Extracts dynamic points and object velocities from streamed lidar frames.\n\n")
		flag.PrintDefaults()
	}
}
