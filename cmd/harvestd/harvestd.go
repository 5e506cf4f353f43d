package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/verdant-data/maturity.report/internal/api"
	"github.com/verdant-data/maturity.report/internal/bnn"
	"github.com/verdant-data/maturity.report/internal/buzzer"
	"github.com/verdant-data/maturity.report/internal/camerabus"
	"github.com/verdant-data/maturity.report/internal/config"
	"github.com/verdant-data/maturity.report/internal/db"
	"github.com/verdant-data/maturity.report/internal/decision"
	"github.com/verdant-data/maturity.report/internal/monitor"
	"github.com/verdant-data/maturity.report/internal/mqtt"
	"github.com/verdant-data/maturity.report/internal/pipeline"
	"github.com/verdant-data/maturity.report/internal/rangefinder"
	"github.com/verdant-data/maturity.report/internal/sensorlink"
	"github.com/verdant-data/maturity.report/internal/version"
)

var (
	httpAddr    = flag.String("http-addr", ":8089", "HTTP listen address")
	udpAddr     = flag.String("udp-addr", ":4747", "UDP listen address for camera bus datagrams")
	dbFile      = flag.String("db", "harvest.db", "Path to the SQLite database file")
	rangePort   = flag.String("range-port", "/dev/ttyUSB0", "Serial device for the ultrasonic pod")
	baudRate    = flag.Int("baud", 115200, "Baud rate for the pod serial port")
	devMode     = flag.Bool("dev", false, "Run with a mock pod and synthetic frames instead of hardware")
	mqttURL     = flag.String("mqtt", "", "MQTT broker URL, e.g. tcp://host:1883 (empty disables the bridge)")
	deviceFlag  = flag.String("device-id", "", "Device identity for topics and charts (default: machine ID)")
	configFile  = flag.String("config", "", "Path to a tuning config JSON file (compiled-in defaults when empty)")
	weightsFile = flag.String("weights", "", "Path to a weights JSON file (compiled-in reference set when empty)")
	replayFile  = flag.String("replay", "", "Replay a pcap capture instead of listening (requires -tags=pcap)")
	plotDir     = flag.String("plot-dir", "", "Directory for end-of-run plots (empty disables)")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	verbose     = flag.Bool("verbose", false, "Enable per-stage debug logging")

	// Direct GPIO wiring, only effective in -tags=gpio builds.
	gpioChip    = flag.String("gpio-chip", "", "GPIO chip for direct transducer lines instead of the serial pod (requires -tags=gpio)")
	gpioTrigger = flag.Int("gpio-trigger", 23, "GPIO trigger line offset")
	gpioEcho    = flag.Int("gpio-echo", 24, "GPIO echo line offset")
	buzzerPin   = flag.Int("buzzer-pin", -1, "GPIO line for the harvest-ready buzzer, -1 disables (requires -tags=gpio)")
)

// listenBus receives camera bus datagrams and feeds them to the pipeline.
func listenBus(ctx context.Context, p *pipeline.Pipeline, address string) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %v", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(*rcvBuf); err != nil {
		log.Printf("Warning: failed to set UDP receive buffer to %d bytes: %v (some OSes clamp buffer sizes)", *rcvBuf, err)
	}

	log.Printf("Listening for camera bus datagrams on %s", address)

	// Datagrams are capped under a 1500-byte MTU, so one reused buffer
	// holds any of them.
	buffer := make([]byte, 1500)
	timeoutCount := 0

	for {
		select {
		case <-ctx.Done():
			log.Println("bus listener shutting down")
			return ctx.Err()
		default:
			// Set a read timeout to allow checking for context cancellation
			if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				log.Printf("Error setting read deadline: %v", err)
				continue
			}

			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					timeoutCount++
					if timeoutCount%10 == 0 {
						log.Printf("No datagrams received for %d seconds", timeoutCount)
					}
					continue
				}
				log.Printf("Error reading UDP datagram: %v", err)
				continue
			}

			timeoutCount = 0
			p.HandleDatagram(buffer[:n])
		}
	}
}

// devFrames feeds a canned green frame through the pipeline twice a second
// so a daemon without hardware produces live decisions out of the box. It
// backs off whenever real bus traffic arrives so a bench generator can take
// over the stream.
func devFrames(ctx context.Context, p *pipeline.Pipeline) {
	idle := camerabus.NewSample(false, false, true, 0)
	blank := camerabus.NewSample(false, true, true, 0)

	frame := []camerabus.Sample{idle, idle, blank, blank}
	for row := 0; row < 10; row++ {
		for x := 0; x < 20; x++ {
			frame = append(frame,
				camerabus.NewSample(true, true, true, 0x3C),
				camerabus.NewSample(true, true, true, 0xA0))
		}
		frame = append(frame, blank, blank)
	}
	frame = append(frame, idle, idle, idle)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastSeen := p.BusStats().Datagrams()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.BusStats().Datagrams(); n != lastSeen {
				lastSeen = n
				continue
			}
			for _, s := range frame {
				p.HandleSample(s)
			}
		}
	}
}

// Main
func main() {
	flag.Parse()

	// Subcommand dispatch: "harvestd [flags] migrate <action>" manages the
	// schema and exits without starting the daemon.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], *dbFile)
		return
	}

	if *httpAddr == "" {
		log.Fatal("HTTP listen address is required")
	}

	// Load tuning; an empty -config takes the compiled-in defaults through
	// the getters.
	tuning := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *configFile)
	}

	weights := bnn.DefaultWeights()
	if *weightsFile != "" {
		var err error
		weights, err = bnn.LoadWeights(*weightsFile)
		if err != nil {
			log.Fatalf("Failed to load weights: %v", err)
		}
	}
	log.Printf("Using weight set %s", weights.Version)

	deviceID := mqtt.ResolveDeviceID(*deviceFlag)

	// Initialize database (runs pending migrations)
	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	notes := fmt.Sprintf("harvestd %s (%s)", version.Version, version.GitSHA)
	run := &db.Run{Device: deviceID, WeightsVersion: weights.Version, Notes: &notes}
	if err := database.CreateRun(run); err != nil {
		log.Fatalf("Failed to create run row: %v", err)
	}
	log.Printf("Started run %s as device %s", run.ID, deviceID)
	defer func() {
		if err := database.EndRun(run.ID); err != nil {
			log.Printf("Failed to close run row: %v", err)
		}
	}()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Range source: serial pod by default, mock in dev mode, direct GPIO
	// lines when a chip is named.
	var rangeSource rangefinder.PulseSource
	var podLink sensorlink.Linker
	switch {
	case *gpioChip != "":
		src, err := rangefinder.NewGPIOSource(*gpioChip, *gpioTrigger, *gpioEcho)
		if err != nil {
			log.Fatalf("Failed to open GPIO range source: %v", err)
		}
		defer src.Close()
		rangeSource = src
		log.Printf("Ranging over GPIO chip %s (trigger %d, echo %d)", *gpioChip, *gpioTrigger, *gpioEcho)
	case *devMode:
		podLink = sensorlink.NewMockLink([]byte("E 960\n"), tuning.GetTriggerPeriod())
		log.Print("Dev mode: synthetic pod reporting a fixed 15cm echo")
	default:
		link, err := sensorlink.NewRealLink(*rangePort, sensorlink.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("Failed to open pod port %s: %v", *rangePort, err)
		}
		podLink = link
	}

	if podLink != nil {
		defer podLink.Close()
		if err := podLink.Initialize(); err != nil {
			log.Fatalf("Failed to initialize pod: %v", err)
		}
		rangeSource = &rangefinder.LinkSource{Link: podLink}

		// run the monitor routine to manage IO on the pod port
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := podLink.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("failed to monitor pod port: %v", err)
			}
			log.Print("pod monitor routine terminated")
		}()

		// subscribe to pod report lines and persist ident/notice chatter
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, c := podLink.Subscribe()
			defer podLink.Unsubscribe(id)
			for {
				select {
				case payload := <-c:
					if err := sensorlink.HandleEvent(database, payload); err != nil {
						log.Printf("error handling pod report: %v", err)
					}
				case <-ctx.Done():
					log.Print("pod subscribe routine terminated")
					return
				}
			}
		}()
	}

	ranger := rangefinder.NewRanger(rangefinder.RangerConfig{
		Source:    rangeSource,
		Period:    tuning.GetTriggerPeriod(),
		EchoShift: tuning.GetEchoShift(),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ranger.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("ranger error: %v", err)
		}
		log.Print("ranger routine terminated")
	}()

	// Optional buzzer line, sharing the range chip unless one was named.
	var buzzerLine *buzzer.Line
	if *buzzerPin >= 0 {
		chip := *gpioChip
		if chip == "" {
			chip = "gpiochip0"
		}
		buzzerLine, err = buzzer.Open(chip, *buzzerPin)
		if err != nil {
			log.Fatalf("Failed to open buzzer line: %v", err)
		}
		defer buzzerLine.Close()
		log.Printf("Buzzer on %s line %d", chip, *buzzerPin)
	}

	history := monitor.NewHistory(0)

	// Optional run plotter, generating PNGs at shutdown.
	var plotter *monitor.RunPlotter
	if *plotDir != "" {
		plotter = monitor.NewRunPlotter(deviceID)
		outDir := monitor.MakePlotOutputDir(*plotDir, "")
		if err := plotter.Start(outDir); err != nil {
			log.Printf("Plot output disabled: %v", err)
			plotter = nil
		} else {
			log.Printf("Recording run plots to %s", outDir)
		}
	}

	// The output callbacks close over these; both are assigned before the
	// tick loop and the broker connection start, the only paths that call
	// back.
	var pipe *pipeline.Pipeline
	var apiServer *api.Server

	// Optional MQTT bridge.
	var bridge *mqtt.Bridge
	if *mqttURL != "" {
		bridge, err = mqtt.New(mqtt.Config{
			BrokerURL: *mqttURL,
			DeviceID:  deviceID,
			Retain:    tuning.GetMQTTRetain(),
			OnControl: func(action string) {
				switch action {
				case "assert":
					pipe.Alerts().Assert()
				case "clear":
					pipe.Alerts().Clear()
				}
				if err := database.RecordControlEvent("mqtt", "alert_"+action, *mqttURL); err != nil {
					log.Printf("failed to record control event: %v", err)
				}
			},
		})
		if err != nil {
			log.Fatalf("Failed to configure MQTT bridge: %v", err)
		}
		defer bridge.Close()
	}

	pipe, err = pipeline.New(pipeline.Config{
		Tuning:      tuning,
		Weights:     weights,
		RangeSource: ranger,
		OnOutputs: func(out decision.Outputs) {
			apiServer.PublishOutputs(out)
			if bridge != nil {
				bridge.PublishOutputs(out)
			}
			if buzzerLine != nil {
				if err := buzzerLine.Set(out.Buzzer); err != nil {
					log.Printf("buzzer update failed: %v", err)
				}
			}
		},
		OnInference: func(snap bnn.Snapshot, out decision.Outputs) {
			frame, _ := pipe.LatestFrame()
			rs, rok := pipe.LatestRange()
			rec := monitor.Record{
				Index:     snap.Completed,
				Timestamp: time.Now(),
				Frame:     frame,
				Range:     rs,
				RangeOK:   rok,
				Engine:    snap,
				Outputs:   out,
			}
			history.Add(rec)
			if plotter != nil {
				plotter.Sample(rec)
			}

			obs := &db.Observation{
				RunID:          run.ID,
				AvgGreen:       frame.AvgGreen,
				AvgRed:         frame.AvgRed,
				AvgBright:      frame.AvgBright,
				HeightEstimate: frame.HeightEstimate,
				PixelCount:     frame.PixelCount,
				RangeCM:        rs.DistanceCM,
				EchoMicros:     int64(rs.EchoMicros),
				InputVector:    uint8(snap.Input),
				HiddenState:    snap.Hidden,
				ScoreNotMature: snap.Scores[0],
				ScoreMature:    snap.Scores[1],
				Prediction:     snap.Prediction,
				Alert:          out.Alert,
				Effective:      out.Effective,
			}
			if err := database.RecordObservation(obs); err != nil {
				log.Printf("failed to record observation: %v", err)
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	if *verbose {
		pipe.SetDebug(true)
		if bridge != nil {
			bridge.SetDebug(true)
		}
	}

	apiServer = api.NewServer(api.ServerConfig{
		Pipeline: pipe,
		DB:       database,
		History:  history,
		DeviceID: deviceID,
		Units:    "cm",
		PlotDir:  *plotDir,
		RunID:    run.ID,
	})

	if bridge != nil {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := bridge.Connect(connectCtx); err != nil {
			log.Printf("MQTT broker not reachable yet: %v (client keeps retrying)", err)
		} else {
			log.Printf("Connected to MQTT broker %s", *mqttURL)
		}
		cancel()
	}

	// Engine tick loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("engine tick loop error: %v", err)
		}
		log.Print("engine tick routine terminated")
	}()

	// Bus ingest: live UDP listener, or a capture replay.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if *replayFile != "" {
			udpPort := 4747
			if a, err := net.ResolveUDPAddr("udp", *udpAddr); err == nil {
				udpPort = a.Port
			}
			log.Printf("Replaying %s (datagrams addressed to port %d)", *replayFile, udpPort)
			if err := camerabus.ReadPCAPFile(ctx, *replayFile, udpPort, pipe.HandleDatagram); err != nil && err != context.Canceled {
				log.Printf("replay error: %v", err)
			}
			log.Print("replay finished; daemon stays up for inspection")
			return
		}
		if err := listenBus(ctx, pipe, *udpAddr); err != nil && err != context.Canceled {
			log.Printf("bus listener error: %v", err)
		}
		log.Print("bus listener routine terminated")
	}()

	// Dev mode also synthesizes frames, so the daemon classifies something
	// with no head attached.
	if *devMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devFrames(ctx, pipe)
			log.Print("dev frame routine terminated")
		}()
	}

	// Periodic stats line
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tuning.GetStatsInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pipe.BusStats().LogStats()
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *httpAddr,
			Handler: api.LoggingMiddleware(apiServer.ServeMux()),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *httpAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	pipe.Close()

	if plotter != nil {
		plotter.Stop()
		if n, err := plotter.GeneratePlots(); err != nil {
			log.Printf("plot generation failed: %v", err)
		} else {
			log.Printf("Wrote %d run plots to %s", n, plotter.GetOutputDir())
		}
	}

	log.Printf("Graceful shutdown complete")
}
