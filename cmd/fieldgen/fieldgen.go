// Command fieldgen streams a synthetic camera bus at a harvestd listener.
//
// It renders frames of a chosen crop scene as RGB565 bus samples, batches
// them into datagrams, and paces them at the configured frame rate. It can
// also embed alert symbols on the serial bit to exercise the control
// channel end to end.
//
// Usage:
//
//	go run ./cmd/fieldgen [flags]
//
// Flags:
//
//	-target       UDP address of the harvestd bus listener
//	-scene        mature, seedling, or empty
//	-fps          frames per second
//	-frames       stop after N frames (0 = run until interrupted)
//	-alert-every  embed an alert assert symbol every N frames
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/verdant-data/maturity.report/internal/camera"
	"github.com/verdant-data/maturity.report/internal/camerabus"
	"github.com/verdant-data/maturity.report/internal/uart"
)

var (
	target     = flag.String("target", "127.0.0.1:4747", "UDP address of the harvestd bus listener")
	fps        = flag.Int("fps", 2, "Frames per second")
	lines      = flag.Int("lines", 240, "Rows per frame")
	cols       = flag.Int("cols", 320, "Pixels per row")
	sceneName  = flag.String("scene", "mature", "Scene to render: mature, seedling, or empty")
	frames     = flag.Int("frames", 0, "Number of frames to send, 0 runs until interrupted")
	alertEvery = flag.Int("alert-every", 0, "Embed an alert assert symbol every N frames, 0 disables")
	seed       = flag.Int64("seed", 0, "Random seed, 0 derives one from the clock")
)

// Control channel parameters matching the deployment defaults.
const (
	samplesPerBit     = 8
	alertAssertSymbol = 0xA5
)

// scene describes the crop stand fieldgen renders: a foliage color, a soil
// color, and the fraction of rows the canopy band covers.
type scene struct {
	foliage [3]uint8
	soil    [3]uint8
	cover   float64
}

var scenes = map[string]scene{
	// Lush centered canopy over most of the frame.
	"mature": {foliage: [3]uint8{48, 200, 40}, soil: [3]uint8{120, 96, 56}, cover: 0.8},
	// Sparse young plants; frame-mean green stays below the cut.
	"seedling": {foliage: [3]uint8{64, 140, 48}, soil: [3]uint8{120, 96, 56}, cover: 0.15},
	// Bare soil, nothing above the foliage threshold.
	"empty": {foliage: [3]uint8{0, 0, 0}, soil: [3]uint8{120, 96, 56}, cover: 0},
}

// jitter perturbs one channel by up to ±8 so frames are not byte-identical.
func jitter(rng *rand.Rand, v uint8) uint8 {
	d := rng.Intn(17) - 8
	n := int(v) + d
	if n < 0 {
		n = 0
	}
	if n > 255 {
		n = 255
	}
	return uint8(n)
}

// renderFrame builds the sample stream for one frame: vertical blanking,
// rows of RGB565 byte pairs with horizontal blanking between, then the
// frame fall. Levels hold for two samples so the receiver's agreement
// filter passes them; the serial line idles high throughout.
func renderFrame(rng *rand.Rand, sc scene, rows, cols int) []camerabus.Sample {
	idle := camerabus.NewSample(false, false, true, 0)
	blank := camerabus.NewSample(false, true, true, 0)

	bandStart := int(float64(rows) * (1 - sc.cover) / 2)
	bandEnd := rows - bandStart

	samples := make([]camerabus.Sample, 0, rows*(2*cols+2)+8)
	samples = append(samples, idle, idle, blank, blank)
	for row := 0; row < rows; row++ {
		color := sc.soil
		if sc.cover > 0 && row >= bandStart && row < bandEnd {
			color = sc.foliage
		}
		for x := 0; x < cols; x++ {
			hi, lo := camera.EncodeRGB565(
				jitter(rng, color[0]), jitter(rng, color[1]), jitter(rng, color[2]))
			samples = append(samples,
				camerabus.NewSample(true, true, true, hi),
				camerabus.NewSample(true, true, true, lo))
		}
		samples = append(samples, blank, blank)
	}
	return append(samples, idle, idle, idle)
}

// renderAlert builds an inter-frame serial burst carrying the assert
// symbol, padded with idle-high so the agreement filter settles on both
// ends.
func renderAlert() []camerabus.Sample {
	levels := uart.EncodeFrames([]byte{alertAssertSymbol}, samplesPerBit)
	samples := make([]camerabus.Sample, 0, len(levels)+6)
	for i := 0; i < 3; i++ {
		samples = append(samples, camerabus.NewSample(false, false, true, 0))
	}
	for _, level := range levels {
		samples = append(samples, camerabus.NewSample(false, false, level, 0))
	}
	for i := 0; i < 3; i++ {
		samples = append(samples, camerabus.NewSample(false, false, true, 0))
	}
	return samples
}

// sendSamples batches samples into datagrams and writes them to the
// connection. Returns the datagram and byte totals.
func sendSamples(conn *net.UDPConn, seq *uint32, samples []camerabus.Sample) (int, int, error) {
	datagrams, bytes := 0, 0
	flush := func(d camerabus.Datagram) error {
		buf, err := d.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := conn.Write(buf); err != nil {
			return err
		}
		datagrams++
		bytes += len(buf)
		return nil
	}

	d := camerabus.Datagram{Sequence: *seq}
	for _, s := range samples {
		if !d.AppendSample(s) {
			if err := flush(d); err != nil {
				return datagrams, bytes, err
			}
			*seq++
			d = camerabus.Datagram{Sequence: *seq}
			d.AppendSample(s)
		}
	}
	if len(d.Samples) > 0 {
		if err := flush(d); err != nil {
			return datagrams, bytes, err
		}
		*seq++
	}
	return datagrams, bytes, nil
}

func main() {
	flag.Parse()

	sc, ok := scenes[*sceneName]
	if !ok {
		log.Fatalf("Unknown scene %q (want mature, seedling, or empty)", *sceneName)
	}
	if *fps <= 0 {
		log.Fatal("-fps must be positive")
	}
	if *lines <= 0 || *cols <= 0 {
		log.Fatal("-lines and -cols must be positive")
	}

	seedVal := *seed
	if seedVal == 0 {
		seedVal = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seedVal))

	raddr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatalf("Failed to resolve target address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Failed to dial target: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Streaming %s scene to %s: %dx%d at %d fps (seed %d)",
		*sceneName, *target, *cols, *lines, *fps, seedVal)

	ticker := time.NewTicker(time.Second / time.Duration(*fps))
	defer ticker.Stop()

	var seq uint32
	sent, totalDatagrams, totalBytes := 0, 0, 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("Interrupted after %d frames (%d datagrams, %d bytes)",
				sent, totalDatagrams, totalBytes)
			return
		case <-ticker.C:
			frame := renderFrame(rng, sc, *lines, *cols)
			sent++
			if *alertEvery > 0 && sent%*alertEvery == 0 {
				frame = append(frame, renderAlert()...)
				log.Printf("frame %d: embedded alert assert symbol", sent)
			}

			datagrams, bytes, err := sendSamples(conn, &seq, frame)
			totalDatagrams += datagrams
			totalBytes += bytes
			if err != nil {
				log.Fatalf("Send failed on frame %d: %v", sent, err)
			}

			if *frames > 0 && sent >= *frames {
				log.Printf("Sent %d frames (%d datagrams, %d bytes)",
					sent, totalDatagrams, totalBytes)
				return
			}
		}
	}
}
