package recorder

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kvandebeek/motiondetector/internal/logging"
)

// cmdSink is the capability Recorder needs from the encoder worker: enqueue
// a command with drop-on-full semantics, or block until a command is
// accepted (used only for the one-shot shutdown). Kept as an interface so
// tests can substitute a fake sink and assert on the command sequence
// without spinning up a real codec/writer.
type cmdSink interface {
	enqueue(cmd encoderCmd)
	shutdown()
}

// minFreeDiskBytes is the floor below which a new clip is not started.
const minFreeDiskBytes = 256 << 20

type encoderCmdKind int

const (
	cmdStart encoderCmdKind = iota
	cmdFrame
	cmdStop
	cmdShutdown
)

// encoderCmd is one message on the encoder worker's bounded FIFO.
type encoderCmd struct {
	kind        encoderCmdKind
	basePath    string
	width       int
	height      int
	fps         int
	bitrateBps  int
	bgr         []byte
	issueActive bool
}

// encoderWorker is the single dedicated goroutine that owns the file
// writer for the lifetime of one clip. It never runs concurrently with
// itself, so NAL units reach the writer in the FIFO order they were
// enqueued, satisfying the ordering guarantee in the concurrency model.
type encoderWorker struct {
	cmds chan encoderCmd
	log  *slog.Logger

	enc    h264Encoder
	writer clipWriter
	width  int
	height int
	fps    int
	frameN int64
}

func newEncoderWorker(capacity int) *encoderWorker {
	return &encoderWorker{
		cmds: make(chan encoderCmd, capacity),
		log:  logging.L("recorder"),
	}
}

// enqueue drops the command silently if the FIFO is full: a missed frame is
// an acceptable visible consequence, a blocked monitor loop is not.
func (w *encoderWorker) enqueue(cmd encoderCmd) {
	select {
	case w.cmds <- cmd:
	default:
		w.log.Warn("encoder fifo full, dropping command", "kind", cmd.kind)
	}
}

// shutdown sends cmdShutdown as a blocking send: it fires once during
// teardown and must never be silently dropped by a full FIFO.
func (w *encoderWorker) shutdown() {
	w.cmds <- encoderCmd{kind: cmdShutdown}
}

// run processes commands until it receives cmdShutdown. Intended to be
// launched as `go worker.run()`.
func (w *encoderWorker) run() {
	for cmd := range w.cmds {
		switch cmd.kind {
		case cmdStart:
			w.handleStart(cmd)
		case cmdFrame:
			w.handleFrame(cmd)
		case cmdStop:
			w.handleStop()
		case cmdShutdown:
			w.handleStop()
			return
		}
	}
}

func (w *encoderWorker) handleStart(cmd encoderCmd) {
	w.handleStop()

	if err := os.MkdirAll(filepath.Dir(cmd.basePath), 0o755); err != nil {
		w.log.Error("create clip directory failed", logging.KeyError, err)
		return
	}

	if free, err := freeDiskBytes(filepath.Dir(cmd.basePath)); err == nil && free < minFreeDiskBytes {
		w.log.Warn("low disk space, skipping clip", "free_bytes", free)
		return
	}

	enc, err := newOpenH264Encoder(cmd.width, cmd.height, cmd.bitrateBps, cmd.fps)
	if err != nil {
		w.log.Error("open h264 encoder failed", logging.KeyError, err)
		return
	}

	writer, err := newMP4Writer(cmd.basePath+".mp4", cmd.width, cmd.height, cmd.fps)
	if err != nil {
		w.log.Warn("mp4 writer open failed, falling back to avi", logging.KeyError, err)
		writer, err = newAVIWriter(cmd.basePath+".avi", cmd.width, cmd.height, cmd.fps)
		if err != nil {
			w.log.Error("avi fallback writer open failed, skipping clip", logging.KeyError, err)
			_ = enc.Close()
			return
		}
	}

	w.enc = enc
	w.writer = writer
	w.width = cmd.width
	w.height = cmd.height
	w.fps = cmd.fps
	w.frameN = 0
}

func (w *encoderWorker) handleFrame(cmd encoderCmd) {
	if w.writer == nil || w.enc == nil {
		return
	}

	bgr := cmd.bgr
	if cmd.issueActive {
		bgr = append([]byte(nil), bgr...)
		drawIssueMarker(bgr, w.width, w.height)
	}

	nalus, keyframe, err := w.enc.EncodeBGR(bgr, w.width, w.height)
	if err != nil {
		w.log.Error("encode frame failed", logging.KeyError, err)
		return
	}
	if len(nalus) == 0 {
		return
	}

	ptsUs := w.frameN * int64(time.Second/time.Microsecond) / int64(maxInt(1, w.fps))
	w.frameN++
	if err := w.writer.WriteFrame(nalus, keyframe, ptsUs); err != nil {
		w.log.Error("write frame failed", logging.KeyError, err)
	}
}

func (w *encoderWorker) handleStop() {
	if w.writer != nil {
		if err := w.writer.Close(); err != nil {
			w.log.Error("close clip writer failed", logging.KeyError, err)
		}
		w.writer = nil
	}
	if w.enc != nil {
		_ = w.enc.Close()
		w.enc = nil
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// drawIssueMarker overlays a yellow rectangular border directly into the
// BGR buffer, inset ~1.5% of the smaller dimension with a stroke ~0.6% of
// the smaller dimension.
func drawIssueMarker(bgr []byte, width, height int) {
	small := width
	if height < small {
		small = height
	}
	inset := maxInt(1, int(float64(small)*0.015))
	stroke := maxInt(1, int(float64(small)*0.006))

	const (
		bYellow = 0
		gYellow = 255
		rYellow = 255
	)

	setPixel := func(x, y int) {
		if x < 0 || x >= width || y < 0 || y >= height {
			return
		}
		i := (y*width + x) * 3
		if i+2 >= len(bgr) {
			return
		}
		bgr[i+0] = bYellow
		bgr[i+1] = gYellow
		bgr[i+2] = rYellow
	}

	x0, y0 := inset, inset
	x1, y1 := width-1-inset, height-1-inset
	for s := 0; s < stroke; s++ {
		for x := x0; x <= x1; x++ {
			setPixel(x, y0+s)
			setPixel(x, y1-s)
		}
		for y := y0; y <= y1; y++ {
			setPixel(x0+s, y)
			setPixel(x1-s, y)
		}
	}
}

// clipWriter is the capability the encoder worker needs from either
// container writer: accept an encoded frame's NAL units and finalize on
// Close.
type clipWriter interface {
	WriteFrame(nalus [][]byte, keyframe bool, ptsUs int64) error
	Close() error
}
