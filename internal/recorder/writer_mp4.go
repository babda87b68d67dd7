package recorder

import (
	"bytes"
	"fmt"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
)

const mp4Timescale = 90000

// mp4Writer muxes H.264 Annex-B NAL units into a fragmented MP4 file,
// grounded on the init-segment-then-fragments shape used for live fMP4
// streaming elsewhere in the pack, but writing to a single on-disk file
// instead of a chunked HTTP response.
type mp4Writer struct {
	f    *os.File
	fps  int
	w, h int

	sps, pps    []byte
	initialized bool
	frameNum    uint32
	lastPtsUs   int64
}

func newMP4Writer(path string, width, height, fps int) (clipWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &mp4Writer{f: f, fps: fps, w: width, h: height}, nil
}

func (m *mp4Writer) WriteFrame(nalus [][]byte, keyframe bool, ptsUs int64) error {
	var frameNalus [][]byte
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case 7: // SPS
			m.sps = append([]byte(nil), nalu...)
			continue
		case 8: // PPS
			m.pps = append([]byte(nil), nalu...)
			continue
		}
		frameNalus = append(frameNalus, nalu)
	}

	if !m.initialized {
		if m.sps == nil || m.pps == nil {
			return nil
		}
		if err := m.writeInitSegment(); err != nil {
			return err
		}
		m.initialized = true
		m.lastPtsUs = ptsUs
	}

	if len(frameNalus) == 0 {
		return nil
	}
	return m.writeMediaSegment(frameNalus, keyframe, ptsUs)
}

func (m *mp4Writer) writeInitSegment() error {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(mp4Timescale, "video", "und")

	avcC, err := mp4.CreateAvcC([][]byte{m.sps}, [][]byte{m.pps}, true)
	if err != nil {
		return fmt.Errorf("create avcC: %w", err)
	}
	avcx := mp4.CreateVisualSampleEntryBox("avc1", uint16(m.w), uint16(m.h), avcC)
	init.Moov.Trak.Mdia.Minf.Stbl.Stsd.AddChild(avcx)

	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		return fmt.Errorf("encode init segment: %w", err)
	}
	if _, err := m.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}
	return nil
}

func (m *mp4Writer) writeMediaSegment(nalus [][]byte, keyframe bool, ptsUs int64) error {
	m.frameNum++

	sampleDur := uint32(mp4Timescale / maxInt(1, m.fps))
	if m.lastPtsUs > 0 && ptsUs > m.lastPtsUs {
		sampleDur = uint32((ptsUs - m.lastPtsUs) * mp4Timescale / 1_000_000)
		if sampleDur == 0 {
			sampleDur = uint32(mp4Timescale / maxInt(1, m.fps))
		}
	}
	m.lastPtsUs = ptsUs

	sampleData := muxAVCCSample(nalus)

	frag, err := mp4.CreateFragment(m.frameNum, 1)
	if err != nil {
		return fmt.Errorf("create fragment: %w", err)
	}

	flags := mp4.NonSyncSampleFlags
	if keyframe {
		flags = mp4.SyncSampleFlags
	}
	frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Dur:   sampleDur,
			Size:  uint32(len(sampleData)),
		},
		DecodeTime: uint64(m.frameNum-1) * uint64(sampleDur),
		Data:       sampleData,
	})

	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return fmt.Errorf("encode fragment: %w", err)
	}
	if _, err := m.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	return nil
}

// muxAVCCSample length-prefixes each NAL unit (4-byte big-endian size),
// the AVCC sample format fragmented MP4 expects, used when the helper
// stream-to-sample conversion in avc doesn't apply (nalus already split).
func muxAVCCSample(nalus [][]byte) []byte {
	var out []byte
	for _, n := range nalus {
		var lenBuf [4]byte
		length := uint32(len(n))
		lenBuf[0] = byte(length >> 24)
		lenBuf[1] = byte(length >> 16)
		lenBuf[2] = byte(length >> 8)
		lenBuf[3] = byte(length)
		out = append(out, lenBuf[:]...)
		out = append(out, n...)
	}
	return out
}

func (m *mp4Writer) Close() error {
	return m.f.Close()
}
