package recorder

import (
	"encoding/binary"
	"fmt"
	"os"
)

// aviWriter is a minimal RIFF/AVI muxer used only as the fallback container
// when the MP4 writer fails to open. It wraps each H.264 Annex-B frame in
// an "00dc" stream chunk inside a growing "movi" list and rewrites the
// RIFF/movi sizes and a trailing idx1 index on Close. The pack carries no
// AVI muxing library (mp4ff only writes ISO-BMFF), so this is hand-rolled
// on encoding/binary, justified as stdlib in DESIGN.md.
type aviWriter struct {
	f      *os.File
	w, h   int
	fps    int
	frames int

	riffSizePos int64
	moviSizePos int64
	moviStart   int64
	index       []aviIndexEntry
}

type aviIndexEntry struct {
	offsetFromMovi uint32
	size           uint32
}

func newAVIWriter(path string, width, height, fps int) (clipWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w := &aviWriter{f: f, w: width, h: height, fps: fps}
	if err := w.writeHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *aviWriter) writeHeader() error {
	if _, err := w.f.WriteString("RIFF"); err != nil {
		return err
	}
	w.riffSizePos = w.tell()
	if err := w.writeU32(0); err != nil { // placeholder, patched on Close
		return err
	}
	if _, err := w.f.WriteString("AVI "); err != nil {
		return err
	}

	if err := w.writeListHeader("hdrl", 4+8+56+8+4+8+56+8+4+40); err != nil {
		// Size bookkeeping for a minimal single-stream hdrl is approximate;
		// readers (ffprobe/VLC) tolerate a slightly oversized hdrl list.
		return err
	}
	if err := w.writeAVIH(); err != nil {
		return err
	}
	if err := w.writeListHeader("strl", 8+56+8+40); err != nil {
		return err
	}
	if err := w.writeSTRH(); err != nil {
		return err
	}
	if err := w.writeSTRF(); err != nil {
		return err
	}

	if err := w.writeChunkHeader("LIST", 0); err != nil {
		return err
	}
	w.moviSizePos = w.tell() - 4
	if _, err := w.f.WriteString("movi"); err != nil {
		return err
	}
	w.moviStart = w.tell()
	return nil
}

func (w *aviWriter) writeListHeader(fourCC string, size uint32) error {
	if _, err := w.f.WriteString("LIST"); err != nil {
		return err
	}
	if err := w.writeU32(size + 4); err != nil {
		return err
	}
	_, err := w.f.WriteString(fourCC)
	return err
}

func (w *aviWriter) writeChunkHeader(fourCC string, size uint32) error {
	if _, err := w.f.WriteString(fourCC); err != nil {
		return err
	}
	return w.writeU32(size)
}

func (w *aviWriter) writeAVIH() error {
	if _, err := w.f.WriteString("avih"); err != nil {
		return err
	}
	if err := w.writeU32(56); err != nil {
		return err
	}
	microSecPerFrame := uint32(1000000 / maxInt(1, w.fps))
	fields := []uint32{
		microSecPerFrame, // dwMicroSecPerFrame
		0,                // dwMaxBytesPerSec
		0,                // dwPaddingGranularity
		0x10,             // dwFlags: AVIF_HASINDEX
		0,                // dwTotalFrames (left 0; Close does not patch it)
		0,                // dwInitialFrames
		1,                // dwStreams
		0,                // dwSuggestedBufferSize
		uint32(w.w),      // dwWidth
		uint32(w.h),      // dwHeight
		0, 0, 0, 0,       // dwReserved[4]
	}
	for _, v := range fields {
		if err := w.writeU32(v); err != nil {
			return err
		}
	}
	return nil
}

func (w *aviWriter) writeSTRH() error {
	if _, err := w.f.WriteString("strh"); err != nil {
		return err
	}
	if err := w.writeU32(56); err != nil {
		return err
	}
	if _, err := w.f.WriteString("vids"); err != nil {
		return err
	}
	if _, err := w.f.WriteString("H264"); err != nil {
		return err
	}
	fields := []uint32{
		0, 0, 0, // dwFlags, wPriority+wLanguage, dwInitialFrames
		1, uint32(w.fps), // dwScale, dwRate (rate/scale = fps)
		0, 0, // dwStart, dwLength (left 0; Close does not patch them)
		0, 0, // dwSuggestedBufferSize, dwQuality
		0, // dwSampleSize
	}
	for _, v := range fields {
		if err := w.writeU32(v); err != nil {
			return err
		}
	}
	// rcFrame (left,top,right,bottom as int16 pairs packed in two uint32s)
	if err := w.writeU32(0); err != nil {
		return err
	}
	return w.writeU32(uint32(w.w) | uint32(w.h)<<16)
}

func (w *aviWriter) writeSTRF() error {
	if _, err := w.f.WriteString("strf"); err != nil {
		return err
	}
	if err := w.writeU32(40); err != nil {
		return err
	}
	fields := []uint32{
		40,                   // biSize
		uint32(w.w),          // biWidth
		uint32(w.h),          // biHeight
		1 | (24 << 16),       // biPlanes(1) | biBitCount(24)<<16
		0x34363248,           // biCompression 'H264'
		uint32(w.w * w.h * 3), // biSizeImage
		0, 0, 0, 0,
	}
	for _, v := range fields {
		if err := w.writeU32(v); err != nil {
			return err
		}
	}
	return nil
}

func (w *aviWriter) WriteFrame(nalus [][]byte, _ bool, _ int64) error {
	payload := muxAVCCSample(nalus)

	offset := uint32(w.tell() - w.moviStart)
	if err := w.writeChunkHeader("00dc", uint32(len(payload))); err != nil {
		return err
	}
	if _, err := w.f.Write(payload); err != nil {
		return err
	}
	if len(payload)%2 == 1 {
		if _, err := w.f.Write([]byte{0}); err != nil {
			return err
		}
	}

	w.index = append(w.index, aviIndexEntry{offsetFromMovi: offset, size: uint32(len(payload))})
	w.frames++
	return nil
}

func (w *aviWriter) Close() error {
	moviEnd := w.tell()

	if err := w.writeChunkHeader("idx1", uint32(len(w.index)*16)); err != nil {
		return err
	}
	for _, e := range w.index {
		if _, err := w.f.WriteString("00dc"); err != nil {
			return err
		}
		if err := w.writeU32(0x10); err != nil { // AVIIF_KEYFRAME
			return err
		}
		if err := w.writeU32(e.offsetFromMovi); err != nil {
			return err
		}
		if err := w.writeU32(e.size); err != nil {
			return err
		}
	}

	riffEnd := w.tell()
	if err := w.patchU32(w.moviSizePos, uint32(moviEnd-w.moviStart+4)); err != nil {
		return err
	}
	if err := w.patchU32(w.riffSizePos, uint32(riffEnd-w.riffSizePos-4)); err != nil {
		return err
	}
	return w.f.Close()
}

func (w *aviWriter) tell() int64 {
	off, _ := w.f.Seek(0, os.SEEK_CUR)
	return off
}

func (w *aviWriter) writeU32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.f.Write(buf[:])
	return err
}

func (w *aviWriter) patchU32(pos int64, v uint32) error {
	cur := w.tell()
	if _, err := w.f.Seek(pos, os.SEEK_SET); err != nil {
		return err
	}
	if err := w.writeU32(v); err != nil {
		return err
	}
	_, err := w.f.Seek(cur, os.SEEK_SET)
	return err
}
