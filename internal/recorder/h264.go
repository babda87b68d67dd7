package recorder

import (
	"fmt"

	openh264 "github.com/y9o/go-openh264"
)

// h264Encoder is the minimal capability this package needs from an H.264
// encoder, kept as a small interface so the concrete codec can be swapped
// or faked in tests.
type h264Encoder interface {
	// EncodeBGR encodes one BGR24 frame and returns zero or more Annex-B
	// NAL units (start-code delimited), along with whether the frame was
	// encoded as a keyframe.
	EncodeBGR(bgr []byte, width, height int) (nalus [][]byte, keyframe bool, err error)
	Close() error
}

// openh264Encoder wraps github.com/y9o/go-openh264's encoder, converting
// BGR input to the planar YUV420 the codec consumes.
type openh264Encoder struct {
	enc           *openh264.Encoder
	width, height int
	frameIndex    int
}

func newOpenH264Encoder(width, height int, bitrateBps, fps int) (h264Encoder, error) {
	enc, err := openh264.NewEncoder(&openh264.Config{
		Width:     width,
		Height:    height,
		BitRate:   bitrateBps,
		MaxFrame:  fps,
		FrameRate: float32(fps),
	})
	if err != nil {
		return nil, fmt.Errorf("new openh264 encoder: %w", err)
	}
	return &openh264Encoder{enc: enc, width: width, height: height}, nil
}

func (e *openh264Encoder) EncodeBGR(bgr []byte, width, height int) ([][]byte, bool, error) {
	yuv := bgrToYUV420(bgr, width, height)
	nalus, err := e.enc.Encode(yuv)
	if err != nil {
		return nil, false, fmt.Errorf("encode frame: %w", err)
	}
	keyframe := e.frameIndex == 0
	e.frameIndex++
	return splitAnnexB(nalus), keyframe, nil
}

func (e *openh264Encoder) Close() error {
	return e.enc.Close()
}

// bgrToYUV420 converts interleaved BGR24 to planar I420 (YUV 4:2:0) using the
// BT.601 coefficients, matching the luma conversion used by the motion
// classifier.
func bgrToYUV420(bgr []byte, width, height int) []byte {
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	out := make([]byte, ySize+2*cSize)
	yPlane := out[:ySize]
	uPlane := out[ySize : ySize+cSize]
	vPlane := out[ySize+cSize:]

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3
			b := int(bgr[i+0])
			g := int(bgr[i+1])
			r := int(bgr[i+2])
			yPlane[y*width+x] = byte(clampByte((77*r + 150*g + 29*b) >> 8))

			if x%2 == 0 && y%2 == 0 {
				cu := clampByte(((-43*r - 84*g + 127*b) >> 8) + 128)
				cv := clampByte(((127*r - 106*g - 21*b) >> 8) + 128)
				ci := (y/2)*(width/2) + x/2
				uPlane[ci] = byte(cu)
				vPlane[ci] = byte(cv)
			}
		}
	}
	return out
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// splitAnnexB splits an Annex-B byte stream (sequences of NAL units each
// preceded by a 00 00 01 or 00 00 00 01 start code) into individual NAL
// units without their start codes.
func splitAnnexB(stream []byte) [][]byte {
	var out [][]byte
	starts := findStartCodes(stream)
	for i, s := range starts {
		end := len(stream)
		if i+1 < len(starts) {
			end = starts[i+1].pos
		}
		nalu := stream[s.pos+s.len : end]
		if len(nalu) > 0 {
			out = append(out, nalu)
		}
	}
	return out
}

type startCode struct {
	pos int
	len int
}

func findStartCodes(stream []byte) []startCode {
	var out []startCode
	for i := 0; i+3 <= len(stream); i++ {
		if stream[i] == 0 && stream[i+1] == 0 {
			if stream[i+2] == 1 {
				out = append(out, startCode{pos: i, len: 3})
				i += 2
			} else if i+4 <= len(stream) && stream[i+2] == 0 && stream[i+3] == 1 {
				out = append(out, startCode{pos: i, len: 4})
				i += 3
			}
		}
	}
	return out
}
