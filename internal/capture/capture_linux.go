//go:build linux

package capture

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXext -lpthread

#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <X11/extensions/XShm.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <pthread.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    void* data;
    int width;
    int height;
    int bytesPerRow;
    int error;
} captureResult;

typedef struct {
    Display* display;
    Window root;
    int screen;
    int boundW;
    int boundH;
    int useShm;
    XShmSegmentInfo shmInfo;
    XImage* shmImage;
} captureCtx;

// openDisplay opens a fresh X11 connection for the calling thread and
// queries the virtual desktop bounds. The returned context must be closed
// with closeDisplay by the same thread.
captureCtx* openDisplay(void) {
    captureCtx* ctx = (captureCtx*)calloc(1, sizeof(captureCtx));
    if (ctx == NULL) {
        return NULL;
    }

    ctx->display = XOpenDisplay(NULL);
    if (ctx->display == NULL) {
        free(ctx);
        return NULL;
    }

    ctx->screen = DefaultScreen(ctx->display);
    ctx->root = RootWindow(ctx->display, ctx->screen);
    ctx->boundW = DisplayWidth(ctx->display, ctx->screen);
    ctx->boundH = DisplayHeight(ctx->display, ctx->screen);

    int major, minor;
    Bool pixmaps;
    if (XShmQueryVersion(ctx->display, &major, &minor, &pixmaps)) {
        ctx->shmImage = XShmCreateImage(
            ctx->display,
            DefaultVisual(ctx->display, ctx->screen),
            DefaultDepth(ctx->display, ctx->screen),
            ZPixmap, NULL, &ctx->shmInfo, ctx->boundW, ctx->boundH);

        if (ctx->shmImage != NULL) {
            ctx->shmInfo.shmid = shmget(IPC_PRIVATE,
                ctx->shmImage->bytes_per_line * ctx->shmImage->height,
                IPC_CREAT | 0777);

            if (ctx->shmInfo.shmid >= 0) {
                ctx->shmInfo.shmaddr = ctx->shmImage->data = shmat(ctx->shmInfo.shmid, 0, 0);
                ctx->shmInfo.readOnly = False;
                if (XShmAttach(ctx->display, &ctx->shmInfo)) {
                    ctx->useShm = 1;
                }
            }
            if (!ctx->useShm) {
                XDestroyImage(ctx->shmImage);
                ctx->shmImage = NULL;
            }
        }
    }

    return ctx;
}

void closeDisplay(captureCtx* ctx) {
    if (ctx == NULL) {
        return;
    }
    if (ctx->shmImage != NULL) {
        XShmDetach(ctx->display, &ctx->shmInfo);
        shmdt(ctx->shmInfo.shmaddr);
        shmctl(ctx->shmInfo.shmid, IPC_RMID, 0);
        XDestroyImage(ctx->shmImage);
    }
    if (ctx->display != NULL) {
        XCloseDisplay(ctx->display);
    }
    free(ctx);
}

captureResult grabRegion(captureCtx* ctx, int x, int y, int width, int height) {
    captureResult result = {0};
    if (ctx == NULL || ctx->display == NULL) {
        result.error = 1;
        return result;
    }

    XImage* image = NULL;
    int useFullShm = (ctx->useShm && x == 0 && y == 0 && width == ctx->boundW && height == ctx->boundH);

    if (useFullShm) {
        if (!XShmGetImage(ctx->display, ctx->root, ctx->shmImage, 0, 0, AllPlanes)) {
            result.error = 2;
            return result;
        }
        image = ctx->shmImage;
    } else {
        image = XGetImage(ctx->display, ctx->root, x, y, width, height, AllPlanes, ZPixmap);
        if (image == NULL) {
            result.error = 3;
            return result;
        }
    }

    result.width = useFullShm ? image->width : width;
    result.height = useFullShm ? image->height : height;
    result.bytesPerRow = result.width * 4;

    size_t dataSize = (size_t)result.bytesPerRow * result.height;
    result.data = malloc(dataSize);
    if (result.data == NULL) {
        if (!useFullShm) XDestroyImage(image);
        result.error = 4;
        return result;
    }

    unsigned char* dst = (unsigned char*)result.data;
    int depth = image->bits_per_pixel;

    for (int iy = 0; iy < result.height; iy++) {
        for (int ix = 0; ix < result.width; ix++) {
            unsigned long pixel = XGetPixel(image, ix, iy);
            int idx = iy * result.bytesPerRow + ix * 4;
            if (depth == 32 || depth == 24) {
                // BGRA byte order.
                dst[idx+0] = pixel & 0xFF;          // B
                dst[idx+1] = (pixel >> 8) & 0xFF;   // G
                dst[idx+2] = (pixel >> 16) & 0xFF;  // R
                dst[idx+3] = 255;                    // A
            } else if (depth == 16) {
                dst[idx+0] = (pixel & 0x1F) * 255 / 31;
                dst[idx+1] = ((pixel >> 5) & 0x3F) * 255 / 63;
                dst[idx+2] = ((pixel >> 11) & 0x1F) * 255 / 31;
                dst[idx+3] = 255;
            }
        }
    }

    if (!useFullShm) {
        XDestroyImage(image);
    }
    return result;
}

void freeCaptureBuf(void* data) {
    if (data != NULL) free(data);
}

unsigned long currentThreadID(void) {
    return (unsigned long)pthread_self();
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/kvandebeek/motiondetector/internal/region"
)

// x11Capturer captures the virtual desktop via Xlib/XShm. Xlib connections
// are not safe to share across OS threads, so each OS thread that calls Grab
// gets its own connection, keyed by its real pthread id (obtained via cgo,
// not a Go goroutine id which carries no thread affinity guarantee).
type x11Capturer struct {
	mu    sync.Mutex
	byTID map[C.ulong]*C.captureCtx
}

func newX11Capturer() (Capturer, error) {
	return &x11Capturer{byTID: make(map[C.ulong]*C.captureCtx)}, nil
}

func (c *x11Capturer) contextForThread() (*C.captureCtx, error) {
	tid := C.currentThreadID()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx, ok := c.byTID[tid]; ok {
		return ctx, nil
	}

	ctx := C.openDisplay()
	if ctx == nil {
		return nil, fmt.Errorf("%w: failed to open X11 display (is DISPLAY set?)", ErrDisplayUnavailable)
	}
	c.byTID[tid] = ctx
	return ctx, nil
}

// Grab implements Capturer.
func (c *x11Capturer) Grab(r region.Region) (*Frame, error) {
	ctx, err := c.contextForThread()
	if err != nil {
		return nil, err
	}

	boundW := int(ctx.boundW)
	boundH := int(ctx.boundH)

	clamped, err := clampRegion(r, boundW, boundH)
	if err != nil {
		return nil, err
	}

	result := C.grabRegion(ctx, C.int(clamped.X), C.int(clamped.Y), C.int(clamped.Width), C.int(clamped.Height))
	if result.error != 0 {
		return nil, translateError(int(result.error))
	}
	defer C.freeCaptureBuf(result.data)

	width := int(result.width)
	height := int(result.height)
	stride := int(result.bytesPerRow)
	size := stride * height

	pix := make([]byte, size)
	copy(pix, unsafe.Slice((*byte)(result.data), size))

	return &Frame{Width: width, Height: height, Stride: stride, Pix: pix}, nil
}

// ReleaseThread implements Capturer: releases the X11 connection owned by
// the calling OS thread, if any.
func (c *x11Capturer) ReleaseThread() {
	tid := C.currentThreadID()

	c.mu.Lock()
	ctx, ok := c.byTID[tid]
	if ok {
		delete(c.byTID, tid)
	}
	c.mu.Unlock()

	if ok {
		C.closeDisplay(ctx)
	}
}

// Monitors implements Capturer. X11 without Xinerama/XRandR exposes the
// virtual desktop as one rectangle, so a single monitor entry is returned.
func (c *x11Capturer) Monitors() ([]Monitor, error) {
	ctx, err := c.contextForThread()
	if err != nil {
		return nil, err
	}
	return []Monitor{{
		ID:     0,
		Left:   0,
		Top:    0,
		Width:  int(ctx.boundW),
		Height: int(ctx.boundH),
	}}, nil
}

// Close implements Capturer: releases every thread's connection.
func (c *x11Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tid, ctx := range c.byTID {
		C.closeDisplay(ctx)
		delete(c.byTID, tid)
	}
	return nil
}

func translateError(code int) error {
	switch code {
	case 1:
		return fmt.Errorf("capture context not initialized")
	case 2:
		return fmt.Errorf("XShmGetImage failed")
	case 3:
		return fmt.Errorf("XGetImage failed")
	case 4:
		return fmt.Errorf("capture buffer allocation failed")
	default:
		return fmt.Errorf("unknown capture error: %d", code)
	}
}

var _ Capturer = (*x11Capturer)(nil)
