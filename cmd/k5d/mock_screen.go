package main

import (
	"time"

	"github.com/dougsko/k5link/pkg/frame"
	"github.com/dougsko/k5link/pkg/session"
)

const mockFrameInterval = 100 * time.Millisecond

// mockScreen plays screencast frames into the mock radio while a screencast
// holds the stream: one screenshot, then a diff per tick that sweeps a bar
// across the display
func (d *K5Daemon) mockScreen(mock *session.MockSession) {
	defer d.wg.Done()

	ticker := time.NewTicker(mockFrameInterval)
	defer ticker.Stop()

	sentScreenshot := false
	column := 0

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if !mock.Paused() {
				sentScreenshot = false
				continue
			}

			if !sentScreenshot {
				mock.Emit(frame.Encode(blankScreen(), true))
				sentScreenshot = true
				continue
			}

			mock.Emit(frame.Encode(sweep(column), true))
			column = (column + 1) % frame.MaxChunks
		}
	}
}

func blankScreen() frame.Frame {
	return frame.Frame{Kind: frame.KindScreenshot, Bitmap: make([]byte, frame.FramebufferSize)}
}

// sweep lights chunk column and clears the one before it
func sweep(column int) frame.Frame {
	prev := (column + frame.MaxChunks - 1) % frame.MaxChunks
	lit := frame.Chunk{Index: column}
	for i := range lit.Data {
		lit.Data[i] = 0xFF
	}
	return frame.Diff(frame.Chunk{Index: prev}, lit)
}
