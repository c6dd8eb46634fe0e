package detections

import (
	"image"
	"runtime"
	"sync"
)

// channelProcessor writes an NRGBA image into a planar RGB float tensor
// (CHW layout) scaled to [0,1].
type channelProcessor struct {
	width, height int
	channelSize   int
	numWorkers    int
}

func newChannelProcessor(width, height int) *channelProcessor {
	workers := runtime.GOMAXPROCS(0)
	if workers > height {
		workers = height
	}
	if workers < 1 {
		workers = 1
	}
	return &channelProcessor{
		width:       width,
		height:      height,
		channelSize: width * height,
		numWorkers:  workers,
	}
}

func (cp *channelProcessor) processChannels(img *image.NRGBA, dst []float32) {
	rowsPerWorker := cp.height / cp.numWorkers

	var wg sync.WaitGroup
	wg.Add(cp.numWorkers)

	for w := 0; w < cp.numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if w == cp.numWorkers-1 {
			endRow = cp.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride : y*img.Stride+cp.width*4]
				offset := y * cp.width
				for x := 0; x < cp.width; x++ {
					i := offset + x
					p := src[x*4 : x*4+3]
					dst[i] = float32(p[0]) / 255.0
					dst[cp.channelSize+i] = float32(p[1]) / 255.0
					dst[cp.channelSize*2+i] = float32(p[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
