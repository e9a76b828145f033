package main

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/i5heu/cgdist/pkg/distance"
)

// progress draws one bar per engine phase. Bars are created on the first
// report of a phase, when its total is known.
type progress struct {
	mu   sync.Mutex
	p    *mpb.Progress
	bars map[distance.Phase]*mpb.Bar
}

func newProgress(w io.Writer) *progress {
	return &progress{
		p:    mpb.New(mpb.WithWidth(40), mpb.WithOutput(w)),
		bars: make(map[distance.Phase]*mpb.Bar),
	}
}

// update counts one finished unit; done may arrive out of order.
func (pr *progress) update(phase distance.Phase, _, total int) {
	pr.mu.Lock()
	bar, ok := pr.bars[phase]
	if !ok {
		name := string(phase) + ": "
		bar = pr.p.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len("precompute: "), C: decor.DindentRight}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.AverageETA(decor.ET_STYLE_GO),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)
		pr.bars[phase] = bar
	}
	pr.mu.Unlock()
	bar.Increment()
}

// wait drops unfinished bars, e.g. after cancellation, and flushes output.
func (pr *progress) wait() {
	pr.mu.Lock()
	for _, bar := range pr.bars {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	pr.mu.Unlock()
	pr.p.Wait()
}
