package progress

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/gosuri/uiprogress"
)

// Bar renders events as a terminal progress bar. The bar is sized by the
// Total of the first event it sees.
type Bar struct {
	once     sync.Once
	progress *uiprogress.Progress
	bar      atomic.Pointer[uiprogress.Bar]
	message  atomic.Value // string
}

// NewBar creates a bar writing to out.
func NewBar(out io.Writer) *Bar {
	p := uiprogress.New()
	p.SetOut(out)
	b := &Bar{progress: p}
	b.message.Store("")
	return b
}

// Notify advances the bar to e.Step.
func (b *Bar) Notify(e Event) {
	if e.Total <= 0 {
		return
	}
	b.message.Store(e.Progress)
	b.once.Do(func() {
		bar := b.progress.AddBar(e.Total).AppendCompleted()
		bar.PrependFunc(func(*uiprogress.Bar) string {
			return b.message.Load().(string)
		})
		b.bar.Store(bar)
		b.progress.Start()
	})
	if bar := b.bar.Load(); bar != nil {
		_ = bar.Set(e.Step)
	}
}

// Stop flushes and stops rendering.
func (b *Bar) Stop() {
	if b.bar.Load() != nil {
		b.progress.Stop()
	}
}
