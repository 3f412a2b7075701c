// Package progress reports how many bytes of a disk image have been
// written.
package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gosuri/uilive"
	"github.com/nellos/nellboot/humanize"
)

var bytesTransferred uint64

func Reset() uint64 {
	return atomic.SwapUint64(&bytesTransferred, 0)
}

func Transferred() uint64 {
	return atomic.LoadUint64(&bytesTransferred)
}

// Writer counts the bytes written to it, e.g. as the second half of an
// io.TeeReader.
type Writer struct{}

func (w Writer) Write(p []byte) (n int, err error) {
	atomic.AddUint64(&bytesTransferred, uint64(len(p)))
	return len(p), nil
}

type Reporter struct {
	total uint64

	mu     sync.Mutex
	status string
}

func (p *Reporter) SetStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *Reporter) SetTotal(total uint64) {
	atomic.StoreUint64(&p.total, total)
}

func (p *Reporter) getStatus() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Reporter) line(transferred, bytesPerS uint64) string {
	rate := humanize.BPS(bytesPerS)
	status := rate
	if total := atomic.LoadUint64(&p.total); total > 0 {
		pct := float64(transferred) / float64(total) * 100
		status = fmt.Sprintf("%02.2f%% of %s, writing at %s",
			pct,
			humanize.Bytes(total),
			rate)
	}
	return fmt.Sprintf("[%s] %s", p.getStatus(), status)
}

// Report updates a live status line every second until ctx is done.
func (p *Reporter) Report(ctx context.Context) {
	w := uilive.New()
	w.Start()
	defer w.Stop()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	last := Transferred()
	for {
		select {
		case <-ticker.C:
			transferred := Transferred()
			if transferred < last {
				// transferred was reset
				last = 0
			}
			bytesPerS := transferred - last
			last = transferred
			fmt.Fprintln(w, p.line(transferred, bytesPerS))
		case <-ctx.Done():
			fmt.Fprintln(w, p.line(Transferred(), 0))
			w.Flush()
			return
		}
	}
}
