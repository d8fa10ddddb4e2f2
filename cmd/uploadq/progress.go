package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"uploadq/internal/queue"
	"uploadq/internal/workflow"
)

const nameTailLength = 15

// progressView renders coordinator events for a terminal. Interactive
// output gets one aggregate progress bar with outcome lines printed above
// it; otherwise only outcome lines are written.
type progressView struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
	nameLen  int
	bar      *progressbar.ProgressBar

	items map[string]*itemView
	order []string
}

type itemView struct {
	name     string
	size     int64
	loaded   int64
	status   queue.Status
	message  string
	addedAt  time.Time
	started  time.Time
	finished time.Time
	restarts int
}

func newProgressView(out io.Writer, interactive, colorize bool, nameLen int) *progressView {
	v := &progressView{
		out:      out,
		colorize: colorize,
		nameLen:  nameLen,
		items:    make(map[string]*itemView),
	}
	if interactive {
		v.bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("uploading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionEnableColorCodes(colorize),
		)
	}
	return v
}

// HandleEvent implements workflow.Subscriber.
func (v *progressView) HandleEvent(evt workflow.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	it, ok := v.items[evt.Item.ID]
	if !ok {
		it = &itemView{name: evt.Item.Name, size: evt.Item.Size, addedAt: evt.Time}
		v.items[evt.Item.ID] = it
		v.order = append(v.order, evt.Item.ID)
	}
	it.status = evt.Item.Status

	switch evt.Type {
	case workflow.EventAdded:
		v.resizeBar()
	case workflow.EventProgress:
		if it.started.IsZero() {
			it.started = evt.Time
		}
		if evt.Loaded >= 0 {
			it.loaded = evt.Loaded
		}
	case workflow.EventCompleted:
		if evt.Item.Status == queue.StatusRetrying {
			it.restarts++
			it.loaded = 0
		}
	case workflow.EventSucceeded:
		it.finished = evt.Time
		if it.size >= 0 {
			it.loaded = it.size
		}
		v.printLine(renderStatusLine(v.displayName(it.name), statusOK, v.describeSuccess(it), v.colorize))
	case workflow.EventFailed:
		it.finished = evt.Time
		it.message = evt.Item.ErrorMessage
		v.printLine(renderStatusLine(v.displayName(it.name), statusError, it.message, v.colorize))
	case workflow.EventCancelled:
		it.finished = evt.Time
		it.message = evt.Item.ErrorMessage
		v.printLine(renderStatusLine(v.displayName(it.name), statusWarn, "cancelled", v.colorize))
	}
	v.updateBar()
}

func (v *progressView) describeSuccess(it *itemView) string {
	size := "unknown size"
	if it.size >= 0 {
		size = humanize.IBytes(uint64(it.size))
	}
	if speed := it.speed(); speed != "" {
		return size + " at " + speed
	}
	return size
}

// speed returns the average transfer rate, or "" when it cannot be computed.
func (it *itemView) speed() string {
	start := it.started
	if start.IsZero() {
		start = it.addedAt
	}
	if it.finished.IsZero() || start.IsZero() || it.size <= 0 {
		return ""
	}
	elapsed := it.finished.Sub(start)
	if elapsed <= 0 {
		return ""
	}
	rate := float64(it.size) / elapsed.Seconds()
	return humanize.IBytes(uint64(rate)) + "/s"
}

func (v *progressView) printLine(line string) {
	if v.bar != nil {
		_ = v.bar.Clear()
	}
	fmt.Fprintln(v.out, line)
}

func (v *progressView) resizeBar() {
	if v.bar == nil {
		return
	}
	var total int64
	for _, id := range v.order {
		it := v.items[id]
		if it.size < 0 {
			continue
		}
		total += it.size
	}
	if total > 0 {
		v.bar.ChangeMax64(total)
	}
}

func (v *progressView) updateBar() {
	if v.bar == nil {
		return
	}
	var loaded int64
	done := 0
	for _, id := range v.order {
		it := v.items[id]
		if it.size >= 0 && it.loaded > 0 {
			loaded += it.loaded
		}
		if it.status.IsTerminal() {
			done++
		}
	}
	v.bar.Describe(fmt.Sprintf("%d/%d files", done, len(v.order)))
	_ = v.bar.Set64(loaded)
}

// finish clears the progress bar.
func (v *progressView) finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bar != nil {
		_ = v.bar.Finish()
	}
}

type uploadSummary struct {
	total     int
	succeeded int
	failed    int
	cancelled int
	pending   int
	bytes     int64
}

func (s uploadSummary) String() string {
	return fmt.Sprintf("%d succeeded, %d failed, %d cancelled", s.succeeded, s.failed, s.cancelled)
}

// summary renders one row per file and counts outcomes.
func (v *progressView) summary() (string, uploadSummary) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var counts uploadSummary
	rows := make([][]string, 0, len(v.order))
	for _, id := range v.order {
		it := v.items[id]
		counts.total++
		switch it.status {
		case queue.StatusSucceeded:
			counts.succeeded++
			if it.size > 0 {
				counts.bytes += it.size
			}
		case queue.StatusFailed:
			counts.failed++
		case queue.StatusCancelled:
			counts.cancelled++
		default:
			counts.pending++
		}
		size := "-"
		if it.size >= 0 {
			size = humanize.IBytes(uint64(it.size))
		}
		speed := it.speed()
		if speed == "" || it.status != queue.StatusSucceeded {
			speed = "-"
		}
		rows = append(rows, []string{
			v.displayName(it.name),
			size,
			string(it.status),
			speed,
			fmt.Sprintf("%d", it.restarts),
		})
	}
	headers := []string{"File", "Size", "Status", "Speed", "Restarts"}
	aligns := []columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight}
	footer := []string{fmt.Sprintf("%d files", counts.total), "", counts.String(), "", ""}
	return renderTableWithFooter(headers, rows, footer, aligns), counts
}

func (v *progressView) displayName(name string) string {
	return truncateName(name, v.nameLen, nameTailLength)
}

// truncateName shortens names longer than maxLen to a head, "..." and the
// last tail characters, keeping the extension visible.
func truncateName(name string, maxLen, tail int) string {
	runes := []rune(name)
	if maxLen <= 0 || len(runes) <= maxLen {
		return name
	}
	head := maxLen - tail - 1
	if head < 1 || tail < 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:head]) + "..." + string(runes[len(runes)-tail:])
}
