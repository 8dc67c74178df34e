package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/moffa90/go-qpatch/inplace"
)

// progressBar renders update progress on a terminal line.
type progressBar struct {
	w     io.Writer
	width int
	drawn bool
}

func newProgressBar(w io.Writer, width int) *progressBar {
	return &progressBar{w: w, width: width}
}

func (pb *progressBar) render(percent int) string {
	filled := pb.width * percent / 100
	if filled > pb.width {
		filled = pb.width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", pb.width-filled) + "]"
}

// Update draws p. It is an inplace.ProgressCallback.
func (pb *progressBar) Update(p inplace.Progress) {
	var eta time.Duration
	if p.Percent > 0 {
		eta = p.ElapsedTime*100/time.Duration(p.Percent) - p.ElapsedTime
	}
	fmt.Fprintf(pb.w, "\r\033[K%s %3d%% | %s / %s | committed %s | ETA %s",
		pb.render(p.Percent),
		p.Percent,
		units.BytesSize(float64(p.Written)),
		units.BytesSize(float64(p.Total)),
		units.BytesSize(float64(p.Committed)),
		eta.Round(time.Millisecond),
	)
	pb.drawn = true
}

// Done ends the progress line.
func (pb *progressBar) Done() {
	if pb.drawn {
		fmt.Fprintln(pb.w)
	}
}
