// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sustainable-computing-io/corewatt/internal/monitor"
	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

const (
	ansiCursorUp   = "\x1b[%dA"
	ansiClearBelow = "\x1b[J"
)

// Renderer draws power readings as a table that is redrawn in place
type Renderer struct {
	out  io.Writer
	ansi bool

	mu sync.Mutex
	// lines written by the previous render
	lines int
	// set when other output reached the terminal after the previous render
	interrupted bool
}

var _ monitor.Renderer = (*Renderer)(nil)

type Opts struct {
	out  io.Writer
	ansi bool
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		out:  os.Stdout,
		ansi: true,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

func WithOutput(out io.Writer) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

// WithANSI enables redrawing in place; without it every reading is appended
func WithANSI(enabled bool) OptionFn {
	return func(o *Opts) {
		o.ansi = enabled
	}
}

func NewRenderer(applyOpts ...OptionFn) *Renderer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Renderer{
		out:  opts.out,
		ansi: opts.ansi,
	}
}

func (r *Renderer) Name() string {
	return "stdout"
}

// Interrupts wraps w, typically the log output, when it shares the terminal
// with the renderer. Anything written through it ends the in-place redraw:
// the next reading is drawn below that output instead of over it.
func (r *Renderer) Interrupts(w io.Writer) io.Writer {
	return &interruptWriter{r: r, w: w}
}

type interruptWriter struct {
	r *Renderer
	w io.Writer
}

func (iw *interruptWriter) Write(p []byte) (int, error) {
	iw.r.mu.Lock()
	iw.r.interrupted = true
	iw.r.mu.Unlock()
	return iw.w.Write(p)
}

// Render draws reading, replacing the previous drawing when ANSI is enabled
// and nothing else was written to the terminal since
func (r *Renderer) Render(reading *monitor.PowerReading, topo *topology.Topology) error {
	var buf bytes.Buffer
	if err := write(&buf, reading, topo); err != nil {
		return err
	}

	r.mu.Lock()
	redraw := r.ansi && r.lines > 0 && !r.interrupted
	r.interrupted = false
	r.mu.Unlock()

	if redraw {
		fmt.Fprintf(r.out, ansiCursorUp, r.lines)
		fmt.Fprint(r.out, ansiClearBelow)
	}
	r.lines = bytes.Count(buf.Bytes(), []byte("\n"))

	if _, err := r.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write power reading: %w", err)
	}
	return nil
}

type coreRow struct {
	id    int
	power float64
}

func write(out io.Writer, reading *monitor.PowerReading, topo *topology.Topology) error {
	groups := map[topology.CoreType][]coreRow{}
	for id, c := range reading.Cores {
		groups[c.Type] = append(groups[c.Type], coreRow{id: id, power: c.Power.Watts()})
	}
	for _, rows := range groups {
		slices.SortFunc(rows, func(a, b coreRow) int { return a.id - b.id })
	}

	estimated := ""
	if reading.Estimated {
		estimated = " (Estimated)"
	}
	fmt.Fprintf(out, "Package: %6.2f W | Cores Total: %6.2f W%s\n",
		reading.Package.Watts(), reading.CoresTotal().Watts(), estimated)

	hybrid := len(groups[topology.CoreTypePerformance]) > 0 && len(groups[topology.CoreTypeEfficiency]) > 0
	var summary []string
	rows := [][]string{}
	for _, ct := range []topology.CoreType{topology.CoreTypePerformance, topology.CoreTypeEfficiency, topology.CoreTypeUnknown} {
		cores := groups[ct]
		// unknown cores are only listed when the part is not hybrid
		if len(cores) == 0 || (ct == topology.CoreTypeUnknown && hybrid) {
			continue
		}
		summary = append(summary, fmt.Sprintf("%s: %.2f W", groupName(ct), reading.TypeTotal(ct).Watts()))
		rows = append(rows, pairRows(ct, cores)...)
	}
	if len(summary) > 0 {
		fmt.Fprintln(out, strings.Join(summary, " | "))
	}

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Type", "Core", "Power(W)", "Core", "Power(W)"})
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to build power table: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render power table: %w", err)
	}

	if topo != nil && len(reading.Cores) < topo.CoreCount() {
		fmt.Fprintf(out, "%d of %d cores reporting\n", len(reading.Cores), topo.CoreCount())
	}
	return nil
}

// pairRows lays cores out two per row
func pairRows(ct topology.CoreType, cores []coreRow) [][]string {
	var rows [][]string
	for i := 0; i < len(cores); i += 2 {
		row := []string{ct.String(), fmt.Sprint(cores[i].id), fmt.Sprintf("%.2f", cores[i].power), "", ""}
		if i+1 < len(cores) {
			row[3] = fmt.Sprint(cores[i+1].id)
			row[4] = fmt.Sprintf("%.2f", cores[i+1].power)
		}
		rows = append(rows, row)
	}
	return rows
}

func groupName(ct topology.CoreType) string {
	switch ct {
	case topology.CoreTypePerformance:
		return "Performance Cores"
	case topology.CoreTypeEfficiency:
		return "Efficiency Cores"
	default:
		return "Cores"
	}
}
