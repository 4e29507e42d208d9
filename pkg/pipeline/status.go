package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/apkscan/apkscan/pkg/types"
)

// StatusPrinter renders the live pipeline status line. On a terminal the
// line is rewritten in place with a carriage return; otherwise updates are
// suppressed and only phase transitions are printed.
type StatusPrinter struct {
	w     io.Writer
	tty   bool
	quiet bool
	green *color.Color
}

// NewStatusPrinter writes status to w, detecting whether it is a terminal.
func NewStatusPrinter(w io.Writer, quiet bool) *StatusPrinter {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &StatusPrinter{
		w:     w,
		tty:   tty,
		quiet: quiet,
		green: color.New(color.FgGreen),
	}
}

// Update redraws the status line in place.
func (p *StatusPrinter) Update(c Counters, decompiling, scanning bool) {
	p.print(c, decompiling, scanning, "\r")
}

// Line prints the status and moves to a fresh line.
func (p *StatusPrinter) Line(c Counters, decompiling, scanning bool) {
	p.print(c, decompiling, scanning, "\n")
}

func (p *StatusPrinter) print(c Counters, decompiling, scanning bool, end string) {
	if p.quiet || (!p.tty && end == "\r") {
		return
	}

	status := "COMPLETE"
	switch {
	case decompiling && scanning:
		status = "Decompiling and Scanning"
	case decompiling:
		status = "Decompiling"
	case scanning:
		status = "Scanning"
	}

	msg := fmt.Sprintf("Status: %s | ", status)
	if c.NumFiles > 0 {
		msg += fmt.Sprintf("Decompiled: %d/%d | ", c.NumDecompiled, c.NumFiles)
	}
	if c.NumScanning > 0 {
		msg += fmt.Sprintf("Scanned: %d/%d | ", c.NumScanned, c.NumScanning)
	}
	if c.NumSecrets > 0 {
		msg += fmt.Sprintf("Secrets: %d (%d unique) | ", c.NumSecrets, c.NumUniqueSecrets)
	}
	fmt.Fprint(p.w, msg+end)
}

// SecretFound announces a first-seen secret.
func (p *StatusPrinter) SecretFound(r *types.SecretResult) {
	if p.quiet {
		return
	}
	secret := r.Secret
	if len(secret) > 100 {
		secret = secret[:100]
	}
	fmt.Fprintf(p.w, "Found %s: %s in %s:%d\n",
		r.Locator.Name, p.green.Sprint(string(secret)), r.FilePath, r.LineNumber)
}

// Printf writes a plain progress message unless quiet.
func (p *StatusPrinter) Printf(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.w, format, args...)
}
