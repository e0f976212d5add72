/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/valpere/straightener/internal/engine"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// printer writes user-facing progress to stdout. Styling is dropped when
// stdout is not a terminal.
type printer struct {
	w     io.Writer
	plain bool
	width int
}

func newPrinter() *printer {
	fd := int(os.Stdout.Fd())
	p := &printer{w: os.Stdout, plain: !term.IsTerminal(fd), width: 100}
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		p.width = w
	}
	return p
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p *printer) field(label, format string, args ...any) {
	fmt.Fprintf(p.w, "  %s %s\n", p.style(labelStyle, fmt.Sprintf("%-16s", label+":")), fmt.Sprintf(format, args...))
}

func (p *printer) heading(text string) {
	fmt.Fprintln(p.w, p.style(headStyle, text))
}

// truncate shortens s to fit in n columns.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n < 4 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// snapshot prints one iteration of a watched run.
func (p *printer) snapshot(s engine.Snapshot, imagePath string) {
	verdict := p.style(warnStyle, "no match")
	if s.Evaluation.MatchesIntent {
		verdict = p.style(okStyle, "match")
	}
	fmt.Fprintf(p.w, "Iteration %d: %s, confidence %s\n", s.Iteration, verdict, percent(s.Evaluation.Confidence))
	if s.Evaluation.MissingElements != "" {
		p.field("missing", "%s", truncate(s.Evaluation.MissingElements, p.width-22))
	}
	if !s.Success && s.Evaluation.Improvements != "" {
		p.field("next", "%s", truncate(s.Evaluation.Improvements, p.width-22))
	}
	if imagePath != "" {
		p.field("image", "%s", imagePath)
	}
}

// result prints the outcome of a finished run.
func (p *printer) result(r *engine.RunResult, finalImage string) {
	if r.Success {
		fmt.Fprintf(p.w, "%s after %d iteration(s) with %s confidence\n",
			p.style(okStyle, "Success"), r.Iterations, percent(r.Confidence))
	} else {
		fmt.Fprintf(p.w, "%s: no candidate accepted in %d iteration(s), best %s (iteration %d)\n",
			p.style(warnStyle, "Partial"), r.Iterations, percent(r.BestConfidence), r.Best.Iteration)
	}
	p.field("run", "%s", r.RunID)
	p.field("duration", "%s", r.Duration.Round(100*time.Millisecond))
	if finalImage != "" {
		p.field("final image", "%s", finalImage)
	}
	if r.ReportPath != "" {
		p.field("session", "%s", r.ReportPath)
	}
}

func (p *printer) failure(err error) {
	fmt.Fprintf(p.w, "%s %v\n", p.style(errStyle, "Failed:"), err)
}
