package recorder

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/valpere/straightener/internal/engine"
)

type report struct {
	RunID          string            `json:"run_id"`
	Target         string            `json:"target"`
	Success        bool              `json:"success"`
	Iterations     int               `json:"iterations"`
	Confidence     float64           `json:"confidence"`
	BestConfidence float64           `json:"best_confidence"`
	BestIteration  int               `json:"best_iteration"`
	FinalIteration int               `json:"final_iteration"`
	FinalImagePath string            `json:"final_image_path"`
	DurationSecs   float64           `json:"duration_seconds"`
	GeneratedAt    time.Time         `json:"generated_at"`
	History        []reportIteration `json:"history"`
}

type reportIteration struct {
	Iteration       int     `json:"iteration"`
	Prompt          string  `json:"prompt"`
	Seeded          bool    `json:"seeded"`
	MatchesIntent   bool    `json:"matches_intent"`
	Confidence      float64 `json:"confidence"`
	CorrectElements string  `json:"correct_elements,omitempty"`
	MissingElements string  `json:"missing_elements,omitempty"`
	Improvements    string  `json:"improvements,omitempty"`
	ElapsedSecs     float64 `json:"elapsed_seconds"`
}

func newReport(result *engine.RunResult, finalPath string) *report {
	rep := &report{
		RunID:          result.RunID,
		Target:         result.Target,
		Success:        result.Success,
		Iterations:     result.Iterations,
		Confidence:     result.Confidence,
		BestConfidence: result.BestConfidence,
		BestIteration:  result.Best.Iteration,
		FinalIteration: result.Final.Iteration,
		FinalImagePath: finalPath,
		DurationSecs:   result.Duration.Seconds(),
		GeneratedAt:    time.Now().UTC(),
	}
	for _, rec := range result.Records {
		rep.History = append(rep.History, reportIteration{
			Iteration:       rec.Iteration,
			Prompt:          rec.Candidate.Prompt,
			Seeded:          rec.Candidate.Seeded,
			MatchesIntent:   rec.Evaluation.MatchesIntent,
			Confidence:      rec.Evaluation.Confidence,
			CorrectElements: rec.Evaluation.CorrectElements,
			MissingElements: rec.Evaluation.MissingElements,
			Improvements:    rec.Evaluation.Improvements,
			ElapsedSecs:     rec.Elapsed.Seconds(),
		})
	}
	return rep
}

// Markdown renders the report as a markdown document.
func (r *report) Markdown() []byte {
	var b bytes.Buffer

	outcome := "Partial (iteration budget exhausted)"
	if r.Success {
		outcome = "Success"
	}

	fmt.Fprintf(&b, "# Run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "**Target:** %s\n\n", r.Target)
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Outcome | %s |\n", outcome)
	fmt.Fprintf(&b, "| Iterations | %d |\n", r.Iterations)
	fmt.Fprintf(&b, "| Best confidence | %.1f%% (iteration %d) |\n", r.BestConfidence*100, r.BestIteration)
	fmt.Fprintf(&b, "| Reported image | iteration %d |\n", r.FinalIteration)
	fmt.Fprintf(&b, "| Duration | %.1fs |\n\n", r.DurationSecs)

	b.WriteString("## Iterations\n\n")
	b.WriteString("| # | Match | Confidence | Missing | Improvements |\n|---|---|---|---|---|\n")
	for _, it := range r.History {
		match := "no"
		if it.MatchesIntent {
			match = "yes"
		}
		fmt.Fprintf(&b, "| %d | %s | %.1f%% | %s | %s |\n",
			it.Iteration, match, it.Confidence*100, tableCell(it.MissingElements), tableCell(it.Improvements))
	}

	for _, it := range r.History {
		fmt.Fprintf(&b, "\n### Iteration %d\n\n", it.Iteration)
		fmt.Fprintf(&b, "Prompt:\n\n```\n%s\n```\n", it.Prompt)
		if it.CorrectElements != "" {
			fmt.Fprintf(&b, "\nCorrect: %s\n", it.CorrectElements)
		}
	}
	return b.Bytes()
}

func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

func markdownToHTML(md []byte) string {
	opts := mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	}
	renderer := mdhtml.NewRenderer(opts)
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Attributes)
	return string(markdown.Render(p.Parse(md), renderer))
}

func htmlPage(title string, md []byte) string {
	return "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>" + html.EscapeString(title) + "</title>\n" +
		"<style>body{font-family:sans-serif;max-width:60em;margin:2em auto}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3em .6em}</style>\n" +
		"</head>\n<body>\n" + markdownToHTML(md) + "</body>\n</html>\n"
}
