// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is the intermediate form threaded through the transforms.
type Document struct {
	Reasoning *Reasoning
	Body      string
}

// Markdown renders the document back to text.
func (d Document) Markdown(l Labels) string {
	if d.Reasoning == nil {
		return d.Body
	}
	return d.Reasoning.Markdown(l) + d.Body
}

// Output is the result of processing one message.
type Output struct {
	// Text is the transformed markdown.
	Text string
	// Blocks is Text segmented into typed blocks.
	Blocks []Block
	// Skipped names the transforms that failed and were skipped.
	Skipped []string
}

// =============================================================================
// PIPELINE
// =============================================================================

type step struct {
	name  string
	apply func(d *Document, t *Timing, now time.Time) error
}

// Pipeline runs the ordered transform chain.
type Pipeline struct {
	logger *slog.Logger
	labels Labels
	now    func() time.Time
	steps  []step
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for skipped transforms.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithLabels sets the reasoning section labels.
func WithLabels(l Labels) Option {
	return func(p *Pipeline) { p.labels = l }
}

// WithClock sets the time source used for reasoning timing.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline with the standard transform order.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: slog.Default(),
		labels: DefaultLabels,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.steps = []step{
		{"escape-brackets", escapeStep},
		{"reasoning", reasoningStep},
		{"fence-html", fenceStep},
		{"attachments", attachmentStep},
	}
	return p
}

// Process transforms raw message text. timing is the message's reasoning
// timing record and may be nil.
func (p *Pipeline) Process(raw string, timing *Timing) Output {
	if timing == nil {
		timing = &Timing{}
	}
	now := p.now()
	doc := Document{Body: raw}

	var skipped []string
	for _, st := range p.steps {
		if err := p.run(st, &doc, timing, now); err != nil {
			skipped = append(skipped, st.name)
			p.logger.Warn("content transform skipped", "transform", st.name, "error", err)
		}
	}

	out := Output{Text: doc.Markdown(p.labels), Skipped: skipped}
	if doc.Reasoning != nil {
		out.Blocks = append(out.Blocks, *doc.Reasoning)
	}
	out.Blocks = append(out.Blocks, Segment(doc.Body)...)
	return out
}

// Labels returns the configured labels.
func (p *Pipeline) Labels() Labels {
	return p.labels
}

// run applies one step, restoring the document if it fails or panics.
func (p *Pipeline) run(st step, doc *Document, t *Timing, now time.Time) (err error) {
	snapshot := *doc
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			*doc = snapshot
		}
	}()
	return st.apply(doc, t, now)
}

// =============================================================================
// STEPS
// =============================================================================

func escapeStep(d *Document, _ *Timing, _ time.Time) error {
	d.Body = EscapeBrackets(d.Body)
	return nil
}

func reasoningStep(d *Document, t *Timing, now time.Time) error {
	r, rest := splitReasoning(d.Body)
	if r == nil {
		return nil
	}
	r.Elapsed = t.Observe(now, !r.Open)
	d.Reasoning = r
	d.Body = rest
	return nil
}

func fenceStep(d *Document, _ *Timing, _ time.Time) error {
	d.Body = FenceHTML(d.Body)
	return nil
}

func attachmentStep(d *Document, _ *Timing, _ time.Time) error {
	body, err := ReplaceAttachments(d.Body)
	if err != nil {
		return err
	}
	d.Body = body
	return nil
}
