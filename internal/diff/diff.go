// Package diff renders a suggested replacement against the original block.
package diff

import (
	"fmt"
	"strings"

	gitdiff "github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"

	"rustsentry/internal/models"
)

// ContextLines is the number of unchanged lines shown around each change.
const ContextLines = 3

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type lineOp struct {
	kind opKind
	text string // includes the trailing newline when the source had one
}

// Generate returns the unified diff and line stats for original -> fixed.
func Generate(original, fixed string) models.DiffView {
	ops := lineOps(gitdiff.Do(original, fixed))

	var view models.DiffView
	for _, op := range ops {
		switch op.kind {
		case opInsert:
			view.LinesAdded++
		case opDelete:
			view.LinesRemoved++
		}
	}
	view.LinesModified = min(view.LinesAdded, view.LinesRemoved)
	if view.LinesAdded == 0 && view.LinesRemoved == 0 {
		return view
	}

	var b strings.Builder
	b.WriteString("--- original\n+++ fixed\n")
	for _, h := range hunks(ops, ContextLines) {
		writeHunk(&b, ops, h)
	}
	view.Unified = b.String()
	return view
}

func lineOps(diffs []diffmatchpatch.Diff) []lineOp {
	var ops []lineOp
	for _, d := range diffs {
		kind := opEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = opDelete
		case diffmatchpatch.DiffInsert:
			kind = opInsert
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

type hunk struct {
	start, end int // half-open range over ops
}

func hunks(ops []lineOp, context int) []hunk {
	var out []hunk
	for i := 0; i < len(ops); i++ {
		if ops[i].kind == opEqual {
			continue
		}
		start := max(0, i-context)
		last := i
		// extend while the next change is close enough to share context
		for j := i + 1; j < len(ops); j++ {
			if ops[j].kind == opEqual {
				continue
			}
			if j-last-1 > 2*context {
				break
			}
			last = j
		}
		end := min(len(ops), last+context+1)
		if n := len(out); n > 0 && start <= out[n-1].end {
			out[n-1].end = end
		} else {
			out = append(out, hunk{start: start, end: end})
		}
		i = last
	}
	return out
}

func writeHunk(b *strings.Builder, ops []lineOp, h hunk) {
	oldBefore, newBefore := 0, 0
	for _, op := range ops[:h.start] {
		if op.kind != opInsert {
			oldBefore++
		}
		if op.kind != opDelete {
			newBefore++
		}
	}
	oldCount, newCount := 0, 0
	for _, op := range ops[h.start:h.end] {
		if op.kind != opInsert {
			oldCount++
		}
		if op.kind != opDelete {
			newCount++
		}
	}

	fmt.Fprintf(b, "@@ -%s +%s @@\n", hunkRange(oldBefore, oldCount), hunkRange(newBefore, newCount))
	for _, op := range ops[h.start:h.end] {
		prefix := " "
		switch op.kind {
		case opDelete:
			prefix = "-"
		case opInsert:
			prefix = "+"
		}
		b.WriteString(prefix)
		b.WriteString(op.text)
		if !strings.HasSuffix(op.text, "\n") {
			b.WriteString("\n\\ No newline at end of file\n")
		}
	}
}

func hunkRange(before, count int) string {
	start := before + 1
	if count == 0 {
		start = before
	}
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}
