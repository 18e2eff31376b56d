package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned when the local model server cannot be reached.
var ErrNotRunning = errors.New("local model server is not running; start it with: ollama serve")

// Model roles in the assistant.
const (
	RoleChat      = "chat"
	RoleEmbedding = "embedding"
	RoleVision    = "vision"
	RoleGenerator = "generator"
)

// Requirement is a local model the assistant calls and what it is used for.
type Requirement struct {
	Role  string
	Model string
}

// ModelStatus reports whether a required model is installed.
type ModelStatus struct {
	Requirement
	Installed bool
}

// dedupe drops requirements with no model and repeats of a model already
// listed under an earlier role.
func dedupe(reqs []Requirement) []Requirement {
	seen := make(map[string]bool, len(reqs))
	out := reqs[:0:0]
	for _, r := range reqs {
		if r.Model == "" || seen[r.Model] {
			continue
		}
		seen[r.Model] = true
		out = append(out, r)
	}
	return out
}

// CheckModels reports which required models are installed without pulling.
func CheckModels(ctx context.Context, e Engine, reqs []Requirement) []ModelStatus {
	var out []ModelStatus
	for _, r := range dedupe(reqs) {
		out = append(out, ModelStatus{Requirement: r, Installed: e.HasModel(ctx, r.Model)})
	}
	return out
}

// EnsureReady verifies the server is up and pulls any required model that
// is missing. Progress is written to w, one line per 10% step.
func EnsureReady(ctx context.Context, e Engine, reqs []Requirement, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return ErrNotRunning
	}

	for _, st := range CheckModels(ctx, e, reqs) {
		if st.Installed {
			fmt.Fprintf(w, "%s model %s: ready\n", st.Role, st.Model)
			continue
		}
		fmt.Fprintf(w, "%s model %s: pulling\n", st.Role, st.Model)
		if err := e.PullModel(ctx, st.Model, progressPrinter(w)); err != nil {
			return fmt.Errorf("pulling %s model %s: %w", st.Role, st.Model, err)
		}
		fmt.Fprintf(w, "%s model %s: ready\n", st.Role, st.Model)
	}
	return nil
}

// progressPrinter prints status changes and every tenth percent of a layer
// download instead of every streamed update.
func progressPrinter(w io.Writer) func(PullProgress) {
	lastStatus, lastStep := "", -1
	return func(p PullProgress) {
		if p.Total <= 0 {
			if p.Status != lastStatus {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
			lastStatus, lastStep = p.Status, -1
			return
		}
		step := int(p.Completed * 10 / p.Total)
		if p.Status == lastStatus && step == lastStep {
			return
		}
		lastStatus, lastStep = p.Status, step
		fmt.Fprintf(w, "  %s %d%%\n", p.Status, step*10)
	}
}
