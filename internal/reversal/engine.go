// Package reversal undoes the inventory effect of a cancelled document:
// claimed quantities are released from the parent document's lines and the
// document's allocation entries are applied back to balances in the
// opposite direction.
package reversal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/balance"
)

// Line is one cancelled document line with its link to a parent document.
// ParentID zero means the line has no parent to release claims against.
type Line struct {
	ParentID     int64
	ParentLineID int64
	ClaimKind    string
	Fulfilled    float64
	Entries      []allocation.Entry
}

// Document is the cancelled document under reversal. AppliedAs records the
// direction the original allocation was applied in.
type Document struct {
	ID        string
	AppliedAs balance.Direction
	Lines     []Line
}

// ClaimRelease subtracts a previously claimed quantity from one parent
// line accumulator. The parent side floors the result at zero.
type ClaimRelease struct {
	LineID   int64
	Kind     string
	Quantity float64
}

// ParentPort releases claims on a parent document and reconciles its
// status in the same transaction.
type ParentPort interface {
	Release(ctx context.Context, parentID int64, releases []ClaimRelease, actorID int64) error
}

// MutatorPort applies balance deltas.
type MutatorPort interface {
	Apply(ctx context.Context, deltas []balance.Delta, dir balance.Direction) balance.Report
}

// GroupResult reports the claim release outcome for one parent document.
type GroupResult struct {
	ParentID int64
	Err      error
}

// Report is the per-group and per-balance outcome of a reversal. A failed
// group does not stop the remaining groups or the balance restore.
type Report struct {
	Groups  []GroupResult
	Balance balance.Report
}

// Err returns nil when every group and every balance delta succeeded.
func (r Report) Err() error {
	for _, g := range r.Groups {
		if g.Err != nil {
			return fmt.Errorf("reversal: parent %d: %w", g.ParentID, g.Err)
		}
	}
	return r.Balance.Err()
}

// Engine coordinates claim release and balance restoration.
type Engine struct {
	parents ParentPort
	mutator MutatorPort
	logger  *slog.Logger
}

// NewEngine builds Engine. parents may be nil for documents without a
// parent claim (e.g. transfer orders).
func NewEngine(parents ParentPort, mutator MutatorPort, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{parents: parents, mutator: mutator, logger: logger}
}

// Reverse releases the document's parent claims group by group, then
// applies the inverse of its allocation entries to balances. Processing
// continues past group failures; the report carries each outcome.
func (e *Engine) Reverse(ctx context.Context, doc Document, actorID int64) (Report, error) {
	if len(doc.Lines) == 0 {
		return Report{}, balance.ErrNothingToApply
	}
	report := Report{}

	for _, parentID := range e.parentOrder(doc.Lines) {
		releases := e.collectReleases(doc.Lines, parentID)
		var err error
		if e.parents == nil {
			err = fmt.Errorf("reversal: no parent port configured for parent %d", parentID)
		} else {
			err = e.parents.Release(ctx, parentID, releases, actorID)
		}
		if err != nil {
			e.logger.Error("claim release failed",
				slog.String("document_id", doc.ID),
				slog.Int64("parent_id", parentID),
				slog.Any("error", err))
		}
		report.Groups = append(report.Groups, GroupResult{ParentID: parentID, Err: err})
	}

	deltas := []balance.Delta{}
	for _, line := range doc.Lines {
		deltas = append(deltas, allocation.Deltas(line.Entries)...)
	}
	if len(deltas) > 0 {
		report.Balance = e.mutator.Apply(ctx, deltas, balance.Invert(doc.AppliedAs))
	}
	return report, nil
}

// parentOrder returns the distinct parent ids in ascending order so the
// report is deterministic regardless of line order.
func (e *Engine) parentOrder(lines []Line) []int64 {
	seen := map[int64]bool{}
	ids := []int64{}
	for _, line := range lines {
		if line.ParentID == 0 || seen[line.ParentID] {
			continue
		}
		seen[line.ParentID] = true
		ids = append(ids, line.ParentID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// collectReleases sums fulfilled quantity per parent line so a document
// with several lines against the same parent line releases once.
func (e *Engine) collectReleases(lines []Line, parentID int64) []ClaimRelease {
	type lineKey struct {
		lineID int64
		kind   string
	}
	sums := map[lineKey]float64{}
	order := []lineKey{}
	for _, line := range lines {
		if line.ParentID != parentID || line.Fulfilled <= 0 {
			continue
		}
		k := lineKey{lineID: line.ParentLineID, kind: line.ClaimKind}
		if _, ok := sums[k]; !ok {
			order = append(order, k)
		}
		sums[k] += line.Fulfilled
	}
	releases := make([]ClaimRelease, 0, len(order))
	for _, k := range order {
		releases = append(releases, ClaimRelease{LineID: k.lineID, Kind: k.kind, Quantity: sums[k]})
	}
	return releases
}
