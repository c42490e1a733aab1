package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/maauso/langsplit/internal/audio"
	"github.com/maauso/langsplit/internal/recognize"
)

// SilenceParams is the pair of silence detection parameters that produced a
// node's children.
type SilenceParams struct {
	MinSilenceLen int     `json:"min_silence_len"`
	MaxSilenceDB  float64 `json:"max_silence_db"`
}

// String returns a compact representation for logs and rendering.
func (p SilenceParams) String() string {
	return fmt.Sprintf("%dms/%gdB", p.MinSilenceLen, p.MaxSilenceDB)
}

// Recognition maps a language tag to the alternatives returned for it.
// A nil slice means the recognizer produced nothing for that language.
type Recognition map[string][]recognize.Alternative

// Node is one segment of a recording. A parent exclusively owns its children,
// whose ranges tile the parent's range in order.
type Node struct {
	// ID identifies the node within its tree. It is only used for addressing.
	ID int
	// Range is the part of the recording covered by the node.
	Range audio.Range
	// SpeechStart is where speech begins, relative to Range.
	// It is meaningless once the node has children.
	SpeechStart int
	// Children are the sub-segments produced by the last successful split.
	Children []*Node
	// SilenceParams are the parameters of the split that produced Children.
	SilenceParams *SilenceParams

	ids *atomic.Int64

	mu         sync.Mutex
	recognized Recognition
	computed   bool
}

// NewRoot creates the root node of a new tree covering r.
func NewRoot(r audio.Range) *Node {
	return newNode(new(atomic.Int64), r, 0)
}

func newNode(ids *atomic.Int64, r audio.Range, speechStart int) *Node {
	return &Node{
		ID:          int(ids.Add(1)) - 1,
		Range:       r,
		SpeechStart: speechStart,
		ids:         ids,
	}
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Split detects silences in the node's range and replaces its children with
// one child per resulting speech span.
//
// When the whole range is silent the node becomes a leaf without speech.
// When a single span results, the node stays a leaf and only its SpeechStart
// moves. Previous children are discarded together with their recognitions.
func (n *Node) Split(ctx context.Context, detector audio.SilenceDetector, minSilenceLen int, maxSilenceDB float64, margin int) error {
	if err := CheckMargin(minSilenceLen, margin); err != nil {
		return err
	}

	silences, err := detector.DetectSilence(ctx, n.Range, minSilenceLen, maxSilenceDB)
	if err != nil {
		return fmt.Errorf("detect silence in %s: %w", n.Range, err)
	}

	spans := SplitRanges(n.Range.Length(), silences, margin)
	switch len(spans) {
	case 0:
		n.Children = nil
		n.SilenceParams = nil
	case 1:
		n.Children = nil
		n.SilenceParams = nil
		n.SpeechStart = spans[0].SpeechStart
	default:
		children := make([]*Node, len(spans))
		for i, s := range spans {
			children[i] = newNode(n.ids, n.Range.Sub(s.Start, s.End), s.SpeechStart-s.Start)
		}
		n.Children = children
		n.SilenceParams = &SilenceParams{MinSilenceLen: minSilenceLen, MaxSilenceDB: maxSilenceDB}
	}
	return nil
}

// Recognize queries the recognizer once per language and caches the result.
// Later calls return the cached recognition without contacting the recognizer.
//
// Languages are recognized concurrently. A failed language is recorded with no
// alternatives and logged to logger, or slog.Default() when nil. The only error
// returned is the context's, in which case nothing is cached.
func (n *Node) Recognize(ctx context.Context, recognizer recognize.Recognizer, languages []string, logger *slog.Logger) (Recognition, error) {
	if logger == nil {
		logger = slog.Default()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.computed {
		return n.recognized, nil
	}

	results := make([][]recognize.Alternative, len(languages))
	var wg sync.WaitGroup
	for i, lang := range languages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alts, err := recognizer.Recognize(ctx, n.Range, lang)
			switch {
			case ctx.Err() != nil:
			case err != nil && !errors.Is(err, recognize.ErrNoResult):
				logger.Warn("recognition failed",
					slog.Int("node_id", n.ID),
					slog.String("range", n.Range.String()),
					slog.String("language", lang),
					slog.String("error", err.Error()),
				)
			case len(alts) == 0:
				logger.Debug("no recognition result",
					slog.Int("node_id", n.ID),
					slog.String("language", lang),
				)
			default:
				results[i] = alts
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("recognize node %d: %w", n.ID, err)
	}

	rec := make(Recognition, len(languages))
	for i, lang := range languages {
		rec[lang] = results[i]
	}
	n.recognized = rec
	n.computed = true
	return rec, nil
}

// Recognized returns the cached recognition, if any.
func (n *Node) Recognized() (Recognition, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.recognized, n.computed
}

func (n *Node) setRecognized(rec Recognition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recognized = rec
	n.computed = rec != nil
}

// Walk visits the tree depth-first, parents before children. The depth of the
// receiver is 0. Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// Leaves returns the leaves of the tree in recording order.
func (n *Node) Leaves() []*Node {
	var leaves []*Node
	n.Walk(func(node *Node, _ int) bool {
		if node.IsLeaf() {
			leaves = append(leaves, node)
		}
		return true
	})
	return leaves
}
