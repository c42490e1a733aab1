package segment

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/maauso/langsplit/internal/audio"
	"github.com/maauso/langsplit/internal/recognize"
)

// Defaults of the parameter search.
const (
	DefaultMargin = 50
)

// DefaultLanguages are the candidate languages.
var DefaultLanguages = []string{"pt-BR", "en-US"}

// Grid is the space of silence detection parameters tried on a node.
// Lengths should be given longest first and DBs quietest first, so coarse and
// conservative splits are attempted before finer ones.
type Grid struct {
	Lengths []int
	DBs     []float64
}

// DefaultGrid returns the grid used when none is configured.
func DefaultGrid() Grid {
	return Grid{
		Lengths: []int{1000, 700, 500, 300, 200},
		DBs:     []float64{-60, -55, -50, -45, -40},
	}
}

// All enumerates the grid length-major: every threshold is tried at a length
// before moving to the next length. The sequence can be iterated any number
// of times.
func (g Grid) All() iter.Seq[SilenceParams] {
	return func(yield func(SilenceParams) bool) {
		for _, length := range g.Lengths {
			for _, db := range g.DBs {
				if !yield(SilenceParams{MinSilenceLen: length, MaxSilenceDB: db}) {
					return
				}
			}
		}
	}
}

// Size returns the number of parameter pairs in the grid.
func (g Grid) Size() int {
	return len(g.Lengths) * len(g.DBs)
}

// Search adaptively re-splits nodes until their language is decided.
type Search struct {
	detector    audio.SilenceDetector
	recognizer  recognize.Recognizer
	grid        Grid
	margin      int
	languages   []string
	low, high   float64
	parallelism int
	logger      *slog.Logger

	// sem bounds the extra goroutines used for sibling subtrees.
	sem chan struct{}
}

// SearchOption configures a Search.
type SearchOption func(*Search)

// WithGrid sets the silence parameter grid.
func WithGrid(g Grid) SearchOption {
	return func(s *Search) {
		s.grid = g
	}
}

// WithMargin sets the margin trimmed from inner silence boundaries.
func WithMargin(margin int) SearchOption {
	return func(s *Search) {
		s.margin = margin
	}
}

// WithLanguages sets the candidate languages.
func WithLanguages(langs ...string) SearchOption {
	return func(s *Search) {
		s.languages = langs
	}
}

// WithThresholds sets the confidence thresholds of the language decision.
func WithThresholds(low, high float64) SearchOption {
	return func(s *Search) {
		s.low = low
		s.high = high
	}
}

// WithParallelism sets how many sibling subtrees may be exhausted at once.
// Values below 2 keep the search sequential.
func WithParallelism(n int) SearchOption {
	return func(s *Search) {
		s.parallelism = n
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) SearchOption {
	return func(s *Search) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearch creates a Search. Every grid length is checked against the margin
// so a misconfiguration fails here rather than halfway through a recording.
func NewSearch(detector audio.SilenceDetector, recognizer recognize.Recognizer, opts ...SearchOption) (*Search, error) {
	s := &Search{
		detector:    detector,
		recognizer:  recognizer,
		grid:        DefaultGrid(),
		margin:      DefaultMargin,
		languages:   DefaultLanguages,
		low:         DefaultConfidenceLow,
		high:        DefaultConfidenceHigh,
		parallelism: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.grid.Size() == 0 {
		return nil, fmt.Errorf("%w: empty parameter grid", ErrInvalidConfiguration)
	}
	for _, length := range s.grid.Lengths {
		if err := CheckMargin(length, s.margin); err != nil {
			return nil, err
		}
	}
	if len(s.languages) < 2 {
		return nil, fmt.Errorf("%w: need at least two languages, got %d", ErrInvalidConfiguration, len(s.languages))
	}
	if s.low > s.high {
		return nil, fmt.Errorf("%w: low threshold %.2f above high threshold %.2f", ErrInvalidConfiguration, s.low, s.high)
	}
	if s.parallelism > 1 {
		s.sem = make(chan struct{}, s.parallelism-1)
	}
	return s, nil
}

// Languages returns the candidate languages.
func (s *Search) Languages() []string {
	return s.languages
}

// Thresholds returns the low and high confidence thresholds.
func (s *Search) Thresholds() (low, high float64) {
	return s.low, s.high
}

// SeekSplit walks the grid until a split subdivides the node. A node that
// already has children is left untouched. It reports false if no parameter
// pair splits the node; this is a normal outcome, not an error.
func (s *Search) SeekSplit(ctx context.Context, n *Node) (bool, error) {
	if !n.IsLeaf() {
		return true, nil
	}
	for params := range s.grid.All() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := n.Split(ctx, s.detector, params.MinSilenceLen, params.MaxSilenceDB, s.margin); err != nil {
			return false, err
		}
		if !n.IsLeaf() {
			s.logger.Debug("node split",
				slog.Int("node_id", n.ID),
				slog.String("range", n.Range.String()),
				slog.String("params", params.String()),
				slog.Int("children", len(n.Children)),
			)
			return true, nil
		}
	}
	return false, nil
}

// Exhaust recognizes the node and, unless its language is decided, splits it
// and recurses into the children. Nodes that cannot be split stay undetermined.
// Only silence detection failures and cancellation are returned.
func (s *Search) Exhaust(ctx context.Context, n *Node) error {
	if _, err := n.Recognize(ctx, s.recognizer, s.languages, s.logger); err != nil {
		return err
	}
	if lang, ok := Language(n, s.low, s.high); ok {
		s.logger.Debug("language decided",
			slog.Int("node_id", n.ID),
			slog.String("range", n.Range.String()),
			slog.String("language", lang),
		)
		return nil
	}

	split, err := s.SeekSplit(ctx, n)
	if err != nil {
		return err
	}
	if !split {
		s.logger.Debug("grid exhausted without split",
			slog.Int("node_id", n.ID),
			slog.String("range", n.Range.String()),
		)
		return nil
	}
	return s.exhaustChildren(ctx, n.Children)
}

// exhaustChildren exhausts siblings, handing subtrees to new goroutines while
// semaphore slots are free and running the rest on the calling goroutine. A
// caller never blocks waiting for a slot, so nested fan-out cannot deadlock.
func (s *Search) exhaustChildren(ctx context.Context, children []*Node) error {
	if s.sem == nil {
		for _, c := range children {
			if err := s.Exhaust(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, c := range children {
		select {
		case s.sem <- struct{}{}:
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-s.sem }()
				if err := s.Exhaust(ctx, c); err != nil {
					record(err)
				}
			}()
		default:
			if err := s.Exhaust(ctx, c); err != nil {
				record(err)
			}
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
