package segment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maauso/langsplit/internal/storage"
)

// ErrCorruptPersistedTree is returned when a persisted tree does not fit the
// recording it is restored against.
var ErrCorruptPersistedTree = errors.New("segment: corrupt persisted tree")

// Record is the persisted form of a node. Audio is not stored: children are
// rebuilt from their lengths, in order, against the original recording.
type Record struct {
	SpeechStart   int            `json:"speech_start"`
	Recognized    Recognition    `json:"recognized,omitempty"`
	SilenceParams *SilenceParams `json:"silence_params,omitempty"`
	Children      []ChildRecord  `json:"children,omitempty"`
}

// ChildRecord is a child node together with the length of its range.
type ChildRecord struct {
	Record Record `json:"record"`
	Length int    `json:"length"`
}

// Serialize converts the tree rooted at n into a Record.
func Serialize(n *Node) Record {
	rec, _ := n.Recognized()
	out := Record{
		SpeechStart: n.SpeechStart,
		Recognized:  rec,
	}
	if n.SilenceParams != nil {
		p := *n.SilenceParams
		out.SilenceParams = &p
	}
	if len(n.Children) > 0 {
		out.Children = make([]ChildRecord, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = ChildRecord{Record: Serialize(c), Length: c.Range.Length()}
		}
	}
	return out
}

// Restore rebuilds the tree described by rec below root, whose range must be
// the one the tree was serialized from. Children ranges are laid out left to
// right from their recorded lengths.
//
// The record is validated before anything is applied, so root is left
// untouched when ErrCorruptPersistedTree is returned.
func Restore(root *Node, rec Record) error {
	if err := validate(rec, root.Range.Length(), "root"); err != nil {
		return err
	}
	apply(root, rec)
	return nil
}

func validate(rec Record, length int, path string) error {
	if rec.SpeechStart < 0 || rec.SpeechStart > length {
		return fmt.Errorf("%w: %s speech start %d outside length %d",
			ErrCorruptPersistedTree, path, rec.SpeechStart, length)
	}
	if len(rec.Children) == 0 {
		return nil
	}

	start := 0
	for i, c := range rec.Children {
		childPath := fmt.Sprintf("%s.children[%d]", path, i)
		if c.Length <= 0 {
			return fmt.Errorf("%w: %s has non-positive length %d", ErrCorruptPersistedTree, childPath, c.Length)
		}
		if start+c.Length > length {
			return fmt.Errorf("%w: %s ends at %d beyond length %d",
				ErrCorruptPersistedTree, childPath, start+c.Length, length)
		}
		if err := validate(c.Record, c.Length, childPath); err != nil {
			return err
		}
		start += c.Length
	}
	if start != length {
		return fmt.Errorf("%w: %s children cover %d of %d",
			ErrCorruptPersistedTree, path, start, length)
	}
	return nil
}

func apply(n *Node, rec Record) {
	n.SpeechStart = rec.SpeechStart
	n.setRecognized(rec.Recognized)
	n.SilenceParams = nil
	if rec.SilenceParams != nil {
		p := *rec.SilenceParams
		n.SilenceParams = &p
	}

	n.Children = nil
	if len(rec.Children) == 0 {
		return
	}
	n.Children = make([]*Node, len(rec.Children))
	start := 0
	for i, c := range rec.Children {
		child := newNode(n.ids, n.Range.Sub(start, start+c.Length), 0)
		apply(child, c.Record)
		n.Children[i] = child
		start += c.Length
	}
}

// TreeStore persists segment trees as JSON documents, one per recording.
type TreeStore struct {
	docs storage.Documents
}

// NewTreeStore creates a TreeStore backed by docs.
func NewTreeStore(docs storage.Documents) *TreeStore {
	return &TreeStore{docs: docs}
}

// Save replaces the document under key with the tree rooted at root.
func (s *TreeStore) Save(ctx context.Context, key string, root *Node) error {
	data, err := json.Marshal(Serialize(root))
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	if err := s.docs.ReplaceAll(ctx, key, data); err != nil {
		return fmt.Errorf("save tree %s: %w", key, err)
	}
	return nil
}

// Load restores the tree stored under key below root. It returns
// storage.ErrDocumentNotFound when nothing was saved and
// ErrCorruptPersistedTree when the document does not fit root.
func (s *TreeStore) Load(ctx context.Context, key string, root *Node) error {
	data, err := s.docs.ReadOne(ctx, key)
	if err != nil {
		return fmt.Errorf("load tree %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCorruptPersistedTree, key, err)
	}
	return Restore(root, rec)
}
