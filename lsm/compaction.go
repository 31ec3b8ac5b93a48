package lsm

import (
	"container/heap"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/sziiza66/My-LSM-Tree/internal/kv"
	"github.com/sziiza66/My-LSM-Tree/internal/readermanager"
	"github.com/sziiza66/My-LSM-Tree/sstable"
)

// mergeSource is one compaction input: a forward iterator over an SSTable
// plus its position in the traversal order. Sources are gathered level 0
// first and newest file first within a level, so a lower index always means
// a newer source.
type mergeSource struct {
	it  *sstable.Iterator
	idx int
}

// mergeHeap is a min-heap over merge sources keyed by (current key, source
// index): the smallest key wins, and among equal keys the newest source
// surfaces first.
type mergeHeap []*mergeSource

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if c := kv.Compare(h[i].it.Key(), h[j].it.Key()); c != 0 {
		return c < 0
	}
	return h[i].idx < h[j].idx
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*mergeSource)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	src := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return src
}

// compactUpTo folds every file from levels [0, targetLevel) into one new
// file at targetLevel via a k-way merge, then unlinks the consumed source
// files and zeroes their level counts. Tombstones are dropped from the
// output only when targetLevel was just created (it is then the deepest
// level, so nothing older can still be shadowed by them).
func (t *Tree) compactUpTo(targetLevel int) error {
	number, deleteTombstones, created := t.allocateFileAtLevel(targetLevel)
	log.Printf("compaction: levels [0, %d) -> %d_%d.sst", targetLevel, targetLevel, number)

	type source struct {
		rd     *readermanager.Reader
		reader *sstable.Reader
	}
	var sources []source
	closeSources := func() {
		for _, s := range sources {
			s.rd.Close()
		}
	}

	totalKVCount := 0
	for i := 0; i < targetLevel; i++ {
		for j := t.levels[i] - 1; j >= 0; j-- {
			rd, err := t.readers.CreateReader(t.sstPath(i, j))
			if err != nil {
				closeSources()
				return errors.Wrap(err, "lsm: open compaction source")
			}
			reader, err := sstable.NewReader(rd, rd.Size())
			if err != nil {
				rd.Close()
				closeSources()
				return err
			}
			sources = append(sources, source{rd: rd, reader: reader})
			totalKVCount += int(reader.KVCount())
		}
	}

	h := make(mergeHeap, 0, len(sources))
	for idx, s := range sources {
		it, err := s.reader.Iterator()
		if err != nil {
			closeSources()
			return err
		}
		if !it.IsEnd() {
			h = append(h, &mergeSource{it: it, idx: idx})
		}
	}
	heap.Init(&h)

	outPath := t.sstPath(targetLevel, number)
	out, err := os.Create(outPath)
	if err != nil {
		closeSources()
		return errors.Wrap(err, "lsm: create compaction output")
	}
	w := sstable.NewWriter(out, totalKVCount, t.opts.FilterFalsePositiveRate)

	fail := func(err error) error {
		out.Close()
		os.Remove(outPath)
		closeSources()
		return err
	}

	for h.Len() > 0 {
		top := heap.Pop(&h).(*mergeSource)
		consumed := []*mergeSource{top}
		for h.Len() > 0 && kv.Compare(h[0].it.Key(), top.it.Key()) == 0 {
			consumed = append(consumed, heap.Pop(&h).(*mergeSource))
		}

		// top came off the heap first, so among the duplicates it is the
		// newest source's version: the one retained.
		if !(deleteTombstones && top.it.ValueSize() == 0) {
			value, err := top.it.Value()
			if err != nil {
				return fail(err)
			}
			if err := w.Add(top.it.Key(), value); err != nil {
				return fail(err)
			}
		}

		for _, src := range consumed {
			if err := src.it.Advance(); err != nil {
				return fail(err)
			}
			if !src.it.IsEnd() {
				heap.Push(&h, src)
			}
		}
	}

	kvWritten, err := w.Finish()
	if err != nil {
		return fail(err)
	}
	closeSources()

	if kvWritten > 0 {
		if err := out.Sync(); err != nil {
			out.Close()
			return errors.Wrap(err, "lsm: fsync compaction output")
		}
		if err := out.Close(); err != nil {
			return errors.Wrap(err, "lsm: close compaction output")
		}
		t.levels[targetLevel]++
	} else {
		// Every record was a dropped tombstone; the output file and, if we
		// just created it, the level itself are both unused.
		out.Close()
		os.Remove(outPath)
		if created {
			t.levels = t.levels[:targetLevel]
		}
	}

	for i := 0; i < targetLevel; i++ {
		for j := 0; j < t.levels[i]; j++ {
			if err := t.readers.Unlink(t.sstPath(i, j)); err != nil {
				return errors.Wrap(err, "lsm: unlink compacted source")
			}
		}
		t.levels[i] = 0
	}

	log.Printf("compaction: done, %d records at level %d", kvWritten, targetLevel)
	return nil
}
