package sstable

// Iterator is a streaming forward iterator over one SSTable's Data region,
// used by compaction's k-way merge. It never loads the whole file into
// memory, reading one record at a time via the Reader's positioned reads.
type Iterator struct {
	r             *Reader
	pos           uint64
	end           uint64
	curKey        []byte
	curValueSize  uint32
	curDataOffset uint64
	atEnd         bool
}

// Iterator returns a forward iterator positioned at the first record.
func (r *Reader) Iterator() (*Iterator, error) {
	it := &Iterator{r: r, pos: 0, end: r.footer.FilterOffset}
	if err := it.load(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) load() error {
	if it.pos >= it.end {
		it.atEnd = true
		it.curKey = nil
		return nil
	}
	key, valueSize, err := it.r.readKeyAt(it.pos)
	if err != nil {
		return err
	}
	it.curDataOffset = it.pos
	it.curKey = key
	it.curValueSize = valueSize
	it.atEnd = false
	return nil
}

// IsEnd reports whether the iterator has exhausted the Data region.
func (it *Iterator) IsEnd() bool {
	return it.atEnd
}

// Key returns the current record's key. The slice is borrowed and only
// valid until the next Advance.
func (it *Iterator) Key() []byte {
	return it.curKey
}

// ValueSize returns the current record's value length without reading the
// value itself.
func (it *Iterator) ValueSize() uint32 {
	return it.curValueSize
}

// Value reads the current record's value.
func (it *Iterator) Value() ([]byte, error) {
	return it.r.readValueAt(it.curDataOffset, uint32(len(it.curKey)), it.curValueSize)
}

// Advance moves to the next record.
func (it *Iterator) Advance() error {
	if it.atEnd {
		return nil
	}
	it.pos = it.curDataOffset + RecordHeaderSize + uint64(len(it.curKey)) + uint64(it.curValueSize)
	return it.load()
}
