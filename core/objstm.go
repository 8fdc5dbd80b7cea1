package core

import (
	"bytes"
	"fmt"
	"sync"
)

// ObjectStream holds the objects packed into a /Type /ObjStm stream. The
// stream is decoded and every slot parsed on first access.
type ObjectStream struct {
	stream *Stream
	n      int
	first  int

	once  sync.Once
	err   error
	nums  []int
	slots []objStmSlot
}

type objStmSlot struct {
	obj Object
	err error
}

// NewObjectStream validates the /Type, /N and /First entries of stream.
func NewObjectStream(stream *Stream) (*ObjectStream, error) {
	if stream == nil || !stream.Dict.IsType("ObjStm") {
		return nil, fmt.Errorf("not an object stream")
	}
	n, ok := stream.Dict.GetInt("N")
	if !ok || n < 0 {
		return nil, fmt.Errorf("object stream has bad /N %v", stream.Dict.Get("N"))
	}
	first, ok := stream.Dict.GetInt("First")
	if !ok || first < 0 {
		return nil, fmt.Errorf("object stream has bad /First %v", stream.Dict.Get("First"))
	}
	return &ObjectStream{stream: stream, n: int(n), first: int(first)}, nil
}

func (s *ObjectStream) load() error {
	s.once.Do(func() { s.err = s.unpack() })
	return s.err
}

// unpack reads the N pairs of object number and offset that precede
// /First, then parses each object from its offset to the next one.
func (s *ObjectStream) unpack() error {
	data, err := s.stream.Decode()
	if err != nil {
		return fmt.Errorf("decode object stream: %w", err)
	}
	if s.first > len(data) {
		return fmt.Errorf("object stream /First %d beyond %d decoded bytes", s.first, len(data))
	}

	header := NewParser(bytes.NewReader(data[:s.first]))
	offsets := make([]int, 0, s.n)
	for i := 0; i < s.n; i++ {
		var pair [2]int
		for j := range pair {
			v, err := header.ParseObject()
			if err != nil {
				return fmt.Errorf("object stream header pair %d: %w", i, err)
			}
			n, ok := v.(Int)
			if !ok {
				return fmt.Errorf("object stream header pair %d holds %T", i, v)
			}
			pair[j] = int(n)
		}
		s.nums = append(s.nums, pair[0])
		offsets = append(offsets, s.first+pair[1])
	}

	s.slots = make([]objStmSlot, len(offsets))
	for i, start := range offsets {
		end := len(data)
		if i+1 < len(offsets) {
			end = min(offsets[i+1], end)
		}
		if start < s.first || start >= end {
			s.slots[i].err = fmt.Errorf("object %d has offset %d outside its stream", s.nums[i], start)
			continue
		}
		s.slots[i].obj, s.slots[i].err = NewParser(bytes.NewReader(data[start:end])).ParseObject()
	}
	return nil
}

// GetObjectByIndex returns the object in slot index and its object number.
func (s *ObjectStream) GetObjectByIndex(index int) (Object, int, error) {
	if err := s.load(); err != nil {
		return nil, 0, err
	}
	if index < 0 || index >= len(s.slots) {
		return nil, 0, fmt.Errorf("object stream slot %d out of range [0, %d)", index, len(s.slots))
	}
	slot := s.slots[index]
	if slot.err != nil {
		return nil, 0, fmt.Errorf("object stream slot %d: %w", index, slot.err)
	}
	return slot.obj, s.nums[index], nil
}

// ObjectNumbers lists the object numbers by slot.
func (s *ObjectStream) ObjectNumbers() ([]int, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return append([]int(nil), s.nums...), nil
}
