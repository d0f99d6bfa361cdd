// Package stream provides lazy, single-pass views over record sequences:
// time slicing, centered windows and end-of-stream extrapolation.
//
// A Source ends by returning io.EOF. Any other error from a source is passed
// through to the caller unchanged.
package stream

import (
	"errors"
	"io"
	"time"
)

// Source produces records one at a time.
type Source[T any] interface {
	Next() (T, error)
}

// Timed is a record with a position in time.
type Timed interface {
	Time() time.Time
}

// Shifter is a Timed record that can be copied to a later time.
type Shifter[T any] interface {
	Timed
	Shift(d time.Duration) T
}

// ErrWindowSize is returned by Window for a non-positive size.
var ErrWindowSize = errors.New("window size must be positive")

// Func adapts a function to a Source.
type Func[T any] func() (T, error)

// Next calls f.
func (f Func[T]) Next() (T, error) { return f() }

// FromSlice returns a Source yielding items in order.
func FromSlice[T any](items []T) Source[T] {
	i := 0
	return Func[T](func() (T, error) {
		var zero T
		if i >= len(items) {
			return zero, io.EOF
		}
		i++
		return items[i-1], nil
	})
}

// Collect drains src. Records read before an error are returned with it.
// Never call Collect on an infinite source such as Continuous; use Take.
func Collect[T any](src Source[T]) ([]T, error) {
	var out []T
	for {
		v, err := src.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// Take reads at most n records from src.
func Take[T any](src Source[T], n int) ([]T, error) {
	out := make([]T, 0, n)
	for len(out) < n {
		v, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

type bounds struct {
	start, end time.Time
}

// newBounds applies the defaults: a zero start admits everything from the
// beginning of time, a zero end means now.
func newBounds(start, end time.Time, now func() time.Time) bounds {
	if end.IsZero() {
		end = now()
	}
	return bounds{start: start, end: end}
}

func (b bounds) contains(t time.Time) bool {
	return !t.Before(b.start) && !t.After(b.end)
}

// SliceSource yields the records of a source that fall within [start, end].
type SliceSource[T Timed] struct {
	src  Source[T]
	b    bounds
	done bool
}

// Slice returns the records of src whose time is within [start, end],
// inclusive. It assumes src is ordered by time and stops at the first record
// after end.
func Slice[T Timed](src Source[T], start, end time.Time) *SliceSource[T] {
	return &SliceSource[T]{src: src, b: newBounds(start, end, time.Now)}
}

// Next returns the next record within bounds.
func (s *SliceSource[T]) Next() (T, error) {
	var zero T
	for !s.done {
		v, err := s.src.Next()
		if err != nil {
			return zero, err
		}
		t := v.Time()
		if s.b.contains(t) {
			return v, nil
		}
		if t.After(s.b.end) {
			s.done = true
		}
	}
	return zero, io.EOF
}

// WindowSource yields fixed-size sliding windows of a source.
type WindowSource[T Timed] struct {
	src  Source[T]
	b    bounds
	size int
	buf  []T
}

// Window returns a source of size-record windows over src. A window is
// yielded each time a record arrives once the buffer is full and its center
// record, index size/2, is within [start, end]. Each yielded slice is a copy.
func Window[T Timed](src Source[T], size int, start, end time.Time) (*WindowSource[T], error) {
	if size <= 0 {
		return nil, ErrWindowSize
	}
	return &WindowSource[T]{
		src:  src,
		b:    newBounds(start, end, time.Now),
		size: size,
	}, nil
}

// Next returns the next qualifying window.
func (w *WindowSource[T]) Next() ([]T, error) {
	for {
		v, err := w.src.Next()
		if err != nil {
			return nil, err
		}
		if len(w.buf) == w.size {
			copy(w.buf, w.buf[1:])
			w.buf = w.buf[:w.size-1]
		}
		w.buf = append(w.buf, v)
		if len(w.buf) < w.size {
			continue
		}
		if !w.b.contains(w.buf[w.size/2].Time()) {
			continue
		}
		out := make([]T, w.size)
		copy(out, w.buf)
		return out, nil
	}
}

// ContinuousSource repeats the last record of a source forever.
type ContinuousSource[T Shifter[T]] struct {
	src       Source[T]
	step      time.Duration
	last      T
	have      bool
	exhausted bool
}

// Continuous passes src through and, once src returns io.EOF, keeps yielding
// its final record advanced by step on every call. The result never ends
// unless src was empty. Errors other than io.EOF are returned once and then
// treated as the end of src.
func Continuous[T Shifter[T]](src Source[T], step time.Duration) *ContinuousSource[T] {
	return &ContinuousSource[T]{src: src, step: step}
}

// Next returns the next record.
func (c *ContinuousSource[T]) Next() (T, error) {
	if !c.exhausted {
		v, err := c.src.Next()
		if err == nil {
			c.last, c.have = v, true
			return v, nil
		}
		c.exhausted = true
		if err != io.EOF {
			return v, err
		}
	}
	if !c.have {
		var zero T
		return zero, io.EOF
	}
	c.last = c.last.Shift(c.step)
	return c.last, nil
}
