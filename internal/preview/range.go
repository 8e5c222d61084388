package preview

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

func (r Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses a single-range Range header against a body of size
// bytes. Only the first range of a multi-range request is honored. An empty
// header yields a nil range and no error.
func ParseRange(header string, size int64) (*Range, error) {
	if header == "" {
		return nil, nil
	}

	ranges, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(ranges, ","); multi {
		ranges = strings.TrimSpace(first)
	}

	from, to, ok := strings.Cut(ranges, "-")
	if !ok || strings.Contains(to, "-") {
		return nil, ErrInvalidRange
	}

	var r Range
	if from == "" {
		// suffix form: last N bytes
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return nil, ErrInvalidRange
		}
		r.Start = max(size-n, 0)
		r.End = size - 1
	} else {
		start, err := strconv.ParseInt(from, 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}
		r.Start = start
		r.End = size - 1
		if to != "" {
			end, err := strconv.ParseInt(to, 10, 64)
			if err != nil {
				return nil, ErrInvalidRange
			}
			r.End = end
		}
	}

	if r.Start > r.End || r.Start >= size {
		return nil, ErrUnsatisfiable
	}
	r.End = min(r.End, size-1)
	return &r, nil
}
