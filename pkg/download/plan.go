package download

import "fmt"

// Range is an inclusive byte interval.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Header renders r as the value of a Range request header.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Plan splits [0, total) into parts contiguous ranges. All parts but the last are total/parts bytes long, the
// last one takes the remainder.
func Plan(total int64, parts int) ([]Range, error) {
	if total <= 0 || parts <= 0 {
		return nil, fmt.Errorf("%w: %d bytes in %d parts", ErrInvalidPlan, total, parts)
	}
	if int64(parts) > total {
		return nil, fmt.Errorf("%w: %d parts exceed %d bytes", ErrInvalidPlan, parts, total)
	}
	partSize := total / int64(parts)
	ranges := make([]Range, parts)
	for i := range ranges {
		start := int64(i) * partSize
		end := start + partSize - 1
		if i == parts-1 {
			end = total - 1
		}
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges, nil
}
