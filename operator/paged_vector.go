package operator

// PagedVector is an append-only sequence of fixed-width records stored
// as a list of pages, used by the join build side (and suitable for any
// other variable-length-collection build state). Pages are allocated
// lazily and never reclaimed until the owning slice is destroyed.
type PagedVector struct {
	recordSize    int
	recordsPerPage int
	pages         [][]byte
	count         int
}

// NewPagedVector creates a PagedVector whose pages hold pageBytes worth
// of recordSize-byte records each.
func NewPagedVector(recordSize, pageBytes int) *PagedVector {
	perPage := pageBytes / recordSize
	if perPage < 1 {
		perPage = 1
	}
	return &PagedVector{recordSize: recordSize, recordsPerPage: perPage}
}

// Append copies record (which must be exactly RecordSize bytes) onto the
// end of the vector, allocating a new page if the current one is full.
func (v *PagedVector) Append(record []byte) {
	pageIdx := v.count / v.recordsPerPage
	for len(v.pages) <= pageIdx {
		v.pages = append(v.pages, make([]byte, v.recordsPerPage*v.recordSize))
	}
	offsetInPage := (v.count % v.recordsPerPage) * v.recordSize
	copy(v.pages[pageIdx][offsetInPage:offsetInPage+v.recordSize], record)
	v.count++
}

// Len returns the number of appended records.
func (v *PagedVector) Len() int { return v.count }

// At returns the i-th record as a view into its backing page.
func (v *PagedVector) At(i int) []byte {
	pageIdx := i / v.recordsPerPage
	offsetInPage := (i % v.recordsPerPage) * v.recordSize
	return v.pages[pageIdx][offsetInPage : offsetInPage+v.recordSize]
}

// Iter enumerates every record in append order.
func (v *PagedVector) Iter(yield func(record []byte)) {
	for i := 0; i < v.count; i++ {
		yield(v.At(i))
	}
}
