// Package mmap maps container files read-only into memory.
//
// Large native containers are decoded straight from the mapping; the
// payload section is prefetched once its offset is known from the header:
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//
//	hdr, _ := codec.ParseNativeHeader(m.Bytes())
//	_, _ = m.Section(int(hdr.PayloadOffset()), int(hdr.PayloadLen), mmap.HintWillNeed)
//
// Bytes returned by a Mapping are valid only until Close.
package mmap
