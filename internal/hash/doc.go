// Package hash provides the CRC32-Castagnoli checksums used by native
// container files.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For a checksum spanning header, metadata, and payload:
//
//	checksum := hash.CRC32CParts(header, meta, payload)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	checksum := h.Sum32()
package hash
