// Package core defines the types shared by every layer of ndstore.
//
// # Identity
//
//   - ID: stable UUID naming one logical data item, independent of its file
//
// # Data
//
//   - DataItem: metadata document + optional Array payload + format tag + schema version
//   - Array: dense C-ordered n-dimensional array (DType, Shape, raw little-endian bytes)
//   - Format: container format tag (native, hierarchical)
package core
