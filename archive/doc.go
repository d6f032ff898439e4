// Package archive moves libraries between machines through a blobstore.
//
// Export uploads every item below a prefix and commits a listing:
//
//	<prefix>/items/<identifier>/<crc32c><extension>
//	<prefix>/ARCHIVE-000001.json
//	<prefix>/CURRENT              -> ARCHIVE-000001.json
//
// Listings are never rewritten. Each export claims the next sequence number,
// so two exporters racing on one prefix cannot both commit. Import reads
// the listing CURRENT points to (or an explicit sequence), verifies each
// item against its recorded checksum and stores it in the target library.
// Prune drops old listings and unreferenced item blobs.
package archive
