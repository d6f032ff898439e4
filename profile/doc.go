// Package profile is the top-level container: a set of named libraries plus
// profile-level options, described by a versioned settings record.
//
// The descriptor lives in profile.yaml:
//
//	version: 3
//	libraries:
//	  - name: main
//	    root: libraries/main
//	    preferred_format: native
//	options:
//	  theme: dark
//
// On Open the settings record is migrated through the schema registry first
// (older descriptors and legacy profile.db databases are rewritten at the
// current version), then each library is opened. A library that fails to
// open is reported by Failures and excluded; it never fails the profile.
package profile
