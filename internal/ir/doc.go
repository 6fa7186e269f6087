// Package ir holds the data model shared by every ghjk component and the
// content addresser that gives each piece of it a stable id.
//
// This package contains types and hashing only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types in hashed content - numbers are int64
//   - Ids are computed from canonical JSON (sorted keys, NFC strings,
//     no HTML escaping) hashed with SHA-256 under a per-kind domain
//   - Install ids are computed from resolved configs only, so two
//     declarations that pin to the same version share one install
//   - All JSON tags use snake_case
package ir
