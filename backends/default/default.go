// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default collective backends, namely the in-process "loopback" backend.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/collective/backends/default"
//
// If you add the tag `nocollective` it will not include any backend: the collective operators then
// fail every call with a precondition error, which is the behavior of a build without accelerator support.
package _default
