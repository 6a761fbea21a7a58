//go:build !nocollective

package _default

import _ "github.com/gomlx/collective/backends/loopback"
