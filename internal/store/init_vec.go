//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// vec.Auto() registers sqlite-vec as an auto-loadable extension for
	// any subsequently opened cgo sqlite connection.
	vec.Auto()
}
