package core

import (
	"reflect"

	"github.com/encodeous/orpl/state"
)

func Get[T state.NyModule](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}

func rankDiff(a, b state.Rank) uint32 {
	if a > b {
		return uint32(a - b)
	}
	return uint32(b - a)
}
