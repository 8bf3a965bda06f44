package gstate

import (
	"github.com/goliatone/go-global-state/internal/hydrate"
)

// GetAs reads path and decodes it into T. Values already of type T are
// returned as is; JSON-like trees (for instance state rehydrated after server
// rendering) are decoded through their JSON form.
func GetAs[T any](gs *GlobalState, path string, opts ...GetOption) (T, error) {
	return hydrate.NewDecoder[T]().Decode(hydrate.Context{Path: path}, gs.Get(path, opts...))
}

// DataAs decodes the data of an async result into T.
func DataAs[T any](result AsyncResult) (T, error) {
	return hydrate.NewDecoder[T]().Decode(hydrate.Context{Path: "data"}, result.Data)
}
