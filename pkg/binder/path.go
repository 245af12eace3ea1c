package binder

import (
	"fmt"
	"net/http"
)

// Path binds route parameters to fields tagged `path:"name"`. The extractor
// is the router's lookup, e.g. chi.URLParam.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor is nil", ErrFailedToParsePath)
		}
		return bindToStruct(v, "path", pathValues{r: r, extract: extractor}, ErrFailedToParsePath)
	}
}

type pathValues struct {
	r       *http.Request
	extract func(*http.Request, string) string
}

func (p pathValues) lookup(name string) []string {
	if v := p.extract(p.r, name); v != "" {
		return []string{v}
	}
	return nil
}
