// Package httputil provides HTTP request and response helpers.
package httputil

import "io"

// ReadAllWithLimit reads at most limit bytes and reports whether the body
// was longer than that.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
