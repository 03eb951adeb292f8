package crawler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// titleErrorPrefix tags resolution failures inside the archived string value.
const titleErrorPrefix = "Error, couldn't get title: "

// TitleResult is either a page title or the error that prevented resolving it.
type TitleResult struct {
	Title string
	Err   error
}

// TitleOK wraps a resolved title. An empty title means the page had none.
func TitleOK(title string) TitleResult {
	return TitleResult{Title: title}
}

// TitleFailed wraps a resolution failure.
func TitleFailed(err error) TitleResult {
	return TitleResult{Err: err}
}

// Failed reports whether the lookup failed.
func (r TitleResult) Failed() bool {
	return r.Err != nil
}

// String renders the archived value: the title, or an error-tagged message.
func (r TitleResult) String() string {
	if r.Err != nil {
		return titleErrorPrefix + r.Err.Error()
	}
	return r.Title
}

func parseTitleResult(s string) TitleResult {
	if msg, ok := strings.CutPrefix(s, titleErrorPrefix); ok {
		return TitleFailed(errors.New(msg))
	}
	return TitleOK(s)
}

// TitleMap maps URL to TitleResult and remembers first-insertion order, which
// is also the order used when serialized. The zero value is ready to use.
type TitleMap struct {
	keys   []string
	values map[string]TitleResult
}

// Set stores the result for url. Re-setting a url keeps its original position.
func (m *TitleMap) Set(url string, result TitleResult) {
	if m.values == nil {
		m.values = make(map[string]TitleResult)
	}
	if _, ok := m.values[url]; !ok {
		m.keys = append(m.keys, url)
	}
	m.values[url] = result
}

// Get returns the result stored for url.
func (m TitleMap) Get(url string) (TitleResult, bool) {
	r, ok := m.values[url]
	return r, ok
}

// Len returns the number of distinct URLs.
func (m TitleMap) Len() int {
	return len(m.keys)
}

// Keys returns the URLs in insertion order.
func (m TitleMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

// MarshalJSON encodes the map as a JSON object in insertion order without
// HTML escaping.
func (m TitleMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeString(&buf, m.values[k].String()); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object produced by MarshalJSON, keeping key order.
func (m *TitleMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read url_titles: %w", err)
	}
	if tok == nil {
		*m = TitleMap{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("url_titles: expected object, got %v", tok)
	}
	out := TitleMap{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read url_titles key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("url_titles: non-string key %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("read url_titles[%q]: %w", key, err)
		}
		out.Set(key, parseTitleResult(value))
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read url_titles end: %w", err)
	}
	*m = out
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode string: %w", err)
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
