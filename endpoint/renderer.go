package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONRenderer writes Value as JSON with Status (200 when zero). HTML
// characters are not escaped. An encoding failure is returned after the
// status has been written.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}

// StringRenderer writes Body with Status (200 when zero). ContentType
// defaults to plain text and never replaces a Content-Type already set.
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

func (sr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	if w.Header().Get("Content-Type") == "" {
		ct := sr.ContentType
		if ct == "" {
			ct = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", ct)
	}
	status := sr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if sr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(sr.Body))
	return err
}

// NoContentRenderer writes Status (204 when zero) and no body.
type NoContentRenderer struct {
	Status int
}

func (nr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	status := nr.Status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	return nil
}
