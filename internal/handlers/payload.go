package handlers

import (
	"bytes"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// maxBodyBytes caps how much of a webhook body is read.
const maxBodyBytes = 1 << 20

// payload is the set of webhook fields the relay cares about, trimmed.
type payload struct {
	From    string
	To      string
	Message string
	SMSID   string
}

// source extracts a flat field mapping from one part of the request.  An
// empty (or nil) mapping means "nothing here, try the next source".
type source struct {
	name    string
	extract func(r *http.Request, body []byte) map[string]string
}

// payloadSources are tried in order; the first non-empty mapping wins even
// if it lacks the fields we need.  Providers differ in where they put the
// data, and GET and POST are handled the same way.
var payloadSources = []source{
	{"form", formBody},
	{"query", queryParams},
	{"json", jsonBody},
}

func extractPayload(r *http.Request, body []byte) (payload, string) {
	for _, src := range payloadSources {
		fields := src.extract(r, body)
		if len(fields) == 0 {
			continue
		}
		return payload{
			From:    strings.TrimSpace(fields["from"]),
			To:      strings.TrimSpace(fields["to"]),
			Message: strings.TrimSpace(fields["message"]),
			SMSID:   strings.TrimSpace(fields["sms_id"]),
		}, src.name
	}
	return payload{}, ""
}

// formBody reads url-encoded or multipart form fields from the body,
// whatever the request method.
func formBody(r *http.Request, body []byte) map[string]string {
	if len(body) == 0 {
		return nil
	}
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		// ParseQuery keeps the pairs it could decode on error.
		values, _ := url.ParseQuery(string(body))
		return first(values)
	case "multipart/form-data":
		form, err := multipart.NewReader(bytes.NewReader(body), params["boundary"]).ReadForm(maxBodyBytes)
		if err != nil {
			return nil
		}
		defer form.RemoveAll()
		return first(form.Value)
	}
	return nil
}

func queryParams(r *http.Request, _ []byte) map[string]string {
	return first(r.URL.Query())
}

// jsonBody reads a JSON object body.  String and number values are kept;
// anything else (objects, arrays, booleans, null) is ignored.
func jsonBody(r *http.Request, body []byte) map[string]string {
	if len(body) == 0 || !isJSON(r.Header.Get("Content-Type")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil
	}

	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch v := v.(type) {
		case string:
			fields[k] = v
		case json.Number:
			fields[k] = v.String()
		}
	}
	return fields
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func first(values map[string][]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		} else {
			out[k] = ""
		}
	}
	return out
}
