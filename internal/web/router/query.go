package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/armature-dev/armature/engine"
	"github.com/armature-dev/armature/store"
)

// reservedParams are query keys with paging and ordering meaning; every
// other key is a filter term.
var reservedParams = map[string]bool{
	"limit":    true,
	"offset":   true,
	"sort":     true,
	"declared": true,
}

const maxBodyBytes = 1 << 20

// parseListParams turns a query string into list parameters. Filter
// terms use "field=value" for equality and "field:op=value" for the
// other comparisons, e.g. price:gte=10. Sort keys are comma separated,
// with a leading "-" for descending order.
func parseListParams(values url.Values) (engine.ListParams, error) {
	var params engine.ListParams

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return params, fmt.Errorf("invalid limit %q", raw)
		}
		params.Limit = n
	}
	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return params, fmt.Errorf("invalid offset %q", raw)
		}
		params.Offset = n
	}

	for _, key := range strings.Split(values.Get("sort"), ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		desc := strings.HasPrefix(key, "-")
		params.Sort = append(params.Sort, store.Sort{Field: strings.TrimPrefix(key, "-"), Desc: desc})
	}

	for key, vals := range values {
		if reservedParams[key] {
			continue
		}
		field, opName := key, ""
		if i := strings.IndexByte(key, ':'); i >= 0 {
			field, opName = key[:i], key[i+1:]
		}
		op, err := store.ParseOp(opName)
		if err != nil {
			return params, err
		}
		if params.Filter == nil {
			params.Filter = store.NewFilter()
		}
		for _, v := range vals {
			params.Filter.Add(field, op, coerceValue(v))
		}
	}

	return params, nil
}

// coerceValue converts numeric and boolean looking query values so
// range comparisons work against typed record attributes.
func coerceValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// decodeBody reads a JSON object body into a record. An empty body
// yields a nil record.
func decodeBody(r *http.Request) (store.Record, error) {
	var rec store.Record
	if err := decodeJSON(r, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// decodeJSON decodes a bounded JSON body into dst. An empty body leaves
// dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()

	err := json.NewDecoder(body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
