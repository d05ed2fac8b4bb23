package apiclient

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Query holds request query parameters. Nil values are omitted, slices
// append one entry per element, and times serialize as ISO-8601 UTC.
type Query map[string]any

const placeholderOrigin = "http://placeholder.invalid"

var absoluteURL = regexp.MustCompile(`(?i)^https?://`)

// BuildURL joins base and path with exactly one separating slash and merges
// query into any query string already present on path. An absolute path
// ignores base. With an empty base the result is origin-relative.
func BuildURL(base, path string, query Query) string {
	var (
		u   *url.URL
		err error
	)
	switch {
	case absoluteURL.MatchString(path):
		u, err = url.Parse(path)
	case base != "":
		u, err = resolve(strings.TrimRight(base, "/")+"/", path)
	default:
		u, err = resolve(placeholderOrigin+"/", path)
	}
	if err != nil {
		return fallbackURL(base, path, query)
	}

	if len(query) > 0 {
		values := u.Query()
		applyQuery(values, query)
		u.RawQuery = values.Encode()
	}

	out := u.String()
	if base == "" && !absoluteURL.MatchString(path) {
		out = strings.TrimPrefix(out, placeholderOrigin)
	}
	return out
}

func resolve(base, path string) (*url.URL, error) {
	b, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse("./" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, err
	}
	return b.ResolveReference(ref), nil
}

// fallbackURL concatenates when either side does not parse.
func fallbackURL(base, path string, query Query) string {
	out := path
	if base != "" && !absoluteURL.MatchString(path) {
		out = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) == 0 {
		return out
	}
	values := url.Values{}
	applyQuery(values, query)
	sep := "?"
	if strings.Contains(out, "?") {
		sep = "&"
	}
	return out + sep + values.Encode()
}

func applyQuery(values url.Values, query Query) {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, ok := deref(query[k])
		if !ok {
			continue
		}
		rv := reflect.ValueOf(v)
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < rv.Len(); i++ {
				if elem, ok := deref(rv.Index(i).Interface()); ok {
					values.Add(k, formatValue(elem))
				}
			}
			continue
		}
		values.Set(k, formatValue(v))
	}
}

func deref(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	return rv.Interface(), true
}

func formatValue(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format("2006-01-02T15:04:05.000Z")
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
