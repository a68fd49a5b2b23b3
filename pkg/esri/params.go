package esri

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// FormatParam renders a request parameter value the way the ArcGIS REST API
// expects it. The second return is false when the value must be omitted.
//
// nil values are omitted, slices are comma joined, maps and structs are JSON
// encoded, and zero numbers and false are kept.
func FormatParam(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint:
		return strconv.FormatUint(uint64(val), 10), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case time.Time:
		return strconv.FormatInt(val.UnixMilli(), 10), true
	case json.RawMessage:
		if len(val) == 0 {
			return "", false
		}
		return string(val), true
	case []string:
		return strings.Join(val, ","), val != nil
	case []int:
		return JoinInts(val), val != nil
	case fmt.Stringer:
		return val.String(), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "", false
		}
		if elem := rv.Elem(); elem.Kind() != reflect.Struct && elem.Kind() != reflect.Map {
			return FormatParam(elem.Interface())
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "", false
		}
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i).Interface()
			if isComposite(elem) {
				// arrays of objects (dynamicLayers, outStatistics) go out as JSON
				b, err := json.Marshal(v)
				if err != nil {
					return "", false
				}
				return string(b), true
			}
			if s, ok := FormatParam(elem); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ","), true
	case reflect.Map:
		if rv.IsNil() {
			return "", false
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func isComposite(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	if k == reflect.Pointer {
		k = reflect.TypeOf(v).Elem().Kind()
	}
	return k == reflect.Struct || k == reflect.Map
}

// EncodeParams converts a parameter bag into url.Values, dropping omitted values.
func EncodeParams(params map[string]any) url.Values {
	values := url.Values{}
	for k, v := range params {
		if s, ok := FormatParam(v); ok {
			values.Set(k, s)
		}
	}
	return values
}

// JoinInts joins integers with commas.
func JoinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// Param is one ordered query parameter of a URL template. Raw values are
// written verbatim, which keeps renderer placeholders like {bbox-epsg-3857}
// intact.
type Param struct {
	Key   string
	Value string
	Raw   bool
}

var keepReadable = strings.NewReplacer("%2C", ",", "%3A", ":")

// EscapeParam query-escapes a value but leaves commas and colons readable,
// so layer selections render as show:0,1.
func EscapeParam(v string) string {
	return keepReadable.Replace(url.QueryEscape(v))
}

// JoinQuery renders ordered parameters into a query string.
func JoinQuery(params []Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		if p.Raw {
			b.WriteString(p.Value)
		} else {
			b.WriteString(EscapeParam(p.Value))
		}
	}
	return b.String()
}
