// Package esri holds the ArcGIS REST plumbing shared by services and tasks:
// the HTTP client, request parameter serialization, Esri JSON geometry to
// GeoJSON conversion, the filter DSL and service metadata.
package esri

import (
	"fmt"
	"strconv"
	"strings"
)

// CleanURL trims whitespace and trailing slashes from a service URL.
func CleanURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// AppendToken adds a token parameter to a URL or tile template, joining
// with & when the template already carries a query string.
func AppendToken(tmpl, token string) string {
	if token == "" {
		return tmpl
	}
	sep := "?"
	if strings.Contains(tmpl, "?") {
		sep = "&"
		if strings.HasSuffix(tmpl, "?") || strings.HasSuffix(tmpl, "&") {
			sep = ""
		}
	}
	return tmpl + sep + "token=" + EscapeParam(token)
}

// NormalizeLayers renders a layer selection for identify/export requests.
// A slice of ids becomes visible:<ids>, a bare id becomes visible:<id> and
// strings such as "all" or "top:1,2" pass through unchanged.
func NormalizeLayers(v any) (string, error) {
	switch l := v.(type) {
	case nil:
		return "", nil
	case string:
		return l, nil
	case int:
		return "visible:" + strconv.Itoa(l), nil
	case []int:
		return "visible:" + JoinInts(l), nil
	case []any:
		ids := make([]int, 0, len(l))
		for _, item := range l {
			switch n := item.(type) {
			case int:
				ids = append(ids, n)
			case float64:
				ids = append(ids, int(n))
			default:
				return "", fmt.Errorf("esri: invalid layer id %v", item)
			}
		}
		return "visible:" + JoinInts(ids), nil
	case float64:
		return "visible:" + strconv.Itoa(int(l)), nil
	}
	return "", fmt.Errorf("esri: invalid layer selection %T", v)
}

// SiblingURL swaps the server type segment of a service URL, e.g. a
// FeatureServer layer URL to its VectorTileServer. The layer id suffix is
// dropped. ok is false when from is not part of the URL.
func SiblingURL(serviceURL, from, to string) (string, bool) {
	u := CleanURL(serviceURL)
	idx := strings.Index(strings.ToLower(u), "/"+strings.ToLower(from))
	if idx < 0 {
		return "", false
	}
	return u[:idx] + "/" + to, true
}
