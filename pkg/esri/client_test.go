package esri

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	timeout := 30 * time.Second
	client := NewClient(timeout)

	if client.Timeout != timeout {
		t.Errorf("NewClient timeout = %v; want %v", client.Timeout, timeout)
	}
	if client.HTTPClient == nil || client.HTTPClient.Timeout != timeout {
		t.Errorf("NewClient HTTPClient = %+v; want timeout %v", client.HTTPClient, timeout)
	}
}

func TestClientRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Method == http.MethodPost {
				r.ParseForm()
				w.Write([]byte(`{"echo":"` + r.PostForm.Get("where") + `"}`))
				return
			}
			w.Write([]byte(`{"echo":"` + r.URL.Query().Get("where") + `"}`))
		case "/apierror":
			w.Write([]byte(`{"error":{"code":400,"message":"Invalid query","details":[]}}`))
		case "/missing":
			http.NotFound(w, r)
		case "/garbage":
			w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	ctx := context.Background()
	params := url.Values{"where": {"1=1"}}

	var out struct {
		Echo string `json:"echo"`
	}
	if err := c.Get(ctx, srv.URL+"/ok", params, &out); err != nil || out.Echo != "1=1" {
		t.Errorf("Get = %+v, %v; want echo 1=1", out, err)
	}
	out.Echo = ""
	if err := c.Post(ctx, srv.URL+"/ok", params, &out); err != nil || out.Echo != "1=1" {
		t.Errorf("Post = %+v, %v; want echo 1=1", out, err)
	}

	err := c.Get(ctx, srv.URL+"/apierror", nil, &out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Invalid query" {
		t.Errorf("api error = %v; want *APIError Invalid query", err)
	}

	err = c.Get(ctx, srv.URL+"/missing", nil, &out)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("http error = %v; want *HTTPError 404", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should contain the status code", err)
	}

	if err := c.Get(ctx, srv.URL+"/garbage", nil, &out); err == nil {
		t.Error("expected JSON parse error")
	}

	if !c.Probe(ctx, srv.URL+"/ok", nil) {
		t.Error("Probe(/ok) = false; want true")
	}
	if c.Probe(ctx, srv.URL+"/missing", nil) {
		t.Error("Probe(/missing) = true; want false")
	}
}

func TestCleanURLAndLayers(t *testing.T) {
	if got := CleanURL("  https://host/MapServer/ "); got != "https://host/MapServer" {
		t.Errorf("CleanURL = %q", got)
	}

	tests := []struct {
		input any
		want  string
	}{
		{[]int{0, 1}, "visible:0,1"},
		{3, "visible:3"},
		{"all", "all"},
		{[]any{2.0, 4.0}, "visible:2,4"},
	}
	for _, tt := range tests {
		got, err := NormalizeLayers(tt.input)
		if err != nil || got != tt.want {
			t.Errorf("NormalizeLayers(%v) = %q, %v; want %q", tt.input, got, err, tt.want)
		}
	}

	sib, ok := SiblingURL("https://host/arcgis/rest/services/Parcels/FeatureServer/0", "FeatureServer", "VectorTileServer")
	if !ok || sib != "https://host/arcgis/rest/services/Parcels/VectorTileServer" {
		t.Errorf("SiblingURL = %q, %v", sib, ok)
	}
}
