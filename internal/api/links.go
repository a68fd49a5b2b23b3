package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-esri/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/services>; rel="services"`,
		`</api/v1/style.json>; rel="style"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/services>; rel="services"`,
	},
	"/api/v1/services": {
		`</api/v1/style.json>; rel="style"`,
		`</api/v1/events>; rel="events"`,
	},
	"/api/v1/services/{id}": {
		`</api/v1/services>; rel="collection"`,
		`</api/v1/tasks/identify>; rel="identify"; method="POST"`,
	},
	"/api/v1/style.json": {
		`</api/v1/services>; rel="services"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers, including the actions advertised by humastar.Actor bodies.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if actor, ok := v.(humastar.Actor); ok && strings.HasPrefix(status, "2") {
			for _, a := range actor.Actions() {
				ctx.AppendHeader("Link", a.LinkHeader())
			}
		}

		return v, nil
	}
}
