package everything

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/registry"
)

const (
	staticResourceCount = 100
	staticURIPrefix     = "test://static/resource/"
)

// StaticURI returns the URI of the numbered static resource.
func StaticURI(id int) string { return staticURIPrefix + strconv.Itoa(id) }

// staticContents renders resource id. Odd ids are plain text, even ids are
// base64 blobs.
func staticContents(id int) mcp.ResourceContents {
	uri := StaticURI(id)
	if id%2 != 0 {
		return mcp.ResourceContents{
			URI:      uri,
			MimeType: "text/plain",
			Text:     fmt.Sprintf("Resource %d: This is a plaintext resource", id),
		}
	}
	return mcp.ResourceContents{
		URI:      uri,
		MimeType: "application/octet-stream",
		Blob:     base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "Resource %d: This is a base64 blob", id)),
	}
}

// Resources returns the numbered static resources in id order.
func Resources() []mcpservice.Resource {
	out := make([]mcpservice.Resource, 0, staticResourceCount)
	for id := 1; id <= staticResourceCount; id++ {
		rc := staticContents(id)
		out = append(out, mcpservice.Resource{
			URI:      rc.URI,
			Name:     fmt.Sprintf("Resource %d", id),
			MimeType: rc.MimeType,
			Handler: func(context.Context, string) ([]mcp.ResourceContents, error) {
				return []mcp.ResourceContents{rc}, nil
			},
		})
	}
	return out
}

// Template resolves test://static/resource/{id} for any id in range,
// including ids addressed without going through the listing.
func Template() mcpservice.ResourceTemplate {
	return mcpservice.ResourceTemplate{
		URITemplate: staticURIPrefix + "{id}",
		Name:        "Static Resource",
		Description: "A static resource with a numeric ID",
		Handler: func(_ context.Context, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
			id, err := strconv.Atoi(vars["id"])
			if err != nil || id < 1 || id > staticResourceCount {
				return nil, &registry.NotFoundError{Kind: registry.KindResource, Name: uri}
			}
			return []mcp.ResourceContents{staticContents(id)}, nil
		},
	}
}
