package mcpservice

import (
	"fmt"

	"github.com/ggoodman/mcp-everything-go/mcp"
)

// TextContent builds a text content block.
func TextContent(text string) mcp.ContentBlock {
	return mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text}
}

// ImageContent builds an image block from base64 data.
func ImageContent(data, mimeType string) mcp.ContentBlock {
	return mcp.ContentBlock{Type: mcp.ContentTypeImage, Data: data, MimeType: mimeType}
}

// EmbeddedResource wraps resource contents in a content block.
func EmbeddedResource(rc mcp.ResourceContents) mcp.ContentBlock {
	return mcp.ContentBlock{Type: mcp.ContentTypeResource, Resource: &rc}
}

// TextResult is a successful result holding a single text block.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{TextContent(text)}}
}

// Errorf is an error result holding a single formatted text block.
func Errorf(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{TextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}
