package everything

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/schema"
)

// Prompts returns simple_prompt, complex_prompt and resource_prompt.
func Prompts() []mcpservice.Prompt {
	return []mcpservice.Prompt{
		{
			Name:        "simple_prompt",
			Description: "A prompt without arguments",
			Handler:     simplePrompt,
		},
		{
			Name:        "complex_prompt",
			Description: "A prompt with arguments",
			Arguments: []mcp.PromptArgument{
				{Name: "temperature", Description: "Temperature setting", Required: true},
				{Name: "style", Description: "Output style"},
			},
			Handler: complexPrompt,
		},
		{
			Name:        "resource_prompt",
			Description: "A prompt that includes an embedded resource reference",
			Arguments: []mcp.PromptArgument{
				{Name: "resourceId", Description: "Resource ID to include (1-100)", Required: true},
			},
			Handler: resourcePrompt,
		},
	}
}

func userText(text string) mcp.PromptMessage {
	return mcp.PromptMessage{Role: mcp.RoleUser, Content: mcpservice.TextContent(text)}
}

func simplePrompt(context.Context, map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{userText("This is a simple prompt without arguments.")},
	}, nil
}

func complexPrompt(_ context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	style := args["style"]
	if style == "" {
		style = "standard"
	}
	return &mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{
			userText(fmt.Sprintf("This is a complex prompt using temperature: %s and style: %s", args["temperature"], style)),
			{Role: mcp.RoleAssistant, Content: mcpservice.TextContent("I'll demonstrate a multi-turn conversation with image response.")},
			{Role: mcp.RoleAssistant, Content: mcpservice.ImageContent(tinyImage, "image/png")},
			userText("Thanks for the detailed response with image!"),
		},
	}, nil
}

func resourcePrompt(_ context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	raw := args["resourceId"]
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 || id > staticResourceCount {
		return nil, &schema.ValidationError{Path: "resourceId", Constraint: "integer between 1 and 100", Value: raw}
	}
	return &mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{
			userText(fmt.Sprintf("This prompt includes Resource %d. Please analyze the following resource:", id)),
			{Role: mcp.RoleUser, Content: mcpservice.EmbeddedResource(staticContents(id))},
		},
	}, nil
}
