package llm

import (
	"context"
	"fmt"
)

// Docstring asks for documentation comments for a piece of code.
func (c *Client) Docstring(ctx context.Context, code string) (Result, error) {
	return c.Generate(ctx, nil, "Generate proper docstrings for the following function:\n\n"+code+"\n")
}

// Readme asks for a README explaining a feature.
func (c *Client) Readme(ctx context.Context, name, description string) (Result, error) {
	return c.Generate(ctx, nil, fmt.Sprintf("Write a README doc explaining the feature `%s`:\n\n%s\n", name, description))
}
