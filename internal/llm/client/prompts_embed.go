package client

import (
	"embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// embeddedPrompts holds the built-in prompt templates so packaged executables
// can load them without needing access to the source tree.
//
//go:embed prompts/*.txt
var embeddedPrompts embed.FS

func loadTemplate(stage Stage) (*prompt.DefaultChatTemplate, error) {
	system, err := embeddedPrompts.ReadFile(fmt.Sprintf("prompts/%s_system.txt", stage))
	if err != nil {
		return nil, fmt.Errorf("load %s system prompt: %w", stage, err)
	}
	user, err := embeddedPrompts.ReadFile(fmt.Sprintf("prompts/%s_user.txt", stage))
	if err != nil {
		return nil, fmt.Errorf("load %s user prompt: %w", stage, err)
	}
	return prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(string(system)),
		schema.UserMessage(string(user)),
	), nil
}
