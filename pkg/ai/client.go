// Package ai wraps the language-model client behind a narrow interface so
// the plan generator can be tested without network access.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

// LLMClient generates a completion for a prompt.
type LLMClient interface {
	GetChatCompletion(ctx context.Context, promptText string) (string, error)
}

// AzOpenAIClient is the production client backed by Azure OpenAI.
type AzOpenAIClient struct {
	client       *azopenai.Client
	deploymentID string
	maxTokens    int32
	temperature  float32
}

// NewAzOpenAIClient creates a client using the provided credentials. The
// deploymentID is used for all subsequent API calls.
func NewAzOpenAIClient(endpoint, apiKey, deploymentID string) (*AzOpenAIClient, error) {
	keyCredential := azcore.NewKeyCredential(apiKey)
	client, err := azopenai.NewClientWithKeyCredential(endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating Azure OpenAI client: %w", err)
	}
	return &AzOpenAIClient{
		client:       client,
		deploymentID: deploymentID,
		maxTokens:    2048,
		temperature:  0.1,
	}, nil
}

// GetChatCompletion sends a prompt to the LLM and returns the completion text.
func (c *AzOpenAIClient) GetChatCompletion(ctx context.Context, promptText string) (string, error) {
	resp, err := c.client.GetChatCompletions(
		ctx,
		azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(c.deploymentID),
			MaxTokens:      to.Ptr(c.maxTokens),
			Temperature:    to.Ptr(c.temperature),
			Messages: []azopenai.ChatRequestMessageClassification{
				&azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(promptText),
				},
			},
		},
		nil,
	)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}
	return "", errors.New("no completion received from LLM")
}

// FakeLLMClient returns canned responses in order, for tests.
type FakeLLMClient struct {
	Responses []string
	Err       error
	Prompts   []string

	next int
}

var _ LLMClient = (*FakeLLMClient)(nil)

func (f *FakeLLMClient) GetChatCompletion(_ context.Context, promptText string) (string, error) {
	f.Prompts = append(f.Prompts, promptText)
	if f.Err != nil {
		return "", f.Err
	}
	if f.next >= len(f.Responses) {
		return "", errors.New("fake LLM client exhausted")
	}
	resp := f.Responses[f.next]
	f.next++
	return resp, nil
}
