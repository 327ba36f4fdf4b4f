package openai

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// DefaultAzureAPIVersion is used when AzureOptions.APIVersion is empty.
const DefaultAzureAPIVersion = "2024-06-01"

// AzureOptions configure an Azure OpenAI deployment.
type AzureOptions struct {
	Endpoint   string
	APIVersion string
	// Deployment is sent as the model name.
	Deployment string
	// APIKey selects key authentication. When empty, Credential is used, and
	// when that is nil too the default Azure credential chain.
	APIKey     string
	Credential azcore.TokenCredential
}

// NewAzureModel creates a model backed by an Azure OpenAI deployment.
func NewAzureModel(az AzureOptions, optFns ...func(o *Options)) (*Model, error) {
	if az.Endpoint == "" {
		return nil, fmt.Errorf("azure openai: endpoint is required")
	}
	if az.APIVersion == "" {
		az.APIVersion = DefaultAzureAPIVersion
	}

	clientOpts := []option.RequestOption{azure.WithEndpoint(az.Endpoint, az.APIVersion)}
	switch {
	case az.APIKey != "":
		clientOpts = append(clientOpts, azure.WithAPIKey(az.APIKey))
	default:
		cred := az.Credential
		if cred == nil {
			dc, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("azure openai: default credential: %w", err)
			}
			cred = dc
		}
		clientOpts = append(clientOpts, azure.WithTokenCredential(cred))
	}

	client := openai.NewClient(clientOpts...)

	fns := append([]func(o *Options){func(o *Options) {
		o.Provider = "azure"
		if az.Deployment != "" {
			o.Model = az.Deployment
		}
	}}, optFns...)

	return NewModelFromClient(&client, fns...), nil
}
