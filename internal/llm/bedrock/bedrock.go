// Package bedrock sends composed completion requests to Amazon Bedrock's
// InvokeModel API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/duckmesh/sqlagent/internal/llm"
)

const contentTypeJSON = "application/json"

type Config struct {
	Region   string
	Profile  string
	Endpoint string
	Timeout  time.Duration
}

// Client is the subset of the bedrockruntime client used here.
type Client interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Transport struct {
	client Client
}

func New(ctx context.Context, cfg Config) (*Transport, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		return nil, fmt.Errorf("bedrock region is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if profile := strings.TrimSpace(cfg.Profile); profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	if cfg.Timeout > 0 {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(cfg.Timeout)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewWithClient(client)
}

func NewWithClient(client Client) (*Transport, error) {
	if client == nil {
		return nil, fmt.Errorf("bedrock client is required")
	}
	return &Transport{client: client}, nil
}

func (t *Transport) Invoke(ctx context.Context, invocation llm.Invocation) ([]byte, error) {
	out, err := t.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(invocation.ModelID),
		Body:        invocation.Body,
		ContentType: aws.String(contentTypeJSON),
		Accept:      aws.String(contentTypeJSON),
	})
	if err != nil {
		return nil, classify(invocation.ModelID, err)
	}
	if out == nil {
		return nil, &llm.TransportError{ModelID: invocation.ModelID, Err: errors.New("empty invoke output")}
	}
	return out.Body, nil
}

var authErrorCodes = map[string]bool{
	"AccessDeniedException":       true,
	"UnrecognizedClientException": true,
	"ExpiredTokenException":       true,
	"InvalidSignatureException":   true,
}

func classify(modelID string, err error) error {
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%w: %s: %s", llm.ErrAuthentication, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: status %d: %v", llm.ErrAuthentication, status, err)
	}
	return &llm.TransportError{ModelID: modelID, StatusCode: status, Err: err}
}
