package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/sqlagent/internal/llm"
)

type fakeClient struct {
	input *bedrockruntime.InvokeModelInput
	out   *bedrockruntime.InvokeModelOutput
	err   error
}

func (f *fakeClient) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	return f.out, f.err
}

func TestInvokeSendsModelAndBody(t *testing.T) {
	client := &fakeClient{out: &bedrockruntime.InvokeModelOutput{Body: []byte(`{"completion":"ok"}`)}}
	transport, err := NewWithClient(client)
	require.NoError(t, err)

	raw, err := transport.Invoke(context.Background(), llm.Invocation{ModelID: "anthropic.claude-v2", Body: []byte(`{"prompt":"x"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"completion":"ok"}`, string(raw))
	require.NotNil(t, client.input)
	assert.Equal(t, "anthropic.claude-v2", *client.input.ModelId)
	assert.Equal(t, "application/json", *client.input.ContentType)
	assert.Equal(t, "application/json", *client.input.Accept)
	assert.JSONEq(t, `{"prompt":"x"}`, string(client.input.Body))
}

func TestInvokeMapsAccessDeniedToAuthentication(t *testing.T) {
	client := &fakeClient{err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no access"}}
	transport, err := NewWithClient(client)
	require.NoError(t, err)

	_, err = transport.Invoke(context.Background(), llm.Invocation{ModelID: "anthropic.claude-v2"})
	assert.ErrorIs(t, err, llm.ErrAuthentication)
}

func TestInvokeWrapsOtherErrorsAsTransportError(t *testing.T) {
	cause := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	transport, err := NewWithClient(&fakeClient{err: cause})
	require.NoError(t, err)

	_, err = transport.Invoke(context.Background(), llm.Invocation{ModelID: "cohere.command-text-v14"})
	var transportErr *llm.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "cohere.command-text-v14", transportErr.ModelID)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, llm.ErrAuthentication)
}

func TestNewWithClientRequiresClient(t *testing.T) {
	_, err := NewWithClient(nil)
	require.Error(t, err)
}

func TestNewRequiresRegion(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
