package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values  map[string]string
	batches [][]string
	err     error
}

func (f *fakeSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

var _ SecretProvider = (*SSMProvider)(nil)
var _ SecretProvider = (*EnvVarProvider)(nil)

func TestSSMProvider_Batches(t *testing.T) {
	values := make(map[string]string)
	keys := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		k := "/coachkit/dev/p" + string(rune('a'+i))
		values[k] = "v"
		keys = append(keys, k)
	}
	client := &fakeSSM{values: values}

	got, err := NewSSMProviderWithClient(client).GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)

	assert.Len(t, got, 23)
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProvider_InvalidParameter(t *testing.T) {
	client := &fakeSSM{values: map[string]string{}}

	_, err := NewSSMProviderWithClient(client).GetParametersBatch(context.Background(), []string{"/missing"})
	assert.ErrorContains(t, err, "not found")
}

func TestSSMProvider_ClientError(t *testing.T) {
	client := &fakeSSM{err: errors.New("access denied")}

	_, err := NewSSMProviderWithClient(client).GetParametersBatch(context.Background(), []string{"/a"})
	assert.ErrorContains(t, err, "access denied")
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	got, err := NewSSMProvider("us-east-1").GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSSMProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSSMProviderWithClient(&fakeSSM{}).GetParametersBatch(ctx, []string{"/a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnvVarProvider(t *testing.T) {
	p := &EnvVarProvider{lookup: func(k string) (string, bool) {
		if k == "PRESENT" {
			return "yes", true
		}
		return "", false
	}}

	got, err := p.GetParametersBatch(context.Background(), []string{"PRESENT", "ABSENT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PRESENT": "yes"}, got)
}
