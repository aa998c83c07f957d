// Package secrets resolves credentials from AWS Systems Manager Parameter
// Store so API keys can stay out of the environment.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is satisfied by *ssm.Client.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter reads one decrypted parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// SSM wraps an SSM API for parameter retrieval.
type SSM struct {
	api ssmAPI
}

// NewSSM returns a Getter backed by api.
func NewSSM(api ssmAPI) (*SSM, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &SSM{api: api}, nil
}

// GetParameter returns the decrypted value of name.
func (c *SSM) GetParameter(ctx context.Context, name string) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("secrets: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// Resolve returns current unless param names a parameter, in which case the
// stored value wins. A nil Getter leaves current untouched.
func Resolve(ctx context.Context, g Getter, param, current string) (string, error) {
	if g == nil || strings.TrimSpace(param) == "" {
		return current, nil
	}
	v, err := g.GetParameter(ctx, param)
	if err != nil {
		return current, err
	}
	return strings.TrimSpace(v), nil
}
