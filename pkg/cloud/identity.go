package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSAPI is the subset of the STS client used here.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the principal behind the resolved credentials.
type Identity struct {
	Account string
	ARN     string
}

// VerifyIdentity validates the session credentials and returns the caller.
func VerifyIdentity(ctx context.Context, api STSAPI) (Identity, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to get caller identity: %w", err)
	}
	return Identity{Account: aws.ToString(out.Account), ARN: aws.ToString(out.Arn)}, nil
}

// VerifyIdentityFromConfig is VerifyIdentity with a client built from cfg.
func VerifyIdentityFromConfig(ctx context.Context, cfg aws.Config) (Identity, error) {
	return VerifyIdentity(ctx, sts.NewFromConfig(cfg))
}
