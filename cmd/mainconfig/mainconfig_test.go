package mainconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/support-hitl/internal/config"
)

func TestLoadAWSConfigRoutesLocalServices(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:           "us-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if awsCfg.EndpointResolverWithOptions == nil {
		t.Fatalf("expected endpoint resolver")
	}

	ep, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(sqs.ServiceID, "us-east-1")
	if err != nil {
		t.Fatalf("resolve sqs: %v", err)
	}
	if ep.URL != "http://localhost:4566" {
		t.Fatalf("expected override url, got %q", ep.URL)
	}

	_, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint(bedrockruntime.ServiceID, "us-east-1")
	var notFound *aws.EndpointNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected bedrock to fall through to the default resolver, got %v", err)
	}
}

func TestLoadAWSConfigWithoutOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	awsCfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{AWSRegion: "eu-west-1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if awsCfg.Region != "eu-west-1" {
		t.Fatalf("expected region eu-west-1, got %q", awsCfg.Region)
	}
	if awsCfg.EndpointResolverWithOptions != nil {
		t.Fatalf("expected no resolver without override")
	}
}
