package tatara

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PublishClient wraps the S3 client for the R2 bucket that receives packaged
// toolchains and run logs.
type PublishClient struct {
	Client     *s3.Client
	BucketName string
}

// NewPublishClient initializes the client from configuration values. The
// credentials arrive via config file or R2_* environment variables.
func NewPublishClient(ctx context.Context, cfg *Config) (*PublishClient, error) {
	accountID := cfg.Values["R2_ACCOUNT_ID"]
	accessKey := cfg.Values["R2_ACCESS_KEY_ID"]
	secretKey := cfg.Values["R2_SECRET_ACCESS_KEY"]
	bucketName := cfg.Values["R2_BUCKET_NAME"]

	if accountID == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("publishing credentials missing (R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_BUCKET_NAME)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
		}, nil
	})

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion("auto"),
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load publishing config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &PublishClient{Client: client, BucketName: bucketName}, nil
}

// UploadFile streams a local file into the bucket under the given key.
func (p *PublishClient) UploadFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.BucketName),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}

// publishArtifacts delivers the compressed run log and, when present, the
// packaged archive. Called on every exit path in release mode; a delivery
// failure is reported but never changes the run's outcome.
func publishArtifacts(ctx context.Context, cfg *Config, archivePath, logPath string) {
	client, err := NewPublishClient(ctx, cfg)
	if err != nil {
		cPrintf(colWarn, "Publishing disabled: %v\n", err)
		return
	}

	upload := func(prefix, path string) {
		if path == "" {
			return
		}
		key := prefix + "/" + filepath.Base(path)
		colArrow.Print("-> ")
		colSuccess.Printf("Uploading %s\n", key)
		if err := client.UploadFile(ctx, key, path); err != nil {
			cPrintf(colWarn, "Upload of %s failed: %v\n", key, err)
		}
	}
	upload("logs", logPath)
	upload("toolchains", archivePath)
}
