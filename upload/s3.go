package upload

import (
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/davidroman0O/iflowpipe/catalog"
	"github.com/davidroman0O/iflowpipe/config"
	"github.com/davidroman0O/iflowpipe/errors"
)

// S3API is the subset of the S3 client the transport needs
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Transport stores artifacts as <prefix>/<iflow>/<name> objects
type S3Transport struct {
	client S3API
	bucket string
	prefix string
}

var _ Transport = (*S3Transport)(nil)

// NewS3Transport wraps an S3 client
func NewS3Transport(client S3API, bucket, prefix string) *S3Transport {
	return &S3Transport{client: client, bucket: bucket, prefix: prefix}
}

// NewS3TransportFromConfig builds a client from the default AWS credential chain
func NewS3TransportFromConfig(ctx context.Context, cfg config.S3Config) (*S3Transport, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to load AWS configuration")
	}
	return NewS3Transport(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
}

// Key returns the object key of an artifact
func (t *S3Transport) Key(a catalog.Artifact) string {
	return path.Join(t.prefix, a.IFlowID, a.Name)
}

// Upload implements Transport
func (t *S3Transport) Upload(ctx context.Context, a catalog.Artifact, r io.Reader, size int64, progress ProgressFunc) error {
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(t.Key(a)),
		Body:          NewProgressReader(r, size, progress),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(a.Kind)),
		Metadata: map[string]string{
			"iflow-id": a.IFlowID,
			"kind":     string(a.Kind),
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.FromContext(ctxErr)
		}
		return errors.Wrap(err, errors.ErrTransport, "put object "+t.Key(a))
	}
	return nil
}

func contentType(k catalog.ArtifactKind) string {
	switch k {
	case catalog.KindIFlowArchive:
		return "application/zip"
	case catalog.KindScript:
		return "application/javascript"
	case catalog.KindMapping:
		return "application/xml"
	default:
		return "text/plain"
	}
}
