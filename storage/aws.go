package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// newAWSSession uses the shared credentials of the given profile, or the
// default credential chain if the profile is empty.
func newAWSSession(profile, region string, opts options) (*session.Session, error) {
	config := &aws.Config{
		Region: aws.String(region),
	}
	if profile != "" {
		config.Credentials = credentials.NewSharedCredentials("", profile)
	}
	if opts.endpoint != "" {
		config.Endpoint = aws.String(opts.endpoint)
		config.S3ForcePathStyle = aws.Bool(true)
	}
	return session.NewSession(config)
}
