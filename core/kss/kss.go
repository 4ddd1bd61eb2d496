/*
Package kss is the key storage service: it stores documents outside of the database.

The catalog keeps the snapshots of archived metadata records in it. There are two
backends: a local file system and AWS S3.
*/
package kss

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relabs-tech/geocatalog/core/config"
)

// ErrNotFound is returned by Get for keys which do not exist
var ErrNotFound = errors.New("key not found")

// Driver defines the interface for the KSS service
type Driver interface {
	// Put stores data under key, replacing an existing object
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the data stored under key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// DriverType represents the different type of KSS Drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no KSS implementation
const None DriverType = ""

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
}

// S3Configuration contains the configuration for the S3 KSS service
type S3Configuration struct {
	AWSBucketName string
	AWSRegion     string
	// AccessID and AccessKey are optional, the default credential chain is used without them
	AccessID  string
	AccessKey string
	KeyPrefix string
}

// New returns the driver selected by config, or nil for None
func New(ctx context.Context, config Configuration) (Driver, error) {
	switch config.DriverType {
	case None:
		return nil, nil
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("missing local configuration for KSS driver %s", config.DriverType)
		}
		return NewLocalFilesystem(*config.LocalConfiguration)
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("missing S3 configuration for KSS driver %s", config.DriverType)
		}
		return NewS3(ctx, *config.S3Configuration)
	}
	return nil, fmt.Errorf("unsupported KSS driver %q", config.DriverType)
}

// ConfigurationFrom selects the driver configured in cfg
func ConfigurationFrom(cfg *config.Config) Configuration {
	switch cfg.KSSDriver {
	case config.KSSDriverLocal:
		return Configuration{
			DriverType:         DriverTypeLocal,
			LocalConfiguration: &LocalConfiguration{BasePath: cfg.KSSLocalPath},
		}
	case config.KSSDriverS3:
		return Configuration{
			DriverType: DriverTypeAWSS3,
			S3Configuration: &S3Configuration{
				AWSBucketName: cfg.AWSBucket,
				AWSRegion:     cfg.AWSRegion,
				AccessID:      cfg.AWSAccessID,
				AccessKey:     cfg.AWSAccessKey,
				KeyPrefix:     cfg.KSSPrefix,
			},
		}
	}
	return Configuration{DriverType: DriverType(cfg.KSSDriver)}
}

// checkKey rejects keys which could escape the store
func checkKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}
