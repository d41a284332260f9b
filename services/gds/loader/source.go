// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// Opener opens a tabular source by location.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// FileOpener opens local files.
type FileOpener struct{}

func (FileOpener) Open(_ context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSource, err)
	}
	return f, nil
}

// GCSOpener reads gs://bucket/object locations.
type GCSOpener struct {
	client *storage.Client
}

// NewGCSOpener creates a storage client. An empty credentialsFile uses
// application default credentials.
func NewGCSOpener(ctx context.Context, credentialsFile string) (*GCSOpener, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSOpener{client: client}, nil
}

func (g *GCSOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, object, err := splitGCS(location)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gs://%s/%s: %v", ErrSource, bucket, object, err)
	}
	return r, nil
}

// Close releases the storage client.
func (g *GCSOpener) Close() error { return g.client.Close() }

// LazyGCSOpener creates its GCS client on first use, so deployments
// without gs:// sources never resolve credentials.
type LazyGCSOpener struct {
	// CredentialsFile is passed to NewGCSOpener. Empty uses application
	// default credentials.
	CredentialsFile string

	once   sync.Once
	opener *GCSOpener
	err    error
}

func (l *LazyGCSOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	l.once.Do(func() {
		l.opener, l.err = NewGCSOpener(context.WithoutCancel(ctx), l.CredentialsFile)
	})
	if l.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSource, l.err)
	}
	return l.opener.Open(ctx, location)
}

// Close releases the client if one was created. Call it after the last
// Open has returned.
func (l *LazyGCSOpener) Close() error {
	if l.opener == nil {
		return nil
	}
	return l.opener.Close()
}

func splitGCS(location string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(location, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a gs:// location", ErrSource, location)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q must be gs://bucket/object", ErrSource, location)
	}
	return bucket, object, nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, gcsScheme)
}

// RoutingOpener dispatches gs:// locations to Remote and everything else
// to Local.
type RoutingOpener struct {
	Local  Opener
	Remote Opener
}

func (r RoutingOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if isRemote(location) {
		if r.Remote == nil {
			return nil, fmt.Errorf("%w: no GCS client configured for %s", ErrSource, location)
		}
		return r.Remote.Open(ctx, location)
	}
	local := r.Local
	if local == nil {
		local = FileOpener{}
	}
	return local.Open(ctx, location)
}

// Querier runs relationship queries. *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Connector opens a Querier for a manifest's Postgres section.
type Connector func(ctx context.Context, dsn string) (Querier, func(), error)

// PoolConnector connects with pgxpool. The DSN is expanded with
// os.ExpandEnv.
func PoolConnector(ctx context.Context, dsn string) (Querier, func(), error) {
	pool, err := pgxpool.New(ctx, os.ExpandEnv(dsn))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: connect: %v", ErrSource, err)
	}
	return pool, pool.Close, nil
}
