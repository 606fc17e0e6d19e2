// Copyright 2025 AegisFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the slice of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads rotated fallback segments to object storage.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewArchiver builds an archiver writing under bucket/prefix.
func NewArchiver(client ObjectPutter, bucket, prefix string) *Archiver {
	if prefix == "" {
		prefix = "audit"
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// ArchiveFile uploads the file's contents and truncates it on success. The
// caller holds whatever lock guards the file.
func (a *Archiver) ArchiveFile(ctx context.Context, f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding fallback file: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading fallback file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	key := fmt.Sprintf("%s/fallback-%s.jsonl", a.prefix, a.now().UTC().Format("20060102T150405Z"))
	contentType := "application/x-ndjson"
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("uploading archive %s: %w", key, err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating fallback file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding fallback file: %w", err)
	}
	return nil
}
