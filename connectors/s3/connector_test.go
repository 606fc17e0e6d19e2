// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisflow/platform/connectors/base"
)

type fakeS3 struct {
	objects map[string]string
	deleted []string
}

func (f *fakeS3) GetObject(_ context.Context, params *awss3.GetObjectInput,
	_ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {

	content, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(content))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *awss3.ListObjectsV2Input,
	_ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {

	prefix := aws.ToString(params.Prefix)
	out := &awss3.ListObjectsV2Output{}
	for key, content := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out.Contents = append(out.Contents, s3types.Object{
				Key:  aws.String(key),
				Size: aws.Int64(int64(len(content))),
			})
		}
	}
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *awss3.PutObjectInput,
	_ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {

	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[aws.ToString(params.Key)] = string(body)
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *awss3.DeleteObjectInput,
	_ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {

	key := aws.ToString(params.Key)
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *awss3.HeadBucketInput,
	...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	return &awss3.HeadBucketOutput{}, nil
}

func newTestConnector(fake *fakeS3) *Connector {
	return NewWithClient(fake, "exports", &base.ConnectorConfig{Name: "exports"})
}

func TestConnector_GetObject(t *testing.T) {
	c := newTestConnector(&fakeS3{objects: map[string]string{
		"reports/summary.txt": "all quiet",
	}})

	result, err := c.Query(context.Background(), &base.Query{Statement: "GET reports/summary.txt"})
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)
	assert.Equal(t, "all quiet", result.Rows[0]["content"])
}

func TestConnector_ListWithLimit(t *testing.T) {
	c := newTestConnector(&fakeS3{objects: map[string]string{
		"reports/a.txt": "a",
		"reports/b.txt": "bb",
		"other/c.txt":   "c",
	}})

	result, err := c.Query(context.Background(), &base.Query{Statement: "LIST reports/"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)

	result, err = c.Query(context.Background(), &base.Query{Statement: "LIST reports/", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
}

func TestConnector_PutAndDelete(t *testing.T) {
	fake := &fakeS3{}
	c := newTestConnector(fake)

	res, err := c.Execute(context.Background(), &base.Command{
		Statement:  "PUT exports/new.txt",
		Parameters: map[string]interface{}{"content": "payload"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "payload", fake.objects["exports/new.txt"])

	_, err = c.Execute(context.Background(), &base.Command{Statement: "DELETE exports/new.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/new.txt"}, fake.deleted)
}

func TestConnector_BadStatements(t *testing.T) {
	c := newTestConnector(&fakeS3{})

	_, err := c.Query(context.Background(), &base.Query{Statement: "COPY a b"})
	require.Error(t, err)

	_, err = c.Execute(context.Background(), &base.Command{
		Statement: "PUT key-without-content",
	})
	require.Error(t, err)
}
