package output

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dhcgn/oft-to-eml/model"
)

// mockPutObjectAPI records PutObject calls for assertions.
type mockPutObjectAPI struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (m *mockPutObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.inputs = append(m.inputs, params)
	m.bodies = append(m.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkStore(t *testing.T) {
	mock := &mockPutObjectAPI{}
	sink := NewS3SinkWithClient(mock, "mail-archive", "eml/2024/", discardLogger())

	conv := model.Converted{
		Source: "in/welcome.oft",
		Name:   "welcome.eml",
		Hash:   "h1",
		Size:   5,
		Raw:    []byte("hello"),
	}
	if err := sink.Store(context.Background(), conv); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(mock.inputs) != 1 {
		t.Fatalf("got %d PutObject calls, want 1", len(mock.inputs))
	}
	input := mock.inputs[0]
	if got := *input.Bucket; got != "mail-archive" {
		t.Errorf("Bucket = %q, want mail-archive", got)
	}
	if got := *input.Key; got != "eml/2024/welcome.eml" {
		t.Errorf("Key = %q, want eml/2024/welcome.eml", got)
	}
	if got := *input.ContentType; got != "message/rfc822" {
		t.Errorf("ContentType = %q, want message/rfc822", got)
	}
	if !bytes.Equal(mock.bodies[0], conv.Raw) {
		t.Errorf("Body = %q, want %q", mock.bodies[0], conv.Raw)
	}
}

func TestS3SinkNoPrefix(t *testing.T) {
	mock := &mockPutObjectAPI{}
	sink := NewS3SinkWithClient(mock, "mail-archive", "", discardLogger())

	if err := sink.Store(context.Background(), model.Converted{Name: "a.eml", Raw: []byte("x")}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if got := *mock.inputs[0].Key; got != "a.eml" {
		t.Errorf("Key = %q, want a.eml", got)
	}
}

func TestS3SinkStoreError(t *testing.T) {
	wantErr := errors.New("access denied")
	sink := NewS3SinkWithClient(&mockPutObjectAPI{err: wantErr}, "mail-archive", "", discardLogger())

	err := sink.Store(context.Background(), model.Converted{Name: "a.eml", Raw: []byte("x")})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Store error = %v, want %v", err, wantErr)
	}
}

func TestNewS3SinkEmptyBucket(t *testing.T) {
	if _, err := NewS3Sink(context.Background(), S3Options{}, discardLogger()); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}
