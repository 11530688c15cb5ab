// Package objectstore uploads PDFs and rendered pages to the S3-compatible
// mirror, signing each PUT with AWS SigV4 the way the source site's fia.ort.dev
// mirror expects it: a public-read ACL and a content-sha256 header alongside
// the usual signed headers.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	v4signer "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
)

// Store puts PDF mirrors and rendered page images into the object store.
type Store struct {
	host       string
	accessKey  string
	secretKey  string
	httpClient *http.Client
	signer     *v4signer.Signer
}

// New builds a Store for the given S3-compatible host, signing with the
// given access/secret key pair in the us-east-1/s3 scope.
func New(host, accessKey, secretKey string) *Store {
	return &Store{
		host:       host,
		accessKey:  accessKey,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		signer:     v4signer.NewSigner(),
	}
}

// MirrorURL returns the public URL a PDF document will be served from.
func (s *Store) MirrorURL(year int, eventTitle, docTitle string) string {
	return fmt.Sprintf("https://%s/mirror/%d/%s/%s.pdf", s.host, year, url.PathEscape(eventTitle), url.PathEscape(docTitle))
}

// ImageURL returns the public URL a rendered document page will be served from.
func (s *Store) ImageURL(year int, eventTitle string, documentID int64, page int) string {
	return fmt.Sprintf("https://%s/img/%d/%s/%d-%d.jpg", s.host, year, url.PathEscape(eventTitle), documentID, page)
}

// PutPDF uploads a PDF's bytes to dest, ACL public-read.
func (s *Store) PutPDF(ctx context.Context, dest string, body []byte) error {
	return s.put(ctx, dest, body, "application/pdf")
}

// PutImage uploads a rendered page's JPEG bytes to dest, ACL public-read.
func (s *Store) PutImage(ctx context.Context, dest string, body []byte) error {
	return s.put(ctx, dest, body, "image/jpeg")
}

func (s *Store) put(ctx context.Context, dest string, body []byte, contentType string) error {
	digest := sha256Hex(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("x-amz-acl", "public-read")
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(body))

	now := time.Now().UTC()
	creds := aws.Credentials{AccessKeyID: s.accessKey, SecretAccessKey: s.secretKey}
	if err := s.signer.SignHTTP(ctx, creds, req, digest, "s3", "us-east-1", now); err != nil {
		return fmt.Errorf("sign upload request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", dest, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s: unexpected status %d", dest, resp.StatusCode)
	}
	return nil
}

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
