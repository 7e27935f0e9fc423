package upload

import (
	"testing"

	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		runID  string
		file   string
		want   string
	}{
		{
			name:   "default prefix",
			prefix: "",
			runID:  "run_8cec1fab",
			file:   "report.html",
			want:   "laitest/reports/run_8cec1fab/report.html",
		},
		{
			name:   "custom prefix",
			prefix: "team-a/nightly",
			runID:  "run_1",
			file:   "report.html",
			want:   "team-a/nightly/run_1/report.html",
		},
		{
			name:   "trailing slash stripped",
			prefix: "my-prefix/",
			runID:  "run_2",
			file:   "summary.json",
			want:   "my-prefix/run_2/summary.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3UploadConfig{Prefix: tt.prefix},
			}
			assert.Equal(t, tt.want, u.resolveKey(tt.runID, tt.file))
		})
	}
}

func TestURI(t *testing.T) {
	u := &s3Uploader{cfg: &config.S3UploadConfig{Bucket: "reports"}}
	assert.Equal(t, "s3://reports/a/b.html", u.uri("a/b.html"))
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{Enabled: true})
	require.Error(t, err)

	u, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{Enabled: true, Bucket: "b"})
	require.NoError(t, err)
	assert.NotNil(t, u)
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "reports/summary.json",
			wantPrefix: "application/json",
		},
		{
			name:       "no extension",
			path:       "reports/Makefile",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "html file",
			path:       "reports/report.html",
			wantPrefix: "text/html",
		},
		{
			name:       "txt file",
			path:       "reports/notes.txt",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectContentType(tt.path)
			assert.Contains(t, got, tt.wantPrefix)
		})
	}
}
