package storage

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFolderPrefix(t *testing.T) {
	assert.Equal(t, "folders/abc/", folderPrefix("abc"))
	assert.Equal(t, "folders/abc/", folderPrefix("/abc/"))
}

func TestBuildPolicy(t *testing.T) {
	s := &Store{bucketName: "market-gap", publicFolder: map[string]bool{
		"folders/s2/": true,
		"folders/s1/": true,
	}}
	raw, err := s.buildPolicy()
	require.NoError(t, err)

	var doc policyDoc
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	require.Len(t, doc.Statement, 1)
	st := doc.Statement[0]
	assert.Equal(t, "Allow", st.Effect)
	assert.Equal(t, []string{"s3:GetObject"}, st.Action)
	assert.Equal(t, []string{
		"arn:aws:s3:::market-gap/folders/s1/*",
		"arn:aws:s3:::market-gap/folders/s2/*",
	}, st.Resource)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("/tmp/x/hardware_tier_bar.png"))
	assert.Equal(t, "application/pdf", contentType("REPORT.PDF"))
	assert.Equal(t, "application/octet-stream", contentType("report_1"))
}

func TestObjectURL(t *testing.T) {
	cli, err := minio.New("minio.local:9000", &minio.Options{
		Creds: credentials.NewStaticV4("a", "b", ""),
	})
	require.NoError(t, err)
	s := &Store{client: cli, bucketName: "market-gap"}
	assert.Equal(t, "http://minio.local:9000/market-gap/folders/s1/a.png", s.objectURL("folders/s1/a.png"))
}
