package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Target
	}{
		{
			name: "ftp relative path",
			raw:  "ftp://example.com/www/",
			want: Target{Protocol: FTP, Host: "example.com", Port: 21, BasePath: "www"},
		},
		{
			name: "no scheme defaults to ftp",
			raw:  "example.com/htdocs",
			want: Target{Protocol: FTP, Host: "example.com", Port: 21, BasePath: "htdocs"},
		},
		{
			name: "ftp absolute path",
			raw:  "ftp://example.com//srv/www",
			want: Target{Protocol: FTP, Host: "example.com", Port: 21, BasePath: "/srv/www"},
		},
		{
			name: "ftps implicit port",
			raw:  "ftps://example.com",
			want: Target{Protocol: FTPS, Host: "example.com", Port: 990, BasePath: ""},
		},
		{
			name: "ftpes custom port",
			raw:  "FTPES://example.com:2121/site",
			want: Target{Protocol: FTPES, Host: "example.com", Port: 2121, BasePath: "site"},
		},
		{
			name: "sftp absolute",
			raw:  "sftp://user@example.com/var/www",
			want: Target{Protocol: SFTP, Host: "example.com", Port: 22, BasePath: "/var/www"},
		},
		{
			name: "sftp home relative",
			raw:  "sftp://example.com/~/public_html",
			want: Target{Protocol: SFTP, Host: "example.com", Port: 22, BasePath: "public_html"},
		},
		{
			name: "sftp root",
			raw:  "sftp://example.com",
			want: Target{Protocol: SFTP, Host: "example.com", Port: 22, BasePath: "/"},
		},
		{
			name: "file",
			raw:  "file:///tmp/deploy/",
			want: Target{Protocol: File, BasePath: "/tmp/deploy"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTarget(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTarget_Errors(t *testing.T) {
	_, err := ParseTarget("gopher://example.com/")
	assert.ErrorIs(t, err, ErrUnknownProtocol)

	for _, raw := range []string{"", "ftp:///nohost", "ftp://example.com:99999/", "file://"} {
		_, err := ParseTarget(raw)
		assert.Error(t, err, "ParseTarget(%q)", raw)
	}
}

func TestTargetJoin(t *testing.T) {
	assert.Equal(t, "www/.git-ftp.log", Target{Protocol: FTP, BasePath: "www"}.Join(".git-ftp.log"))
	assert.Equal(t, "a/b.txt", Target{Protocol: FTP}.Join("/a/b.txt"))
	assert.Equal(t, "/var/www/lib/x", Target{Protocol: SFTP, BasePath: "/var/www"}.Join("lib/x"))
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "sftp://example.com:22/var/www", Target{Protocol: SFTP, Host: "example.com", Port: 22, BasePath: "/var/www"}.String())
	assert.Equal(t, "ftp://example.com:21/www", Target{Protocol: FTP, Host: "example.com", Port: 21, BasePath: "www"}.String())
	assert.Equal(t, "file:///tmp/x", Target{Protocol: File, BasePath: "/tmp/x"}.String())
}

func TestParents(t *testing.T) {
	assert.Equal(t, []string{"a", "a/b"}, parents("a/b/c.txt"))
	assert.Equal(t, []string{"/srv", "/srv/www"}, parents("/srv/www/index.html"))
	assert.Empty(t, parents("file.txt"))
}
