package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSourceURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "git+https", in: "git+https://github.com/lodash/lodash.git", want: "https://github.com/lodash/lodash"},
		{name: "git protocol", in: "git://github.com/lodash/lodash.git", want: "https://github.com/lodash/lodash"},
		{name: "plain https", in: "https://github.com/lodash/lodash", want: "https://github.com/lodash/lodash"},
		{name: "http upgraded", in: "http://github.com/lodash/lodash", want: "https://github.com/lodash/lodash"},
		{name: "github shorthand", in: "github:lodash/lodash", want: "https://github.com/lodash/lodash"},
		{name: "bare shorthand", in: "lodash/lodash", want: "https://github.com/lodash/lodash"},
		{name: "gitlab", in: "https://gitlab.com/group/project.git", want: "https://gitlab.com/group/project"},
		{name: "bitbucket", in: "https://bitbucket.org/team/repo", want: "https://bitbucket.org/team/repo"},
		{name: "ssh form", in: "ssh://git@github.com/lodash/lodash.git", want: "https://github.com/lodash/lodash"},
		{name: "unknown host", in: "https://evil.example.com/owner/repo", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "no path", in: "https://github.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalSourceURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTagCandidates(t *testing.T) {
	assert.Equal(t, []string{"v4.18.0", "4.18.0"}, tagCandidates("4.18.0"))
}
