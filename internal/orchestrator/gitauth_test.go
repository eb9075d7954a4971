package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteGitHubSSHToHTTPS(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "scp style",
			in:   "git@github.com:acme/widgets.git",
			want: "https://github.com/acme/widgets.git",
		},
		{
			name: "ssh scheme",
			in:   "ssh://git@github.com/acme/widgets.git",
			want: "https://github.com/acme/widgets.git",
		},
		{
			name: "non github",
			in:   "git@gitlab.com:org/repo.git",
			want: "",
		},
		{
			name: "already https",
			in:   "https://github.com/acme/widgets.git",
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, rewriteGitHubSSHToHTTPS(tc.in))
		})
	}
}

func TestInjectTokenIntoURL(t *testing.T) {
	require.Equal(t,
		"https://tok@github.com/acme/widgets.git",
		injectTokenIntoURL("https://github.com/acme/widgets.git", "tok"))

	require.Equal(t,
		"https://tok@github.com/acme/widgets.git",
		injectTokenIntoURL("git@github.com:acme/widgets.git", "tok"))

	// No token means no rewriting at all, even for SSH URLs.
	require.Equal(t,
		"git@github.com:acme/widgets.git",
		injectTokenIntoURL("git@github.com:acme/widgets.git", ""))

	// Tokens never leak into non-GitHub remotes.
	require.Equal(t,
		"https://gitlab.com/org/repo.git",
		injectTokenIntoURL("https://gitlab.com/org/repo.git", "tok"))
}

func TestCloneURL_NoTokenPassesThrough(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	require.Equal(t,
		"https://github.com/acme/widgets.git",
		cloneURL("https://github.com/acme/widgets.git"))
}

func TestCloneURL_EnvTokenInjected(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-tok")
	require.Equal(t,
		"https://env-tok@github.com/acme/widgets.git",
		cloneURL("https://github.com/acme/widgets.git"))
}
