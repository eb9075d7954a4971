package orchestrator

import (
	"os"
	"strings"
)

// rewriteGitHubSSHToHTTPS converts GitHub SSH remotes to their HTTPS
// form so a token can authenticate the clone. Non-GitHub remotes
// return "".
func rewriteGitHubSSHToHTTPS(remoteURL string) string {
	const host = "github.com"
	if strings.HasPrefix(remoteURL, "git@"+host+":") {
		path := strings.TrimPrefix(remoteURL, "git@"+host+":")
		return "https://" + host + "/" + path
	}
	if strings.HasPrefix(remoteURL, "ssh://git@"+host+"/") {
		path := strings.TrimPrefix(remoteURL, "ssh://git@"+host+"/")
		return "https://" + host + "/" + path
	}
	return ""
}

// injectTokenIntoURL embeds a GitHub token into the clone URL when one
// is available. SSH GitHub remotes are rewritten to HTTPS first since
// the sandbox has no SSH keys. Without a token the URL passes through
// untouched.
func injectTokenIntoURL(remoteURL, token string) string {
	if token == "" {
		return remoteURL
	}
	if https := rewriteGitHubSSHToHTTPS(remoteURL); https != "" {
		remoteURL = https
	}
	if strings.HasPrefix(remoteURL, "https://github.com/") {
		return strings.Replace(remoteURL, "https://", "https://"+token+"@", 1)
	}
	return remoteURL
}

// cloneURL resolves the URL actually handed to git, picking up the
// service-level GitHub token when the caller's URL points at GitHub.
func cloneURL(repoURL string) string {
	return injectTokenIntoURL(repoURL, os.Getenv("GITHUB_TOKEN"))
}
