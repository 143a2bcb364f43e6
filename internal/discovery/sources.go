// Package discovery scans well-known local CLI config files for
// credentials that can be imported into the pool, so operators who
// already use the Codex or AWS CLIs do not have to copy tokens by hand.
package discovery

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pysugar/ami-nexus/internal/db/models"
)

// Found is one importable credential located on the local machine.
// Token material is masked before it crosses the admin API.
type Found struct {
	Source     string `json:"source"` // e.g. "codex-cli", "aws-cli"
	Provider   string `json:"provider"`
	Label      string `json:"label"`
	ConfigPath string `json:"config_path"`

	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`

	AWSAccessKeyID     string `json:"aws_access_key_id,omitempty"`
	AWSSecretAccessKey string `json:"aws_secret_access_key,omitempty"`
	AWSSessionToken    string `json:"aws_session_token,omitempty"`
}

// Source is one config location to probe.
type Source struct {
	Name        string
	ConfigPaths []string // relative to the home directory
	Parser      func(path string) ([]Found, error)
}

var sources = []Source{
	{
		Name: "codex-cli",
		ConfigPaths: []string{
			".codex/auth.json",
			".config/codex/auth.json",
		},
		Parser: parseCodexAuth,
	},
	{
		Name: "aws-cli",
		ConfigPaths: []string{
			".aws/credentials",
		},
		Parser: parseAWSCredentials,
	},
}

// codexAuthFile mirrors the Codex CLI's auth.json layout.
type codexAuthFile struct {
	Tokens struct {
		IDToken      string `json:"id_token"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		AccountID    string `json:"account_id"`
	} `json:"tokens"`
	LastRefresh time.Time `json:"last_refresh"`
}

func parseCodexAuth(path string) ([]Found, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var auth codexAuthFile
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}
	if auth.Tokens.AccessToken == "" && auth.Tokens.RefreshToken == "" {
		return nil, nil
	}
	return []Found{{
		Source:       "codex-cli",
		Provider:     models.ProviderCodex,
		Label:        "codex-cli import",
		ConfigPath:   path,
		AccessToken:  auth.Tokens.AccessToken,
		RefreshToken: auth.Tokens.RefreshToken,
		IDToken:      auth.Tokens.IDToken,
		AccountID:    auth.Tokens.AccountID,
		ExpiresAt:    auth.LastRefresh,
	}}, nil
}

// parseAWSCredentials reads the shared credentials INI: one Found per
// profile carrying a key pair.
func parseAWSCredentials(path string) ([]Found, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var found []Found
	var profile string
	var cur Found
	flush := func() {
		if profile != "" && cur.AWSAccessKeyID != "" && cur.AWSSecretAccessKey != "" {
			cur.Source = "aws-cli"
			cur.Provider = models.ProviderBedrock
			cur.Label = "aws profile " + profile
			cur.ConfigPath = path
			found = append(found, cur)
		}
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";"):
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			flush()
			profile = strings.TrimSpace(line[1 : len(line)-1])
			cur = Found{}
		default:
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "aws_access_key_id":
				cur.AWSAccessKeyID = value
			case "aws_secret_access_key":
				cur.AWSSecretAccessKey = value
			case "aws_session_token":
				cur.AWSSessionToken = value
			}
		}
	}
	flush()
	return found, scanner.Err()
}

func expandPaths(home string, source Source) []string {
	paths := make([]string, len(source.ConfigPaths))
	for i, p := range source.ConfigPaths {
		paths[i] = filepath.Join(home, p)
	}
	return paths
}
