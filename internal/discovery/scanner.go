package discovery

import (
	"log"
	"os"
)

// ScanResult holds everything one scan pass turned up.
type ScanResult struct {
	Credentials []Found     `json:"credentials"`
	Errors      []ScanError `json:"errors,omitempty"`
}

// ScanError reports a source file that existed but could not be parsed.
type ScanError struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// ScanAll probes every known source under the current user's home
// directory. Missing files are skipped silently; present-but-broken
// files are reported.
func ScanAll() *ScanResult {
	home, err := os.UserHomeDir()
	if err != nil {
		return &ScanResult{Credentials: []Found{}, Errors: []ScanError{{Source: "home", Error: err.Error()}}}
	}
	return scanIn(home)
}

func scanIn(home string) *ScanResult {
	result := &ScanResult{Credentials: []Found{}, Errors: []ScanError{}}
	for _, source := range sources {
		for _, path := range expandPaths(home, source) {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			found, err := source.Parser(path)
			if err != nil {
				result.Errors = append(result.Errors, ScanError{Source: source.Name, Path: path, Error: err.Error()})
				continue
			}
			if len(found) > 0 {
				log.Printf("🔍 discovered %d credential(s) from %s: %s", len(found), source.Name, path)
				result.Credentials = append(result.Credentials, found...)
			}
		}
	}
	return result
}

// MaskToken shortens secret material for display.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// Masked returns a display-safe copy.
func (f Found) Masked() Found {
	masked := f
	masked.AccessToken = MaskToken(f.AccessToken)
	masked.RefreshToken = MaskToken(f.RefreshToken)
	masked.IDToken = MaskToken(f.IDToken)
	masked.AWSSecretAccessKey = MaskToken(f.AWSSecretAccessKey)
	masked.AWSSessionToken = MaskToken(f.AWSSessionToken)
	return masked
}
