package fetch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// Session is a snapshot of browser cookies and local storage.
// The JSON layout is the common "storage state" format, so files written by other automation tools load too.
type Session struct {
	Cookies []SessionCookie `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}

// SessionCookie is one browser cookie. Expires is seconds since epoch, -1 for a session cookie.
type SessionCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"` // Leading dot means the cookie applies to subdomains
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginStorage holds the localStorage entries of one origin
type OriginStorage struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// StorageItem is one localStorage key/value pair
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadSession reads a session file
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", utils.ErrSession, path, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", utils.ErrSession, path, err)
	}
	return &s, nil
}

// Save writes the session atomically (temp file + rename) with owner-only permissions
func (s *Session) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", utils.ErrSession, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w: create dir %s: %w", utils.ErrSession, utils.ErrFilesystem, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".storage_state-*.json")
	if err != nil {
		return fmt.Errorf("%w: %w: %w", utils.ErrSession, utils.ErrFilesystem, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w: write: %w", utils.ErrSession, utils.ErrFilesystem, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w: chmod: %w", utils.ErrSession, utils.ErrFilesystem, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w: close: %w", utils.ErrSession, utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %w: rename: %w", utils.ErrSession, utils.ErrFilesystem, err)
	}
	return nil
}

// ApplyToJar copies unexpired cookies into an HTTP cookie jar so the HTTP strategy presents the
// same session as the browser.
func (s *Session) ApplyToJar(jar http.CookieJar, now time.Time) int {
	byHost := make(map[string][]*http.Cookie)
	for _, c := range s.Cookies {
		if c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now) {
			continue
		}
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = host // Domain cookie; host-only cookies leave Domain empty
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		byHost[host] = append(byHost[host], hc)
	}

	applied := 0
	for host, cookies := range byHost {
		jar.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, cookies)
		applied += len(cookies)
	}
	return applied
}
