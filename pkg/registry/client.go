// Package registry is the npm registry client used by the analysis pipeline:
// packument metadata, per-version metadata, and tarball download/extract.
package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deptex/watchtower/pkg/httputil"
	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/ratelimit"
)

var log = logger.New("watchtower:registry")

// maxTarballEntrySize caps a single extracted file to keep a hostile tarball
// from filling the disk
const maxTarballEntrySize = 100 * 1024 * 1024

// Packument is the registry's full metadata document for a package
type Packument struct {
	Name     string                 `json:"name"`
	DistTags map[string]string      `json:"dist-tags"`
	Versions map[string]VersionMeta `json:"versions"`
	Time     map[string]string      `json:"time"`
}

// VersionMeta is the per-version slice of the packument
type VersionMeta struct {
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	Scripts    map[string]string `json:"scripts"`
	Repository Repository        `json:"repository"`
	Dist       Dist              `json:"dist"`
}

// Dist carries the artifact location
type Dist struct {
	Tarball string `json:"tarball"`
	Shasum  string `json:"shasum"`
}

// Repository is the package's source repository reference. npm accepts both
// a bare URL string and an object shape; both are decoded.
type Repository struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Directory string `json:"directory"`
}

// UnmarshalJSON accepts both the string and object repository shapes
func (r *Repository) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		r.URL = raw
		return nil
	}

	type repository Repository
	var obj repository
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = Repository(obj)
	return nil
}

// Client fetches package metadata and artifacts from an npm registry
type Client struct {
	baseURL string
	http    *httputil.Client
}

// NewClient creates a registry client for the given base URL. All requests
// draw from the registry rate-limit bucket.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httputil.NewClient(ratelimit.OperationRegistry, 60*time.Second),
	}
}

// packageURL builds the packument URL, escaping scoped package names
func (c *Client) packageURL(name string) string {
	return c.baseURL + "/" + url.PathEscape(name)
}

// Packument fetches the full metadata document for a package
func (c *Client) Packument(ctx context.Context, name string) (*Packument, error) {
	var doc Packument
	if err := c.http.GetJSON(ctx, c.packageURL(name), &doc); err != nil {
		return nil, fmt.Errorf("failed to fetch packument for %s: %w", name, err)
	}
	log.Printf("Fetched packument for %s: %d versions", name, len(doc.Versions))
	return &doc, nil
}

// VersionMeta fetches the metadata for one version of a package
func (c *Client) VersionMeta(ctx context.Context, name, version string) (*VersionMeta, error) {
	var meta VersionMeta
	endpoint := c.packageURL(name) + "/" + url.PathEscape(version)
	if err := c.http.GetJSON(ctx, endpoint, &meta); err != nil {
		return nil, fmt.Errorf("failed to fetch metadata for %s@%s: %w", name, version, err)
	}
	return &meta, nil
}

// DownloadTarball fetches a published artifact and extracts it into destDir.
// The registry wraps contents in a top-level package/ directory, which is
// stripped. Entries escaping destDir are rejected.
func (c *Client) DownloadTarball(ctx context.Context, tarballURL, destDir string) error {
	body, err := c.http.GetStream(ctx, tarballURL)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", tarballURL, err)
	}
	defer body.Close()

	if err := extractTarball(body, destDir); err != nil {
		return fmt.Errorf("failed to extract %s: %w", tarballURL, err)
	}
	log.Printf("Extracted %s into %s", tarballURL, destDir)
	return nil
}

// extractTarball unpacks a gzipped npm tarball into destDir
func extractTarball(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("bad gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bad tar stream: %w", err)
		}

		name := stripPackagePrefix(header.Name)
		if name == "" {
			continue
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			_, err = io.Copy(f, io.LimitReader(tr, maxTarballEntrySize))
			closeErr := f.Close()
			if err != nil {
				return err
			}
			if closeErr != nil {
				return closeErr
			}
		default:
			// Symlinks and other special entries are skipped; npm tarballs
			// only legitimately carry files and directories.
			log.Printf("Skipping tar entry %s (type %d)", header.Name, header.Typeflag)
		}
	}
}

// stripPackagePrefix removes the tarball's top-level directory (usually
// "package/") from an entry name
func stripPackagePrefix(name string) string {
	name = strings.TrimPrefix(name, "./")
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		return name[idx+1:]
	}
	return ""
}
