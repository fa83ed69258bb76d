package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Stager resolves input references to local files. A reference may be a
// local path, an http(s) or ftp URL, or either of those pointing at a .zip
// archive, in which case the archive is unpacked and the member with the
// wanted extension is returned.
type Stager struct {
	HTTP ConditionalFetcher
	FTP  Fetcher
	// Dir receives downloads and extracted archives.
	Dir string
}

// NewStager creates a Stager writing under dir.
func NewStager(dir string, httpOpts HTTPOptions, ftpOpts FTPOptions) *Stager {
	return &Stager{
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(ftpOpts),
		Dir:  dir,
	}
}

// IsRemote reports whether ref is a URL the Stager downloads.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// Stage returns a local path for ref. wantExts lists acceptable extensions
// (lower case, with dot) of the file to pick out of an archive.
func (s *Stager) Stage(ctx context.Context, ref string, wantExts ...string) (string, error) {
	if ref == "" {
		return "", eris.New("stage: empty input reference")
	}

	local := ref
	if IsRemote(ref) {
		var err error
		local, err = s.download(ctx, ref)
		if err != nil {
			return "", eris.Wrapf(err, "stage: fetch %s", ref)
		}
	}

	if strings.EqualFold(filepath.Ext(local), ".zip") && !slices.Contains(wantExts, ".zip") {
		return s.unzip(local, wantExts)
	}
	return local, nil
}

func (s *Stager) download(ctx context.Context, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", eris.Wrap(err, "parse url")
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", eris.Errorf("url %s has no file name", u.Redacted())
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", eris.Wrap(err, "create staging directory")
	}
	dest := filepath.Join(s.Dir, name)
	log := zap.L().With(zap.String("component", "stager"), zap.String("url", u.Redacted()), zap.String("dest", dest))

	if strings.EqualFold(u.Scheme, "ftp") {
		if s.FTP == nil {
			return "", eris.New("no ftp fetcher configured")
		}
		n, err := s.FTP.DownloadToFile(ctx, ref, dest)
		if err != nil {
			return "", err
		}
		log.Info("staged input", zap.Int64("bytes", n))
		return dest, nil
	}

	if s.HTTP == nil {
		return "", eris.New("no http fetcher configured")
	}
	etagPath := dest + ".etag"
	var etag string
	if _, statErr := os.Stat(dest); statErr == nil {
		if b, readErr := os.ReadFile(etagPath); readErr == nil {
			etag = strings.TrimSpace(string(b))
		}
	}

	body, newETag, changed, err := s.HTTP.DownloadIfChanged(ctx, ref, etag)
	if err != nil {
		return "", err
	}
	if !changed {
		log.Info("staged input unchanged", zap.String("etag", etag))
		return dest, nil
	}
	defer body.Close() //nolint:errcheck

	n, err := writeFile(dest, body)
	if err != nil {
		return "", err
	}
	if newETag != "" {
		if err := os.WriteFile(etagPath, []byte(newETag), 0o644); err != nil {
			log.Warn("could not record etag", zap.Error(err))
		}
	} else {
		_ = os.Remove(etagPath)
	}
	log.Info("staged input", zap.Int64("bytes", n))
	return dest, nil
}

func (s *Stager) unzip(archive string, wantExts []string) (string, error) {
	if len(wantExts) == 0 {
		return "", eris.Errorf("stage: %s is an archive but no member type was requested", archive)
	}
	base := strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive))
	dir := s.Dir
	if dir == "" {
		dir = filepath.Dir(archive)
	}
	dest := filepath.Join(dir, base)

	files, err := ExtractZIP(archive, dest)
	if err != nil {
		return "", eris.Wrapf(err, "stage: unpack %s", archive)
	}
	picked, err := PickByExt(files, wantExts...)
	if err != nil {
		return "", eris.Wrapf(err, "stage: unpack %s", archive)
	}
	return picked, nil
}
