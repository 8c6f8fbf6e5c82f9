package gallery

import (
	"regexp"
	"strings"
)

var fileIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/thumbnail\?id=([a-zA-Z0-9_-]+)`),
}

// FileIDFromURL extracts the drive file id from a proxy path or one of the
// drive URL shapes (uc?id=, /file/d/, thumbnail?id=). It returns "" when
// the URL carries no id.
func FileIDFromURL(url, proxyPrefix string) string {
	if proxyPrefix != "" {
		if id, ok := strings.CutPrefix(url, proxyPrefix); ok && id != "" {
			return id
		}
	}
	for _, re := range fileIDPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// ProxyURL rewrites drive URLs to the local proxy path. Other URLs are
// returned unchanged.
func ProxyURL(url, proxyPrefix string) string {
	if url == "" || strings.HasPrefix(url, proxyPrefix) {
		return url
	}
	if id := FileIDFromURL(url, ""); id != "" {
		return proxyPrefix + id
	}
	return url
}

// CandidateURLs lists the URLs under which a catalog row may reference the
// drive file id: the proxy path and the drive URL shapes FileIDFromURL reads.
func CandidateURLs(id, proxyPrefix string) []string {
	return []string{
		proxyPrefix + id,
		"https://drive.google.com/uc?export=view&id=" + id,
		"https://drive.google.com/uc?id=" + id,
		"https://drive.google.com/file/d/" + id + "/view",
		"https://drive.google.com/thumbnail?id=" + id,
	}
}

func validPhotoURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "/")
}
