package validation

import (
	"net"
	"net/url"
	"path"
	"strings"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// HostAllowList restricts which OPs sites may be registered against. An
// empty list allows every host.
type HostAllowList struct {
	entries []string
}

// NewHostAllowList keeps the configured entries as given; they are parsed
// on every check so a malformed entry is reported where it matters.
func NewHostAllowList(entries []string) *HostAllowList {
	var kept []string
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			kept = append(kept, e)
		}
	}
	return &HostAllowList{entries: kept}
}

// Check passes when the list is empty, opHost is blank, or opHost is URL
// equivalent to one of the entries. An opHost or entry that is not an
// absolute URL fails with INVALID_ALLOWED_OP_HOST_URL; no match fails with
// RESTRICTED_OP_HOST.
func (l *HostAllowList) Check(opHost string) error {
	if l == nil || len(l.entries) == 0 || strings.TrimSpace(opHost) == "" {
		return nil
	}
	want, ok := normalizeURL(opHost)
	if !ok {
		return oxderr.Newf(oxderr.KindInvalidAllowedOpHostURL, "validation: op_host %q is not a URL", opHost)
	}
	for _, e := range l.entries {
		allowed, ok := normalizeURL(e)
		if !ok {
			return oxderr.Newf(oxderr.KindInvalidAllowedOpHostURL, "validation: allowed_op_hosts entry %q", e)
		}
		if allowed == want {
			return nil
		}
	}
	return oxderr.Newf(oxderr.KindRestrictedOpHost, "validation: op_host %q is not allowed", opHost)
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// normalizeURL reduces raw to scheme://host:port/path with the scheme and
// host lower-cased, the default port made explicit, the path cleaned and
// trailing slashes dropped. Query and fragment are ignored.
func normalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	p := u.EscapedPath()
	if p != "" {
		p = path.Clean("/" + p)
	}
	p = strings.TrimRight(p, "/")
	return scheme + "://" + net.JoinHostPort(host, port) + p, true
}
