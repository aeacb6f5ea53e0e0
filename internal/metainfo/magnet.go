package metainfo

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/italolelis/mediamanager/internal/torrent"
)

const btihPrefix = "urn:btih:"

// Magnet is a parsed magnet reference.
type Magnet struct {
	InfoHash string
	Name     string
	URI      string
}

// IsMagnet reports whether locator is a magnet reference.
func IsMagnet(locator string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(locator)), "magnet:")
}

// ParseMagnet extracts the info hash from a magnet URI. Both the 40 character hex
// and the 32 character base32 forms are accepted; the result is always lowercase hex.
func ParseMagnet(uri string) (*Magnet, error) {
	uri = strings.TrimSpace(uri)

	u, err := url.Parse(uri)
	if err != nil || !strings.EqualFold(u.Scheme, "magnet") {
		return nil, &torrent.MalformedMetadataError{Source: uri, Reason: "invalid magnet URI", Err: err}
	}

	q := u.Query()

	for _, xt := range q["xt"] {
		if len(xt) <= len(btihPrefix) || !strings.EqualFold(xt[:len(btihPrefix)], btihPrefix) {
			continue
		}

		hash, ok := normalizeBTIH(xt[len(btihPrefix):])
		if !ok {
			return nil, &torrent.MalformedMetadataError{Source: uri, Reason: "invalid btih value"}
		}

		return &Magnet{InfoHash: hash, Name: q.Get("dn"), URI: uri}, nil
	}

	return nil, &torrent.MalformedMetadataError{Source: uri, Reason: "magnet URI has no btih topic"}
}

func normalizeBTIH(v string) (string, bool) {
	switch len(v) {
	case 40:
		b, err := hex.DecodeString(v)
		if err != nil {
			return "", false
		}

		return hex.EncodeToString(b), true
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(v))
		if err != nil {
			return "", false
		}

		return hex.EncodeToString(b), true
	}

	return "", false
}
