package metainfo

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"

	"github.com/italolelis/mediamanager/internal/torrent"
)

type nzbDocument struct {
	XMLName xml.Name  `xml:"nzb"`
	Files   []nzbFile `xml:"file"`
}

type nzbFile struct {
	Subject  string       `xml:"subject,attr"`
	Segments []nzbSegment `xml:"segments>segment"`
}

type nzbSegment struct {
	Bytes int64 `xml:"bytes,attr"`
}

// NZB summarises a newsgroup job document.
type NZB struct {
	Hash  string
	Files int
	Size  int64
}

// ParseNZB validates an NZB document and fingerprints it. NZB files carry no
// canonical identity, so the fingerprint is SHA-1 over the raw bytes.
func ParseNZB(raw []byte) (*NZB, error) {
	var doc nzbDocument
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&doc); err != nil {
		return nil, &torrent.MalformedMetadataError{
			Reason: fmt.Sprintf("invalid nzb document: %v", err),
			Err:    err,
		}
	}

	if len(doc.Files) == 0 {
		return nil, &torrent.MalformedMetadataError{Reason: "nzb document lists no files"}
	}

	n := &NZB{Files: len(doc.Files)}

	for _, f := range doc.Files {
		for _, s := range f.Segments {
			n.Size += s.Bytes
		}
	}

	sum := sha1.Sum(raw)
	n.Hash = hex.EncodeToString(sum[:])

	return n, nil
}
