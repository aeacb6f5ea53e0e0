// Package metainfo derives content fingerprints from job metadata.
//
// Torrent fingerprints follow the BitTorrent info-hash convention: SHA-1 over the
// canonical bencoding of the info dictionary, rendered as lowercase hex. Backends
// compute the same value, so it is the only key shared with them.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/italolelis/mediamanager/internal/torrent"
	"github.com/zeebo/bencode"
)

// MetaInfo is the subset of a .torrent file the engine cares about.
type MetaInfo struct {
	InfoHash string
	Name     string
	Size     int64
	Files    []File
}

// File is a single payload entry of a torrent.
type File struct {
	Path   string
	Length int64
}

// InfoHash returns the fingerprint of raw .torrent bytes.
func InfoHash(raw []byte) (string, error) {
	info, err := decodeInfo(raw)
	if err != nil {
		return "", err
	}

	return hashInfo(info)
}

// Parse decodes raw .torrent bytes and derives the fingerprint alongside the
// descriptive fields.
func Parse(raw []byte) (*MetaInfo, error) {
	info, err := decodeInfo(raw)
	if err != nil {
		return nil, err
	}

	hash, err := hashInfo(info)
	if err != nil {
		return nil, err
	}

	mi := &MetaInfo{InfoHash: hash}
	mi.Name, _ = info["name"].(string)

	if length, ok := info["length"].(int64); ok {
		mi.Size = length
		mi.Files = []File{{Path: mi.Name, Length: length}}

		return mi, nil
	}

	files, _ := info["files"].([]interface{})
	for _, f := range files {
		entry, ok := f.(map[string]interface{})
		if !ok {
			continue
		}

		length, _ := entry["length"].(int64)
		mi.Size += length
		mi.Files = append(mi.Files, File{Path: joinPath(mi.Name, entry["path"]), Length: length})
	}

	return mi, nil
}

// Reencode returns the canonical bencoding of raw. Equivalent structures encode to
// identical bytes.
func Reencode(raw []byte) ([]byte, error) {
	v, err := decode(raw)
	if err != nil {
		return nil, err
	}

	return bencode.EncodeBytes(v)
}

// decode reads exactly one bencoded value. Bytes after it mean a truncated
// concatenation or a corrupt download, so they are rejected.
func decode(raw []byte) (interface{}, error) {
	dec := bencode.NewDecoder(bytes.NewReader(raw))

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, &torrent.MalformedMetadataError{
			Reason: fmt.Sprintf("invalid bencode structure: %v", err),
			Err:    err,
		}
	}

	var extra interface{}
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, &torrent.MalformedMetadataError{Reason: "trailing data after bencoded value"}
	}

	return v, nil
}

func decodeInfo(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, &torrent.MalformedMetadataError{Reason: "empty metadata"}
	}

	v, err := decode(raw)
	if err != nil {
		return nil, err
	}

	root, ok := v.(map[string]interface{})
	if !ok {
		return nil, &torrent.MalformedMetadataError{Reason: "bencode root must be a dictionary"}
	}

	rawInfo, hasInfo := root["info"]
	if !hasInfo {
		return nil, &torrent.MalformedMetadataError{Reason: "missing required 'info' dictionary"}
	}

	info, ok := rawInfo.(map[string]interface{})
	if !ok {
		return nil, &torrent.MalformedMetadataError{Reason: "'info' must be a dictionary"}
	}

	return info, nil
}

func hashInfo(info map[string]interface{}) (string, error) {
	encoded, err := bencode.EncodeBytes(info)
	if err != nil {
		return "", &torrent.MalformedMetadataError{Reason: "failed to re-encode info dictionary", Err: err}
	}

	sum := sha1.Sum(encoded)

	return hex.EncodeToString(sum[:]), nil
}

func joinPath(base string, parts interface{}) string {
	path := base

	list, _ := parts.([]interface{})
	for _, p := range list {
		if s, ok := p.(string); ok {
			path += "/" + s
		}
	}

	return path
}
