package metainfo_test

import (
	"testing"

	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	singleFileInfo = "d6:lengthi5e4:name8:test.txt12:piece lengthi16384e6:pieces20:AAAAAAAAAAAAAAAAAAAAe"
	singleFileHash = "a8100f6a4785d8d1f8f9e703fec7c207b396d471"

	multiFileInfo = "d5:filesld6:lengthi3e4:pathl5:a.txteed6:lengthi7e4:pathl3:sub5:b.txteee" +
		"4:name3:dir12:piece lengthi16384e6:pieces20:BBBBBBBBBBBBBBBBBBBBe"
	multiFileHash = "61685a76926aadc189d7788dbfed8c3d51505d92"
)

func torrentFile(info string) []byte {
	return []byte("d8:announce18:http://tracker/ann4:info" + info + "e")
}

func TestInfoHash(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"single file", torrentFile(singleFileInfo), singleFileHash},
		{"multi file", torrentFile(multiFileInfo), multiFileHash},
		{"info only", []byte("d4:info" + singleFileInfo + "e"), singleFileHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := metainfo.InfoHash(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInfoHash_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"not bencode", []byte("<html>not found</html>")},
		{"truncated", []byte("d4:info")},
		{"root is a list", []byte("l4:infoe")},
		{"missing info", []byte("d8:announce3:urle")},
		{"info is not a dictionary", []byte("d4:info4:spame")},
		{"trailing garbage", append(torrentFile(singleFileInfo), []byte("<html>")...)},
		{"two documents", append(torrentFile(singleFileInfo), torrentFile(singleFileInfo)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metainfo.InfoHash(tt.raw)

			var malformed *torrent.MalformedMetadataError
			require.ErrorAs(t, err, &malformed)
		})
	}
}

func TestInfoHash_StableUnderReencoding(t *testing.T) {
	for _, raw := range [][]byte{torrentFile(singleFileInfo), torrentFile(multiFileInfo)} {
		want, err := metainfo.InfoHash(raw)
		require.NoError(t, err)

		reencoded, err := metainfo.Reencode(raw)
		require.NoError(t, err)

		got, err := metainfo.InfoHash(reencoded)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		twice, err := metainfo.Reencode(reencoded)
		require.NoError(t, err)
		assert.Equal(t, reencoded, twice)
	}
}

func TestParse(t *testing.T) {
	mi, err := metainfo.Parse(torrentFile(multiFileInfo))
	require.NoError(t, err)

	assert.Equal(t, multiFileHash, mi.InfoHash)
	assert.Equal(t, "dir", mi.Name)
	assert.Equal(t, int64(10), mi.Size)
	assert.Equal(t, []metainfo.File{
		{Path: "dir/a.txt", Length: 3},
		{Path: "dir/sub/b.txt", Length: 7},
	}, mi.Files)

	mi, err = metainfo.Parse(torrentFile(singleFileInfo))
	require.NoError(t, err)
	assert.Equal(t, "test.txt", mi.Name)
	assert.Equal(t, int64(5), mi.Size)
}

func TestParseMagnet(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		wantHash string
		wantName string
	}{
		{
			name:     "hex",
			uri:      "magnet:?xt=urn:btih:DA39A3EE5E6B4B0D3255BFEF95601890AFD80709&dn=Some+Show",
			wantHash: "da39a3ee5e6b4b0d3255bfef95601890afd80709",
			wantName: "Some Show",
		},
		{
			name:     "base32",
			uri:      "magnet:?xt=urn:btih:3I42H3S6NNFQ2MSVX7XZKYAYSCX5QBYJ",
			wantHash: "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		},
		{
			name:     "multiple topics",
			uri:      "magnet:?xt=urn:sha1:abc&xt=urn:btih:" + singleFileHash,
			wantHash: singleFileHash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := metainfo.ParseMagnet(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHash, m.InfoHash)
			assert.Equal(t, tt.wantName, m.Name)
		})
	}
}

func TestParseMagnet_Invalid(t *testing.T) {
	for _, uri := range []string{
		"http://example.com/file.torrent",
		"magnet:?dn=nohash",
		"magnet:?xt=urn:btih:xyz",
		"magnet:?xt=urn:btih:zz39a3ee5e6b4b0d3255bfef95601890afd80709",
	} {
		_, err := metainfo.ParseMagnet(uri)

		var malformed *torrent.MalformedMetadataError
		assert.ErrorAs(t, err, &malformed, uri)
	}
}

const sampleNZB = `<?xml version="1.0"?><nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">` +
	`<file poster="a" date="1" subject="s"><groups><group>alt.binaries.test</group></groups>` +
	`<segments><segment bytes="100" number="1">abc@test</segment></segments></file></nzb>`

func TestParseNZB(t *testing.T) {
	n, err := metainfo.ParseNZB([]byte(sampleNZB))
	require.NoError(t, err)

	assert.Equal(t, "012a02c49137b546301fbbee33e61ec0436c0196", n.Hash)
	assert.Equal(t, 1, n.Files)
	assert.Equal(t, int64(100), n.Size)
}

func TestParseNZB_Invalid(t *testing.T) {
	for name, raw := range map[string]string{
		"not xml":    "d4:infod4:name1:aee",
		"no files":   `<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb"></nzb>`,
		"wrong root": `<html><file/></html>`,
	} {
		_, err := metainfo.ParseNZB([]byte(raw))

		var malformed *torrent.MalformedMetadataError
		assert.ErrorAs(t, err, &malformed, name)
	}
}
