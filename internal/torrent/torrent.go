package torrent

import "strings"

// Protocol identifies the family of backends able to acquire a job.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// Quality is the declared quality tag of a release.
type Quality string

const (
	QualityUHD     Quality = "uhd"
	QualityFullHD  Quality = "fullhd"
	QualityHD      Quality = "hd"
	QualitySD      Quality = "sd"
	QualityUnknown Quality = "unknown"
)

// ParseQuality maps a free-form tag to a known quality, defaulting to QualityUnknown.
func ParseQuality(s string) Quality {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityUHD, QualityFullHD, QualityHD, QualitySD:
		return q
	}

	return QualityUnknown
}

// Job describes content a caller wants acquired. It is immutable once submitted.
type Job struct {
	Title       string
	DownloadURL string
	Quality     Quality
	Protocol    Protocol
}

// Torrent is the working representation of one acquisition job.
//
// Hash is derived from the job content and is the only identifier shared with the
// backend. Imported is owned by downstream collaborators and never set here.
type Torrent struct {
	Hash     string  `json:"hash"`
	Title    string  `json:"title"`
	Quality  Quality `json:"quality"`
	Status   Status  `json:"status"`
	Imported bool    `json:"imported"`
	Usenet   bool    `json:"usenet"`
}

// New returns the entity for a job whose fingerprint has just been derived.
func New(job Job, hash string) *Torrent {
	q := job.Quality
	if q == "" {
		q = QualityUnknown
	}

	return &Torrent{
		Hash:    hash,
		Title:   job.Title,
		Quality: q,
		Status:  StatusUnknown,
		Usenet:  job.Protocol == ProtocolUsenet,
	}
}

// Protocol reports which family of backends owns the torrent.
func (t *Torrent) Protocol() Protocol {
	if t.Usenet {
		return ProtocolUsenet
	}

	return ProtocolTorrent
}
