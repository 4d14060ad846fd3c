package data

// DownloaderName tags a downloader backend.
type DownloaderName string

const (
	QBittorrent  DownloaderName = "qbittorrent"
	Transmission DownloaderName = "transmission"
)

// DownloaderPriority is the fixed order the manager walks when picking the
// active backend.
var DownloaderPriority = []DownloaderName{QBittorrent, Transmission}

func (n DownloaderName) Valid() bool {
	return n == QBittorrent || n == Transmission
}

type TorrentStatus string

const (
	TorrentDownloading TorrentStatus = "downloading"
	TorrentSeeding     TorrentStatus = "seeding"
	TorrentPaused      TorrentStatus = "paused"
	TorrentChecking    TorrentStatus = "checking"
	TorrentError       TorrentStatus = "error"
	TorrentStalled     TorrentStatus = "stalled"
)

// Torrent is the backend-independent view of a live torrent.
type Torrent struct {
	Hash          string        `json:"hash"`
	Name          string        `json:"name"`
	Size          int64         `json:"size"`
	Progress      float64       `json:"progress"`
	Status        TorrentStatus `json:"status"`
	DownloadSpeed int64         `json:"downloadSpeed"`
	UploadSpeed   int64         `json:"uploadSpeed"`
	ETA           int64         `json:"eta"`
	SavePath      string        `json:"savePath"`
	ContentPath   string        `json:"contentPath"`
}

// Complete reports whether the client finished downloading the payload.
func (t Torrent) Complete() bool {
	return t.Progress >= 1 || t.Status == TorrentSeeding
}

type TransferStats struct {
	DownloadSpeed   int64 `json:"downloadSpeed"`
	UploadSpeed     int64 `json:"uploadSpeed"`
	TotalDownloaded int64 `json:"totalDownloaded"`
	TotalUploaded   int64 `json:"totalUploaded"`
}
