package booru

import (
	"path"
	"strconv"
)

// Post is one entry of the Gelbooru post listing. It is immutable once
// decoded; the scheduler consumes it by value.
type Post struct {
	// ID is the numeric post id.
	ID uint64 `json:"id"`
	// MD5 is the lowercase hex MD5 of the file contents.
	MD5 string `json:"md5"`
	// FileURL is the direct download URL of the media file.
	FileURL string `json:"file_url"`
	// Tags is the space-separated tag list assigned by the booru.
	Tags string `json:"tags"`
	// Image is the original file name on the host, used only for its extension.
	Image string `json:"image"`
}

// Filename returns the stable local name for the post: the id plus the
// original file extension. "12345" + "cafe.jpg" -> "12345.jpg". Deriving the
// name from the id keeps local names collision free regardless of what the
// uploader called the file.
func (p Post) Filename() string {
	return strconv.FormatUint(p.ID, 10) + path.Ext(p.Image)
}
